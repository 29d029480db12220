package registry

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/doingodswork/streamfusion/pkg/provider"
)

func TestNewKnownServices(t *testing.T) {
	for _, service := range Services() {
		resolver, err := New(service, provider.Options{})
		require.NoError(t, err, service)
		require.Equal(t, service, resolver.Name())
	}
}

func TestNewUnknownService(t *testing.T) {
	_, err := New("flowstream", provider.Options{})
	var unknownErr *UnknownServiceError
	require.True(t, errors.As(err, &unknownErr))
	require.Equal(t, "flowstream", unknownErr.Service)
}
