package userdata

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	key := DeriveKey("test-secret")
	ud := UserData{
		Providers: []StreamingProvider{
			{Name: "RD", Service: "realdebrid", Token: "abc123", UseMediaFlow: true},
			{Name: "SAB", Service: "sabnzbd", URL: "http://localhost:8080", Token: "apikey"},
		},
		MediaFlow:           &MediaFlowConfig{ProxyURL: "https://mf.example.com", APIPassword: "pw"},
		EnableUsenetStreams: true,
		CategoryOrder:       []string{"usenet", "torrent"},
		StreamGrouping:      GroupingMixed,
		MaxStreams:          25,
		UserID:              "u-1",
	}

	encoded, err := Encode(ud, key)
	require.NoError(t, err)
	require.NotEmpty(t, encoded)

	decoded, err := Decode(encoded, key)
	require.NoError(t, err)
	if diff := cmp.Diff(ud, decoded); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	key := DeriveKey("test-secret")

	_, err := Decode("not!!valid@@base64", key)
	require.Error(t, err)

	_, err = Decode("dG9vc2hvcnQ", key)
	require.Error(t, err)

	// A valid envelope under a different key must not decode.
	encoded, err := Encode(UserData{UserID: "u-1"}, key)
	require.NoError(t, err)
	_, err = Decode(encoded, DeriveKey("other-secret"))
	require.Error(t, err)
}

func TestDecodeToleratesPadding(t *testing.T) {
	key := DeriveKey("test-secret")
	encoded, err := Encode(UserData{UserID: "u-2"}, key)
	require.NoError(t, err)

	decoded, err := Decode(encoded+"==", key)
	require.NoError(t, err)
	require.Equal(t, "u-2", decoded.UserID)
}

func TestProviderSelection(t *testing.T) {
	ud := UserData{Providers: []StreamingProvider{
		{Service: "alldebrid"},
		{Service: "easynews"},
	}}

	require.Equal(t, "alldebrid", ud.PrimaryProvider().Service)
	require.NotNil(t, ud.ProviderByService("easynews"))
	require.Nil(t, ud.ProviderByService("torbox"))
	require.True(t, ud.HasUsenetProvider())
	require.False(t, UserData{}.HasUsenetProvider())
}
