package blob

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const testHash = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutGet(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put(testHash, []byte("d8:announce0:e")))

	data, err := store.Get(testHash)
	require.NoError(t, err)
	require.Equal(t, []byte("d8:announce0:e"), data)

	has, err := store.Has(testHash)
	require.NoError(t, err)
	require.True(t, has)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Get(testHash)
	require.ErrorIs(t, err, ErrNotFound)

	has, err := store.Has(testHash)
	require.NoError(t, err)
	require.False(t, has)
}

func TestPutRejectsBadHash(t *testing.T) {
	store := newTestStore(t)
	require.Error(t, store.Put("AAAA", []byte("x")))
}

func TestExportImportRoundTrip(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Put(testHash, []byte("payload")))

	fs := afero.NewMemMapFs()
	exported, err := store.Export(fs, "backup")
	require.NoError(t, err)
	require.Equal(t, 1, exported)

	other := newTestStore(t)
	require.NoError(t, afero.WriteFile(fs, "backup/not-a-hash.torrent", []byte("junk"), 0o644))
	imported, err := other.Import(fs, "backup")
	require.NoError(t, err)
	require.Equal(t, 1, imported)

	data, err := other.Get(testHash)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), data)
}
