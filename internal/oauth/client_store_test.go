package oauth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence-mcp/internal/crypto"
)

func testClient(id string) *Client {
	return &Client{
		ClientID:                id,
		ClientName:              "Test " + id,
		RedirectURIs:            []string{"https://example.com/cb"},
		GrantTypes:              []string{"authorization_code"},
		ResponseTypes:           []string{"code"},
		TokenEndpointAuthMethod: "none",
		ClientIDIssuedAt:        time.Now().Truncate(time.Second),
	}
}

func TestMemoryClientStore(t *testing.T) {
	t.Parallel()

	store := NewMemoryClientStore()
	defer store.Close()

	got, err := store.Get("client_x")
	require.NoError(t, err)
	assert.Nil(t, got, "unknown client is nil, not an error")

	require.NoError(t, store.Save(testClient("client_x")))

	got, err = store.Get("client_x")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Test client_x", got.ClientName)

	// The store hands out copies.
	got.ClientName = "mutated"
	again, err := store.Get("client_x")
	require.NoError(t, err)
	assert.Equal(t, "Test client_x", again.ClientName)

	list, err := store.List()
	require.NoError(t, err)
	assert.Len(t, list, 1)

	deleted, err := store.Delete("client_x")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete("client_x")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestFileClientStore_PersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	enc, err := crypto.NewEncryptionService("test-passphrase")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "clients.enc")

	store, err := NewFileClientStore(enc, path)
	require.NoError(t, err)
	require.NoError(t, store.Save(testClient("client_a")))
	require.NoError(t, store.Save(testClient("client_b")))

	deleted, err := store.Delete("client_b")
	require.NoError(t, err)
	require.True(t, deleted)
	require.NoError(t, store.Close())

	reopened, err := NewFileClientStore(enc, path)
	require.NoError(t, err)

	got, err := reopened.Get("client_a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Test client_a", got.ClientName)
	assert.Equal(t, []string{"https://example.com/cb"}, got.RedirectURIs)

	gone, err := reopened.Get("client_b")
	require.NoError(t, err)
	assert.Nil(t, gone, "deletes survive the restart too")
}

func TestFileClientStore_MissingFileStartsEmpty(t *testing.T) {
	t.Parallel()

	enc, err := crypto.NewEncryptionService("test-passphrase")
	require.NoError(t, err)

	store, err := NewFileClientStore(enc, filepath.Join(t.TempDir(), "never-written.enc"))
	require.NoError(t, err)

	list, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFileClientStore_CorruptFileIsStartupError(t *testing.T) {
	t.Parallel()

	enc, err := crypto.NewEncryptionService("test-passphrase")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "clients.enc")
	require.NoError(t, os.WriteFile(path, []byte("not an encrypted snapshot"), 0o600))

	_, err = NewFileClientStore(enc, path)
	assert.Error(t, err, "silently dropping registrations would strand clients")
}

func TestFileClientStore_WrongPassphraseIsStartupError(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clients.enc")

	enc, err := crypto.NewEncryptionService("right")
	require.NoError(t, err)
	store, err := NewFileClientStore(enc, path)
	require.NoError(t, err)
	require.NoError(t, store.Save(testClient("client_a")))

	wrong, err := crypto.NewEncryptionService("wrong")
	require.NoError(t, err)
	_, err = NewFileClientStore(wrong, path)
	assert.Error(t, err)
}
