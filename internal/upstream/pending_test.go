package upstream

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadencehq/cadence-mcp/internal/crypto"
	"github.com/cadencehq/cadence-mcp/internal/pkce"
)

func newTestEnc(t *testing.T) *crypto.EncryptionService {
	t.Helper()
	enc, err := crypto.NewEncryptionService("test-passphrase")
	require.NoError(t, err)
	return enc
}

func newTestPendingStore(t *testing.T, ttl time.Duration) (*PendingAuthStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pending.enc")
	store := NewPendingAuthStore(newTestEnc(t), path, ttl)
	t.Cleanup(store.Close)
	return store, path
}

func TestPendingCreate(t *testing.T) {
	t.Parallel()

	store, _ := newTestPendingStore(t, 0)

	result, err := store.Create("https://auth.example.com/callback", "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, result.State)
	require.NoError(t, pkce.ValidateVerifier(result.CodeVerifier))
	assert.Equal(t, pkce.ChallengeFromVerifier(result.CodeVerifier), result.CodeChallenge)

	entry := store.FindByState(result.State)
	require.NotNil(t, entry)
	assert.Equal(t, result.CodeVerifier, entry.CodeVerifier)
	assert.Equal(t, "https://auth.example.com/callback", entry.RedirectURI)
	assert.Equal(t, "user-1", entry.UserID)
	assert.WithinDuration(t, time.Now().Add(DefaultPendingTTL), entry.ExpiresAt, time.Minute)
}

func TestPendingCreate_UniqueStateAndVerifier(t *testing.T) {
	t.Parallel()

	store, _ := newTestPendingStore(t, 0)

	first, err := store.Create("https://auth.example.com/callback", "user-1")
	require.NoError(t, err)
	second, err := store.Create("https://auth.example.com/callback", "user-1")
	require.NoError(t, err)

	assert.NotEqual(t, first.State, second.State)
	assert.NotEqual(t, first.CodeVerifier, second.CodeVerifier)
}

func TestPendingFindByState_Unknown(t *testing.T) {
	t.Parallel()

	store, _ := newTestPendingStore(t, 0)
	assert.Nil(t, store.FindByState("no-such-state"))
}

func TestPendingRemove(t *testing.T) {
	t.Parallel()

	store, _ := newTestPendingStore(t, 0)

	result, err := store.Create("https://auth.example.com/callback", "user-1")
	require.NoError(t, err)

	store.Remove(result.State)
	assert.Nil(t, store.FindByState(result.State))
}

func TestPendingExpiry(t *testing.T) {
	t.Parallel()

	store, _ := newTestPendingStore(t, 0)

	result, err := store.Create("https://auth.example.com/callback", "user-1")
	require.NoError(t, err)

	store.mu.Lock()
	store.entries[result.State].ExpiresAt = time.Now().Add(-time.Second)
	store.mu.Unlock()

	assert.Nil(t, store.FindByState(result.State), "expired entries read as absent")

	store.mu.Lock()
	_, stillThere := store.entries[result.State]
	store.mu.Unlock()
	assert.False(t, stillThere, "the lookup deletes what it finds expired")
}

func TestPendingCleanupExpired(t *testing.T) {
	t.Parallel()

	store, _ := newTestPendingStore(t, 0)

	expired, err := store.Create("https://auth.example.com/callback", "user-1")
	require.NoError(t, err)
	live, err := store.Create("https://auth.example.com/callback", "user-2")
	require.NoError(t, err)

	store.mu.Lock()
	store.entries[expired.State].ExpiresAt = time.Now().Add(-time.Second)
	store.mu.Unlock()

	assert.Equal(t, 1, store.CleanupExpired())
	assert.Nil(t, store.FindByState(expired.State))
	assert.NotNil(t, store.FindByState(live.State))

	assert.Equal(t, 0, store.CleanupExpired(), "second pass finds nothing")
}

func TestPendingPersistAndReload(t *testing.T) {
	t.Parallel()

	enc := newTestEnc(t)
	path := filepath.Join(t.TempDir(), "pending.enc")

	store := NewPendingAuthStore(enc, path, 0)
	result, err := store.Create("https://auth.example.com/callback", "user-1")
	require.NoError(t, err)
	require.NoError(t, store.Persist())
	store.Close()

	reloaded := NewPendingAuthStore(enc, path, 0)
	defer reloaded.Close()

	entry := reloaded.FindByState(result.State)
	require.NotNil(t, entry, "in-flight flows survive a restart")
	assert.Equal(t, result.CodeVerifier, entry.CodeVerifier)
	assert.Equal(t, "user-1", entry.UserID)
}

func TestPendingReload_DropsExpiredEntries(t *testing.T) {
	t.Parallel()

	enc := newTestEnc(t)
	path := filepath.Join(t.TempDir(), "pending.enc")

	store := NewPendingAuthStore(enc, path, 0)
	result, err := store.Create("https://auth.example.com/callback", "user-1")
	require.NoError(t, err)

	store.mu.Lock()
	store.entries[result.State].ExpiresAt = time.Now().Add(-time.Second)
	store.mu.Unlock()
	require.NoError(t, store.Persist())
	store.Close()

	reloaded := NewPendingAuthStore(enc, path, 0)
	defer reloaded.Close()
	assert.Nil(t, reloaded.FindByState(result.State))
}

func TestPendingLoad_CorruptFileStartsEmpty(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "pending.enc")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))

	// Unlike the client registry, pending state is disposable: a bad file
	// must not prevent startup.
	store := NewPendingAuthStore(newTestEnc(t), path, 0)
	defer store.Close()
	assert.Nil(t, store.FindByState("anything"))
}

func TestPendingPersistedFileIsEncrypted(t *testing.T) {
	t.Parallel()

	store, path := newTestPendingStore(t, 0)
	result, err := store.Create("https://auth.example.com/callback", "user-1")
	require.NoError(t, err)
	require.NoError(t, store.Persist())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), result.CodeVerifier, "verifier must never hit disk in the clear")
	assert.NotContains(t, string(raw), result.State)
}
