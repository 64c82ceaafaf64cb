package authn

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempCache(t *testing.T) *FileTokenCache {
	t.Helper()
	return NewFileTokenCache(filepath.Join(t.TempDir(), "token"))
}

func TestFileTokenCacheRoundTrip(t *testing.T) {
	cache := tempCache(t)

	_, err := cache.Load()
	assert.ErrorIs(t, err, ErrNoToken, "empty cache has no token")

	require.NoError(t, cache.Store("tok-abc"))
	token, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", token)

	cache.Delete()
	_, err = cache.Load()
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestFileTokenCacheTrimsWhitespace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(path, []byte("  tok-abc\n"), 0o600))

	token, err := NewFileTokenCache(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-abc", token)
}

func TestFileTokenCacheStorePermissions(t *testing.T) {
	cache := tempCache(t)
	require.NoError(t, cache.Store("tok-abc"))

	info, err := os.Stat(cache.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm(), "token file is owner-only")
}

func TestCachedProviderServesCacheFirst(t *testing.T) {
	cache := tempCache(t)
	require.NoError(t, cache.Store("cached"))

	p := NewCachedProvider(cache, &stubProvider{token: "from-inner"})
	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cached", token)
}

func TestCachedProviderFallsBackAndStores(t *testing.T) {
	cache := tempCache(t)
	p := NewCachedProvider(cache, &stubProvider{token: "from-inner"})

	token, err := p.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "from-inner", token)

	cached, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "from-inner", cached, "the inner provider's token is written back")
}

func TestCachedProviderCacheOnly(t *testing.T) {
	p := NewCachedProvider(tempCache(t), nil)

	_, err := p.Token(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)

	_, err = p.Refresh(context.Background(), "whatever")
	assert.ErrorIs(t, err, ErrRefreshUnavailable)
}

func TestCachedProviderRefreshDeletesRejectedToken(t *testing.T) {
	cache := tempCache(t)
	require.NoError(t, cache.Store("rejected"))

	p := NewCachedProvider(cache, &stubProvider{refreshed: "fresh"})
	token, err := p.Refresh(context.Background(), "rejected")
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)

	cached, err := cache.Load()
	require.NoError(t, err)
	assert.Equal(t, "fresh", cached, "the replacement overwrites the rejected token")
}

func TestCachedProviderRefreshFailureLeavesNoStaleCache(t *testing.T) {
	cache := tempCache(t)
	require.NoError(t, cache.Store("rejected"))

	p := NewCachedProvider(cache, &stubProvider{refreshErr: ErrNoToken})
	_, err := p.Refresh(context.Background(), "rejected")
	require.Error(t, err)

	_, err = cache.Load()
	assert.ErrorIs(t, err, ErrNoToken, "the rejected token is gone even when refresh fails")
}
