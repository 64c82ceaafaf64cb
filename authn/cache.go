package authn

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// FileTokenCache reads and writes the single cached bearer token at a fixed
// well-known path. The cached value is advisory: it is always subject to
// being rejected upstream and replaced through a refresh.
type FileTokenCache struct {
	path string
}

// DefaultTokenPath returns ~/.tvdatafeed/token, the conventional cache
// location.
func DefaultTokenPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".tvdatafeed", "token")
}

// NewFileTokenCache creates a cache at path, or at DefaultTokenPath when
// path is empty.
func NewFileTokenCache(path string) *FileTokenCache {
	if path == "" {
		path = DefaultTokenPath()
	}
	return &FileTokenCache{path: path}
}

func (c *FileTokenCache) Load() (string, error) {
	if c.path == "" {
		return "", ErrNoToken
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return "", ErrNoToken
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

func (c *FileTokenCache) Store(token string) error {
	if c.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(c.path, []byte(token), 0o600)
}

func (c *FileTokenCache) Delete() {
	if c.path != "" {
		os.Remove(c.path)
	}
}

// CachedProvider serves tokens from a FileTokenCache, falling back to an
// inner provider when the cache is empty. On refresh the cached token is
// deleted first, since the upstream has just declared it invalid, and the
// inner provider's replacement is written back.
type CachedProvider struct {
	cache *FileTokenCache
	inner TokenProvider // may be nil: cache-only
}

var _ TokenProvider = (*CachedProvider)(nil)

func NewCachedProvider(cache *FileTokenCache, inner TokenProvider) *CachedProvider {
	return &CachedProvider{cache: cache, inner: inner}
}

func (p *CachedProvider) Token(ctx context.Context) (string, error) {
	if token, err := p.cache.Load(); err == nil {
		return token, nil
	}
	if p.inner == nil {
		return "", ErrNoToken
	}
	token, err := p.inner.Token(ctx)
	if err != nil {
		return "", err
	}
	if err := p.cache.Store(token); err != nil {
		return token, nil // a failed cache write is not a token failure
	}
	return token, nil
}

// Plan reports the inner provider's tier, if it learned one.
func (p *CachedProvider) Plan() string {
	if r, ok := p.inner.(PlanReporter); ok {
		return r.Plan()
	}
	return ""
}

func (p *CachedProvider) Refresh(ctx context.Context, rejected string) (string, error) {
	p.cache.Delete()
	if p.inner == nil {
		return "", ErrRefreshUnavailable
	}
	token, err := p.inner.Refresh(ctx, rejected)
	if err != nil {
		return "", err
	}
	p.cache.Store(token)
	return token, nil
}
