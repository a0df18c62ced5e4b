package jwk

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// maxSetSize bounds the body read by FetchSet.
const maxSetSize = 1 << 20

// FetchSet fetches a JWK set from the given URL and HTTP client.
func FetchSet(ctx context.Context, url string, client *http.Client) (Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Set{}, fmt.Errorf("failed to create JWK set request: %w", err)
	}
	req.Header.Set("Accept", "application/jwk-set+json, application/json")

	resp, err := client.Do(req)
	if err != nil {
		return Set{}, fmt.Errorf("failed to fetch JWK set: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Set{}, fmt.Errorf("failed to fetch JWK set: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSetSize))
	if err != nil {
		return Set{}, fmt.Errorf("failed to read JWK set: %w", err)
	}

	set, err := ParseSet(body)
	if err != nil {
		return Set{}, fmt.Errorf("failed to decode JWK set: %w", err)
	}

	err = set.Validate()
	if err != nil {
		return Set{}, fmt.Errorf("failed to validate JWK set: %w", err)
	}

	return set, nil
}

// URLSetCache is a cache of JWK sets keyed by URL, used to find the
// keys referenced by a "jku" header. It handles refreshing the JWK sets
// when they expire, and caches them for a configurable amount of time.
type URLSetCache struct {
	mutex sync.RWMutex

	// sets is a map of JWK sets keyed by URL.
	sets map[string]Set

	// cacheTimes is a map of JWK set expiry times keyed by URL.
	cacheTimes map[string]time.Time

	// client is the HTTP client used to fetch JWK sets.
	client *http.Client

	// refreshInterval is the amount of time between refreshing JWK sets.
	refreshInterval time.Duration

	// cacheDuration is the amount of time to cache JWK sets.
	cacheDuration time.Duration

	logger *zap.Logger
	now    func() time.Time
}

// CacheOption configures a URLSetCache.
type CacheOption func(*URLSetCache)

// WithCacheLogger sets the logger used to report fetches and refresh failures.
func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(c *URLSetCache) {
		c.logger = logger
	}
}

// WithCacheClock replaces the clock used to expire cached sets.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(c *URLSetCache) {
		c.now = now
	}
}

// NewURLSetCache returns a new JWK set cache.
func NewURLSetCache(client *http.Client, refreshInterval, cacheDuration time.Duration, opts ...CacheOption) *URLSetCache {
	if client == nil {
		client = http.DefaultClient
	}

	c := &URLSetCache{
		sets:            make(map[string]Set),
		cacheTimes:      make(map[string]time.Time),
		client:          client,
		refreshInterval: refreshInterval,
		cacheDuration:   cacheDuration,
		logger:          zap.NewNop(),
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get returns the JWK set for the given URL, fetching it if it is not
// already cached or the cached copy has expired.
func (c *URLSetCache) Get(ctx context.Context, url string) (Set, error) {
	c.mutex.RLock()
	set, cached := c.sets[url]
	expiry := c.cacheTimes[url]
	c.mutex.RUnlock()

	if !cached || c.now().After(expiry) {
		return c.Fetch(ctx, url)
	}
	return set, nil
}

// GetKey returns the first key from the JWK set for the given URL that
// matches the given key id, fetching the JWK set if needed.
func (c *URLSetCache) GetKey(ctx context.Context, url string, keyID string) (JWK, error) {
	set, err := c.Get(ctx, url)
	if err != nil {
		return JWK{}, err
	}

	key, err := set.KeyByID(keyID)
	if err != nil {
		return JWK{}, fmt.Errorf("failed to get key %q from JWK set: %w", keyID, err)
	}

	return key, nil
}

// Range iterates over the JWK sets in the cache, calling the given function
// for each URL and key. If the function returns false, the iteration will stop.
func (c *URLSetCache) Range(fn func(url string, key JWK) bool) {
	if fn == nil || c == nil {
		return
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for url, set := range c.sets {
		for _, key := range set.keys {
			if !fn(url, key) {
				return
			}
		}
	}
}

// Fetch fetches the JWK set for the given URL and caches it.
func (c *URLSetCache) Fetch(ctx context.Context, url string) (Set, error) {
	set, err := FetchSet(ctx, url, c.client)
	if err != nil {
		c.logger.Warn("failed to fetch JWK set", zap.String("url", url), zap.Error(err))
		return Set{}, err
	}

	c.mutex.Lock()
	c.sets[url] = set
	c.cacheTimes[url] = c.now().Add(c.cacheDuration)
	c.mutex.Unlock()

	c.logger.Debug("fetched JWK set", zap.String("url", url), zap.Int("keys", set.Len()))

	return set, nil
}

// Refresh refreshes the JWK set for the given URL.
func (c *URLSetCache) Refresh(ctx context.Context, url string) (Set, error) {
	return c.Fetch(ctx, url)
}

// RefreshAll refreshes all JWK sets in the cache.
func (c *URLSetCache) RefreshAll(ctx context.Context) error {
	c.mutex.RLock()
	urls := make([]string, 0, len(c.sets))
	for url := range c.sets {
		urls = append(urls, url)
	}
	c.mutex.RUnlock()

	for _, url := range urls {
		if _, err := c.Refresh(ctx, url); err != nil {
			return fmt.Errorf("failed to refresh JWK set for %q: %w", url, err)
		}
	}
	return nil
}

// Start refreshes the JWK sets at the configured interval. It blocks until
// the context is canceled, and only returns an error if a refresh fails.
//
// Most callers will want to call this in a goroutine after creating the cache.
func (c *URLSetCache) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			err := c.RefreshAll(ctx)
			if err != nil {
				return fmt.Errorf("failed to refresh JWK sets: %w", err)
			}
		}
	}
}
