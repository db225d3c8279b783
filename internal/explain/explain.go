// Package explain serves entitlement explanations: the display name,
// description, and classifications of a catalog value. Lookups are
// cached in-process, with an optional shared Redis level, and the
// whole cache is invalidated when the catalog watermark moves.
package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"warden/internal/explain/metrics"
	"warden/internal/platform/redis"
)

// PermissionAttribute is the pseudo attribute name permission
// explanations are filed under.
const PermissionAttribute = "*permissions*"

// Entry is one cached explanation.
type Entry struct {
	DisplayName     string   `json:"displayName"`
	Description     string   `json:"description,omitempty"`
	Classifications []string `json:"classifications,omitempty"`
}

// Source is the catalog slice the cache reads through to.
type Source interface {
	// Baseline returns the newest created-or-modified time in the
	// catalog, nil when the catalog is empty.
	Baseline(ctx context.Context) (*time.Time, error)
	// Explain resolves one value; nil when the catalog has no entry.
	Explain(ctx context.Context, application, attribute, value string) (*Entry, error)
}

// Cache is the explanation cache service. It is passed by reference
// to whoever needs explanations; there is no package-global instance.
type Cache struct {
	source  Source
	local   *gocache.Cache
	shared  *redis.Client
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	baseline *time.Time
	locked   bool
}

// Option configures the Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithShared adds a Redis level consulted between the local cache and
// the catalog. Nil clients are ignored.
func WithShared(client *redis.Client) Option {
	return func(c *Cache) { c.shared = client }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithTTL overrides the local entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.local = gocache.New(ttl, ttl) }
}

// New creates an explanation cache over a catalog source.
func New(source Source, opts ...Option) *Cache {
	c := &Cache{
		source: source,
		local:  gocache.New(time.Hour, 10*time.Minute),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get resolves the explanation for one attribute value, nil when the
// catalog does not know it.
func (c *Cache) Get(ctx context.Context, application, attribute, value string) (*Entry, error) {
	if err := c.CheckRefresh(ctx); err != nil {
		return nil, err
	}
	ck := cacheKey(application, attribute, value)
	if cached, ok := c.local.Get(ck); ok {
		c.hit()
		if cached == nil {
			return nil, nil
		}
		return cached.(*Entry), nil
	}
	if entry, ok := c.fromShared(ctx, ck); ok {
		c.hit()
		c.local.SetDefault(ck, entry)
		return entry, nil
	}
	c.miss()
	entry, err := c.source.Explain(ctx, application, attribute, value)
	if err != nil {
		return nil, fmt.Errorf("explain %s/%s: %w", application, attribute, err)
	}
	c.local.SetDefault(ck, entry)
	c.toShared(ctx, ck, entry)
	return entry, nil
}

// GetPermission resolves the explanation of a permission target.
func (c *Cache) GetPermission(ctx context.Context, application, target string) (*Entry, error) {
	return c.Get(ctx, application, PermissionAttribute, target)
}

// CheckRefresh drops every cached entry when the catalog moved past
// the baseline. Locked caches skip the check entirely.
func (c *Cache) CheckRefresh(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locked {
		return nil
	}
	latest, err := c.source.Baseline(ctx)
	if err != nil {
		return fmt.Errorf("catalog baseline: %w", err)
	}
	switch {
	case latest == nil:
		// Empty catalog: nothing to serve, remember when we looked.
		now := time.Now()
		c.resetLocked()
		c.baseline = &now
	case c.baseline == nil:
		c.baseline = latest
	case latest.After(*c.baseline):
		c.logger.Debug("catalog moved, resetting explanation cache",
			"baseline", c.baseline, "latest", latest)
		c.resetLocked()
		c.baseline = latest
		if c.metrics != nil {
			c.metrics.Refreshed()
		}
	}
	return nil
}

// Refresh forces a full reload on the next lookup.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.resetLocked()
	c.baseline = nil
	c.mu.Unlock()
	return c.CheckRefresh(ctx)
}

// Reset drops all cached entries without touching the baseline.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
}

// SetLocked freezes the cache contents; refresh checks become no-ops
// until unlocked. Long certification passes lock the cache so every
// item sees the same catalog.
func (c *Cache) SetLocked(locked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.locked = locked
}

func (c *Cache) resetLocked() {
	c.local.Flush()
}

func (c *Cache) fromShared(ctx context.Context, ck string) (*Entry, bool) {
	if c.shared == nil {
		return nil, false
	}
	raw, err := c.shared.Client.Get(ctx, "explain:"+ck).Bytes()
	if err != nil {
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		c.logger.Warn("bad shared explanation entry, ignoring", "key", ck, "error", err)
		return nil, false
	}
	return &entry, true
}

func (c *Cache) toShared(ctx context.Context, ck string, entry *Entry) {
	if c.shared == nil || entry == nil {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.shared.Client.Set(ctx, "explain:"+ck, raw, time.Hour).Err(); err != nil {
		c.logger.Warn("shared explanation write failed", "key", ck, "error", err)
	}
}

func (c *Cache) hit() {
	if c.metrics != nil {
		c.metrics.Hit()
	}
}

func (c *Cache) miss() {
	if c.metrics != nil {
		c.metrics.Miss()
	}
}

func cacheKey(application, attribute, value string) string {
	return strings.Join([]string{application, attribute, value}, "\x1f")
}
