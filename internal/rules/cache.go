package rules

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/colinzhu/limit-monitoring-sub000/internal/models"
)

// Cache holds the in-memory rule map keyed by pts:pe. Every ingestion reads
// it; a refresh replaces the whole map with one atomic swap so readers never
// observe a partially updated cache.
type Cache struct {
	provider     Provider
	refreshEvery time.Duration

	rules       atomic.Value // map[string]models.CalcRule, replaced wholesale
	lastRefresh atomic.Value // time.Time
}

func NewCache(provider Provider, refreshEvery time.Duration) *Cache {
	if refreshEvery <= 0 {
		refreshEvery = 5 * time.Minute
	}
	c := &Cache{
		provider:     provider,
		refreshEvery: refreshEvery,
	}
	c.rules.Store(map[string]models.CalcRule{})
	c.lastRefresh.Store(time.Time{})
	return c
}

// Initialize blocks until the first fetch succeeds. A failure here is fatal
// to process startup; the cache must never serve before it has loaded once.
func (c *Cache) Initialize(ctx context.Context) error {
	if err := c.refresh(ctx); err != nil {
		return fmt.Errorf("initial rule load: %w", err)
	}
	return nil
}

// Run refreshes the cache periodically until ctx is cancelled. Refresh
// failures are logged and the last-good map is retained.
func (c *Cache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.refresh(ctx); err != nil {
				log.Printf("[rules] refresh failed, keeping last-good rules: %v", err)
			}
		}
	}
}

func (c *Cache) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fetched, err := c.provider.Fetch(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]models.CalcRule, len(fetched))
	for _, r := range fetched {
		next[r.Key()] = r
	}
	c.rules.Store(next)
	c.lastRefresh.Store(time.Now())
	log.Printf("[rules] loaded %d rule(s)", len(next))
	return nil
}

// Get returns the cached rule for (pts, pe), or the default rule when none
// is cached. Never errors: unknown combinations are monitored with the
// permissive default rather than ignored.
func (c *Cache) Get(pts, pe string) models.CalcRule {
	m := c.rules.Load().(map[string]models.CalcRule)
	if rule, ok := m[models.RuleKey(pts, pe)]; ok {
		return rule
	}
	log.Printf("[rules] no rule for %s:%s, using default", pts, pe)
	return models.DefaultRule(pts, pe)
}

// Size and LastRefresh feed the /status endpoint.
func (c *Cache) Size() int {
	return len(c.rules.Load().(map[string]models.CalcRule))
}

func (c *Cache) LastRefresh() time.Time {
	return c.lastRefresh.Load().(time.Time)
}
