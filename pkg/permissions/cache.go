// Package permissions keeps an in-memory view of delegated capability paths.
// The cache is refreshed wholesale from the ledger on a timer so the request
// path never blocks on chain reads.
package permissions

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/renlabs-dev/prediction-swarm/pkg/ledger"
	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
)

// Cache holds capability path -> set of grantee addresses (lowercased).
type Cache struct {
	mu          sync.RWMutex
	grants      map[string]map[string]struct{}
	initialized bool

	source   ledger.PermissionSource
	interval time.Duration
	logger   logging.Logger
}

// NewCache creates a permission cache backed by source. Call Start to begin
// the refresh loop, or Refresh for a one-shot load.
func NewCache(source ledger.PermissionSource, interval time.Duration, logger logging.Logger) *Cache {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Cache{
		grants:   make(map[string]map[string]struct{}),
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Refresh reloads the whole permission set from the ledger and swaps it in
// atomically. Readers keep the old view until the swap.
func (c *Cache) Refresh(ctx context.Context) error {
	permissions, err := c.source.DelegatedPermissions(ctx)
	if err != nil {
		return err
	}

	next := make(map[string]map[string]struct{}, len(permissions))
	total := 0
	for path, addresses := range permissions {
		set := make(map[string]struct{}, len(addresses))
		for _, addr := range addresses {
			set[strings.ToLower(addr)] = struct{}{}
		}
		next[normalizePath(path)] = set
		total += len(addresses)
	}

	c.mu.Lock()
	c.grants = next
	c.initialized = true
	c.mu.Unlock()

	c.logger.WithFields(logging.Fields{
		"paths":  len(next),
		"grants": total,
	}).Debug("Permission cache refreshed")
	return nil
}

// Start refreshes immediately, then on every tick until ctx is cancelled.
// A failed refresh keeps the previous view.
func (c *Cache) Start(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		c.logger.WithError(err).Error("Initial permission cache refresh failed")
	}

	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Refresh(ctx); err != nil {
					c.logger.WithError(err).Warn("Permission cache refresh failed, keeping previous view")
				}
			}
		}
	}()
}

// Initialized reports whether at least one refresh has succeeded.
func (c *Cache) Initialized() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Has checks whether address holds path. A grant on any parent path covers
// all paths beneath it: a grant on "prediction" covers "prediction.filter".
func (c *Cache) Has(address, path string) bool {
	addr := strings.ToLower(address)
	path = normalizePath(path)

	c.mu.RLock()
	defer c.mu.RUnlock()

	for {
		if set, ok := c.grants[path]; ok {
			if _, granted := set[addr]; granted {
				return true
			}
		}
		dot := strings.LastIndex(path, ".")
		if dot < 0 {
			return false
		}
		path = path[:dot]
	}
}

// Grant inserts a single grant locally, ahead of the next wholesale refresh.
func (c *Cache) Grant(address, path string) {
	addr := strings.ToLower(address)
	path = normalizePath(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	set, ok := c.grants[path]
	if !ok {
		set = make(map[string]struct{})
		c.grants[path] = set
	}
	set[addr] = struct{}{}
}

func normalizePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), ".")
}
