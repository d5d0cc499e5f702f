package permissions

import (
	"context"
	"testing"
	"time"

	"github.com/renlabs-dev/prediction-swarm/pkg/ledger"
	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
)

func newTestCache(t *testing.T, source ledger.PermissionSource) *Cache {
	t.Helper()
	return NewCache(source, time.Minute, logging.NewLogger())
}

func TestCacheRefreshAndHas(t *testing.T) {
	src := ledger.NewStaticLedger()
	src.AddPermission("prediction.filter", "0xAbC123")

	cache := newTestCache(t, src)
	if cache.Initialized() {
		t.Error("cache should not be initialized before first refresh")
	}

	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !cache.Initialized() {
		t.Error("cache should be initialized after refresh")
	}

	if !cache.Has("0xabc123", "prediction.filter") {
		t.Error("expected grant (case-insensitive address)")
	}
	if cache.Has("0xother", "prediction.filter") {
		t.Error("unexpected grant for unknown address")
	}
}

func TestCacheCascadingParentGrant(t *testing.T) {
	src := ledger.NewStaticLedger()
	src.AddPermission("prediction", "0xparent")

	cache := newTestCache(t, src)
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if !cache.Has("0xparent", "prediction.filter") {
		t.Error("parent grant should cover child path")
	}
	if !cache.Has("0xparent", "prediction.filter.crypto") {
		t.Error("parent grant should cover nested child path")
	}
	if cache.Has("0xparent", "scraping.submit") {
		t.Error("grant must not leak to sibling trees")
	}
}

func TestCacheWholesaleSwapDropsRevoked(t *testing.T) {
	src := ledger.NewStaticLedger()
	src.AddPermission("prediction.filter", "0xrevoked")

	cache := newTestCache(t, src)
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !cache.Has("0xrevoked", "prediction.filter") {
		t.Fatal("expected initial grant")
	}

	// Simulate revocation: new ledger state without the grant
	empty := ledger.NewStaticLedger()
	cache.source = empty
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if cache.Has("0xrevoked", "prediction.filter") {
		t.Error("revoked grant survived wholesale refresh")
	}
}

func TestCacheLocalGrant(t *testing.T) {
	cache := newTestCache(t, ledger.NewStaticLedger())
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	cache.Grant("0xNew", "prediction.filter")
	if !cache.Has("0xnew", "prediction.filter") {
		t.Error("local grant not visible")
	}
}
