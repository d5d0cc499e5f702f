package permissions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/renlabs-dev/prediction-swarm/pkg/ledger"
	"github.com/renlabs-dev/prediction-swarm/pkg/logging"
)

func permissionRouter(cache *Cache, agentAddress string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	// Stand-in for the auth middleware
	router.Use(func(c *gin.Context) {
		if agentAddress != "" {
			c.Set("agent_address", agentAddress)
		}
		c.Next()
	})
	router.POST("/v1/storePredictions", RequirePermission(cache, "prediction.filter"), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestRequirePermissionAllowsGrantedAgent(t *testing.T) {
	src := ledger.NewStaticLedger()
	src.AddPermission("prediction.filter", "0xagent")
	cache := NewCache(src, time.Minute, logging.NewLogger())
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	router := permissionRouter(cache, "0xagent")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/v1/storePredictions", nil))
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestRequirePermissionRejectsUngrantedAgent(t *testing.T) {
	cache := NewCache(ledger.NewStaticLedger(), time.Minute, logging.NewLogger())
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	router := permissionRouter(cache, "0xagent")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/v1/storePredictions", nil))
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestRequirePermissionUnavailableBeforeFirstRefresh(t *testing.T) {
	cache := NewCache(ledger.NewStaticLedger(), time.Minute, logging.NewLogger())

	router := permissionRouter(cache, "0xagent")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/v1/storePredictions", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestRequirePermissionRejectsUnauthenticated(t *testing.T) {
	cache := NewCache(ledger.NewStaticLedger(), time.Minute, logging.NewLogger())
	if err := cache.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	router := permissionRouter(cache, "")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/v1/storePredictions", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}
