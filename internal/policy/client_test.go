package policy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xela07ax/toolgate/internal/domain"
	"go.uber.org/zap"
)

func activeBody(version int) map[string]interface{} {
	return map[string]interface{}{
		"ok": true,
		"active": map[string]interface{}{
			"policy": domain.Policy{
				Version:  version,
				Profiles: map[string]domain.Profile{"default": {}},
			},
		},
	}
}

func TestTTLClientCachesWithinWindow(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		json.NewEncoder(w).Encode(activeBody(1))
	}))
	defer srv.Close()

	c := NewTTLClient(srv.URL, time.Minute, time.Second, zap.NewNop())

	for i := 0; i < 5; i++ {
		if p := c.GetActivePolicy(context.Background()); p == nil || p.Version != 1 {
			t.Fatalf("call %d: unexpected policy %+v", i, p)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("collector hit %d times, want 1 (cache miss leak)", got)
	}
}

func TestTTLClientServesStaleOnFailure(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(activeBody(7))
	}))
	defer srv.Close()

	// Нулевой TTL заставляет каждый вызов идти на обновление
	c := NewTTLClient(srv.URL, time.Nanosecond, time.Second, zap.NewNop())

	if p := c.GetActivePolicy(context.Background()); p == nil || p.Version != 7 {
		t.Fatalf("warm-up fetch failed: %+v", p)
	}

	fail.Store(true)
	if p := c.GetActivePolicy(context.Background()); p == nil || p.Version != 7 {
		t.Fatalf("expected stale copy, got %+v", p)
	}
}

func TestTTLClientColdFailureReturnsNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewTTLClient(srv.URL, time.Minute, time.Second, zap.NewNop())

	if p := c.GetActivePolicy(context.Background()); p != nil {
		t.Fatalf("cold cache with dead collector must yield nil, got %+v", p)
	}
}

func TestTTLClientNoActiveVersionClearsCache(t *testing.T) {
	var noActive atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if noActive.Load() {
			json.NewEncoder(w).Encode(map[string]interface{}{"ok": true, "active": nil})
			return
		}
		json.NewEncoder(w).Encode(activeBody(3))
	}))
	defer srv.Close()

	c := NewTTLClient(srv.URL, time.Nanosecond, time.Second, zap.NewNop())

	if p := c.GetActivePolicy(context.Background()); p == nil {
		t.Fatal("expected policy before deactivation")
	}

	// Коллектор жив и явно говорит «активной версии нет» — stale тут недопустим
	noActive.Store(true)
	if p := c.GetActivePolicy(context.Background()); p != nil {
		t.Fatalf("expected nil after deactivation, got %+v", p)
	}
}

func TestTTLClientInvalidateForcesRefetch(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		json.NewEncoder(w).Encode(activeBody(int(n)))
	}))
	defer srv.Close()

	c := NewTTLClient(srv.URL, time.Hour, time.Second, zap.NewNop())

	if p := c.GetActivePolicy(context.Background()); p.Version != 1 {
		t.Fatalf("want version 1, got %d", p.Version)
	}

	c.Invalidate()

	if p := c.GetActivePolicy(context.Background()); p.Version != 2 {
		t.Fatalf("want version 2 after invalidate, got %d", p.Version)
	}
}
