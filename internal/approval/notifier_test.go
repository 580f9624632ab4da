package approval

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/xela07ax/toolgate/internal/domain"
	"go.uber.org/zap"
)

func TestNotifierBufferSize(t *testing.T) {
	n := NewWebhookNotifier("http://example.com/hook", 3, zap.NewNop())
	if cap(n.ch) != 3 {
		t.Fatalf("cap = %d, want 3", cap(n.ch))
	}

	// Нулевой и отрицательный размер — дефолт
	n = NewWebhookNotifier("http://example.com/hook", 0, zap.NewNop())
	if cap(n.ch) != 256 {
		t.Fatalf("default cap = %d, want 256", cap(n.ch))
	}
}

func TestNotifierOverflowShedsLoad(t *testing.T) {
	// Воркер не запущен: очередь забивается и лишнее сбрасывается без блокировки
	n := NewWebhookNotifier("http://example.com/hook", 1, zap.NewNop())

	n.Notify(domain.Approval{ID: "apr_1", Status: domain.StatusApproved})
	n.Notify(domain.Approval{ID: "apr_2", Status: domain.StatusApproved})

	if len(n.ch) != 1 {
		t.Fatalf("queued = %d, want 1", len(n.ch))
	}
}

func TestNotifierStopDrainsAndLocksEntry(t *testing.T) {
	var delivered int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&delivered, 1)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, 8, zap.NewNop())
	n.Start()
	for i := 0; i < 5; i++ {
		n.Notify(domain.Approval{ID: fmt.Sprintf("apr_%d", i), Status: domain.StatusDenied})
	}
	n.Stop()

	if got := atomic.LoadInt32(&delivered); got != 5 {
		t.Fatalf("delivered = %d, want 5", got)
	}

	// После остановки вход заперт: поздний Notify молча отбрасывается
	n.Notify(domain.Approval{ID: "apr_late", Status: domain.StatusExpired})
	if got := atomic.LoadInt32(&delivered); got != 5 {
		t.Fatalf("late notify got delivered, total = %d", got)
	}
}
