package collector

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/xela07ax/toolgate/internal/audit"
	"github.com/xela07ax/toolgate/internal/store"
	"github.com/xela07ax/toolgate/internal/trust"
	"go.uber.org/zap"
)

func eventBody(traceID string) string {
	e := audit.NewEvent(traceID, audit.TypeGateDecision, map[string]interface{}{"decision": "allow"})
	b, _ := json.Marshal(e)
	return string(b)
}

func TestIngestWithoutKeyIsOpen(t *testing.T) {
	traces := NewTraceStore(10)
	h := NewEventHandler(traces, "", 0, zap.NewNop())

	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(eventBody("tr-1")))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d, want 202", rec.Code)
	}
	if got := traces.Get("tr-1"); len(got) != 1 {
		t.Fatalf("stored %d events, want 1", len(got))
	}
}

func TestIngestRequiresValidSignature(t *testing.T) {
	traces := NewTraceStore(10)
	h := NewEventHandler(traces, "upstream-key", 0, zap.NewNop())
	body := eventBody("tr-2")

	// Без подписи — 401
	req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Ingest(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned: code = %d, want 401", rec.Code)
	}

	// Подпись чужим ключом — 401
	req = httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	req.Header.Set(trust.HeaderSignature, trust.Sign("wrong-key", []byte(body)))
	rec = httptest.NewRecorder()
	h.Ingest(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: code = %d, want 401", rec.Code)
	}

	// Подпись по телу — путь эмиттера
	req = httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
	req.Header.Set(trust.HeaderSignature, trust.Sign("upstream-key", []byte(body)))
	rec = httptest.NewRecorder()
	h.Ingest(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("body signature: code = %d, want 202", rec.Code)
	}

	if len(traces.Get("tr-2")) != 1 {
		t.Error("rejected events must not be stored")
	}
}

func TestIngestHonorsConfiguredSkew(t *testing.T) {
	const key = "upstream-key"
	body := eventBody("tr-skew")
	signedAt := time.Now().Add(-30 * time.Second)
	sig, ts := trust.SignProxy(key, http.MethodPost, "/v1/events", "tr-skew", signedAt)

	signedReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/v1/events", strings.NewReader(body))
		req.Header.Set(trust.HeaderSignature, sig)
		req.Header.Set(trust.HeaderTimestamp, ts)
		req.Header.Set("X-Trace-Id", "tr-skew")
		return req
	}

	// Жесткий разбег: метка 30-секундной давности уже вне окна
	tight := NewEventHandler(NewTraceStore(10), key, time.Second, zap.NewNop())
	rec := httptest.NewRecorder()
	tight.Ingest(rec, signedReq())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("tight skew: code = %d, want 401", rec.Code)
	}

	// Дефолтное окно ту же подпись принимает
	relaxed := NewEventHandler(NewTraceStore(10), key, 0, zap.NewNop())
	rec = httptest.NewRecorder()
	relaxed.Ingest(rec, signedReq())
	if rec.Code != http.StatusAccepted {
		t.Fatalf("default skew: code = %d, want 202", rec.Code)
	}
}

func TestGetTrace(t *testing.T) {
	traces := NewTraceStore(10)
	traces.Append(audit.NewEvent("tr-3", audit.TypeGateDecision, nil))
	traces.Append(audit.NewEvent("tr-3", audit.TypeProxyForward, nil))

	h := NewEventHandler(traces, "", 0, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/traces/tr-3", nil)
	rec := httptest.NewRecorder()

	// Через chi-роутер, чтобы URLParam разобрался
	policies := NewPolicyHandler(store.NewMemoryStore(), NoopSignaler{}, zap.NewNop())
	router := NewServer(policies, h, nil, zap.NewNop())
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	var payload struct {
		Events []audit.Event `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatal(err)
	}
	if len(payload.Events) != 2 || payload.Events[0].Type != audit.TypeGateDecision {
		t.Fatalf("events = %+v", payload.Events)
	}

	// Неизвестный трейс — 404
	req = httptest.NewRequest(http.MethodGet, "/v1/traces/missing", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing trace: code = %d, want 404", rec.Code)
	}
}

func TestTraceStoreEviction(t *testing.T) {
	traces := NewTraceStore(2)
	traces.Append(audit.NewEvent("a", "t", nil))
	traces.Append(audit.NewEvent("b", "t", nil))
	traces.Append(audit.NewEvent("c", "t", nil))

	if traces.Get("a") != nil {
		t.Error("oldest trace must be evicted")
	}
	if traces.Get("b") == nil || traces.Get("c") == nil {
		t.Error("recent traces must survive eviction")
	}
	if traces.Len() != 2 {
		t.Errorf("len = %d, want 2", traces.Len())
	}
}
