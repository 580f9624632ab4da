package collector

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/toolgate/internal/audit"
	"github.com/xela07ax/toolgate/internal/trust"
	"go.uber.org/zap"
)

// EventHandler принимает события аудита от шлюзов и отдает трейсы.
// Прием защищен HMAC: событие либо подписано по телу (эмиттер шлюза),
// либо по прокси-конверту (проброшенный запрос агента)
type EventHandler struct {
	traces      *TraceStore
	upstreamKey string
	maxSkew     time.Duration
	logger      *zap.Logger

	warnOnce sync.Once
}

func NewEventHandler(traces *TraceStore, upstreamKey string, maxSkew time.Duration, logger *zap.Logger) *EventHandler {
	if maxSkew <= 0 {
		maxSkew = trust.DefaultMaxSkew
	}
	return &EventHandler{
		traces:      traces,
		upstreamKey: upstreamKey,
		maxSkew:     maxSkew,
		logger:      logger.Named("events"),
	}
}

// Ingest регистрирует событие.
// POST /v1/events
func (h *EventHandler) Ingest(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "body_read_failed"})
		return
	}

	if !h.verified(r, body) {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"ok": false, "error": "invalid_signature"})
		return
	}

	var e audit.Event
	if err := json.Unmarshal(body, &e); err != nil || e.TraceID == "" {
		// Проброшенные запросы агентов не обязаны быть событиями аудита,
		// заворачиваем их в событие сами
		e = audit.NewEvent(r.Header.Get("X-Trace-Id"), "event.raw", map[string]interface{}{
			"body": string(bytes.TrimSpace(body)),
		})
	}
	if e.TraceID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "trace_id is required"})
		return
	}

	h.traces.Append(e)
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"ok": true})
}

// GetTrace отдает все события одного трейса.
// GET /v1/traces/{id}
func (h *EventHandler) GetTrace(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	events := h.traces.Get(id)
	if events == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"ok": false, "error": "trace not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "traceId": id, "events": events})
}

func (h *EventHandler) verified(r *http.Request, body []byte) bool {
	if h.upstreamKey == "" {
		h.warnOnce.Do(func() {
			h.logger.Warn("upstream signature verification disabled: no key configured")
		})
		return true
	}

	sig := r.Header.Get(trust.HeaderSignature)
	if sig == "" {
		return false
	}

	// Подпись по телу — путь эмиттера шлюза
	if trust.Verify(h.upstreamKey, body, sig) == nil {
		return true
	}

	// Подпись прокси-конверта: метод, URL, trace_id и метка времени
	ts := r.Header.Get(trust.HeaderTimestamp)
	traceID := r.Header.Get("X-Trace-Id")
	if ts == "" {
		return false
	}
	url := r.URL.Path
	if r.URL.RawQuery != "" {
		url += "?" + r.URL.RawQuery
	}
	return trust.VerifyProxy(h.upstreamKey, r.Method, url, traceID, ts, sig, h.maxSkew) == nil
}
