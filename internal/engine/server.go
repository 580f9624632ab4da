package engine

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/toolgate/internal/audit"
	"go.uber.org/zap"
)

// Server — HTTP-поверхность шлюза: проксируемые маршруты под цепочкой защиты
// плюс операторский API очереди согласований
type Server struct {
	core      *GateCore
	upstream  *Upstream
	approvals *ApprovalsAPI
	emitter   EventSink
	metrics   *Metrics
	logger    *zap.Logger

	ingressKey string
}

func NewServer(
	core *GateCore,
	upstream *Upstream,
	approvals *ApprovalsAPI,
	emitter EventSink,
	metrics *Metrics,
	ingressKey string,
	logger *zap.Logger,
) *Server {
	return &Server{
		core:       core,
		upstream:   upstream,
		approvals:  approvals,
		emitter:    emitter,
		metrics:    metrics,
		logger:     logger.Named("gateway-http"),
		ingressKey: ingressKey,
	}
}

// Router собирает цепочку. Порядок важен: Trace -> Signature -> Enforce -> Proxy
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)

	r.Get("/healthz", s.handleHealth)

	// Операторский срез живет вне цепочки политики
	r.Mount("/api/approvals", s.approvals.Routes())

	// Проксируемая поверхность: все решения принимает ядро
	r.Group(func(r chi.Router) {
		r.Use(SignatureMiddleware(s.ingressKey, s.metrics, s.logger))
		r.Use(s.core.Enforce)
		r.Post("/v1/events", s.handleProxy)
		r.Get("/v1/traces/{id}", s.handleProxy)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"service":  "toolgate-gateway",
		"upstream": s.upstream.BaseURL(),
	})
}

// handleProxy — терминальный обработчик разрешенных запросов. Сюда попадает
// только то, что ядро пропустило
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	traceID := extractTraceID(r.Context())

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "body_read_failed"})
		return
	}

	path := r.URL.Path
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	resp, err := s.upstream.Forward(r.Context(), r.Method, path, traceID, body, r.Header.Get("Content-Type"))
	if err != nil {
		s.metrics.UpstreamErrors.Inc()
		s.logger.Error("upstream forward failed",
			zap.String("trace_id", traceID),
			zap.String("path", path),
			zap.Error(err),
		)
		s.emitter.Emit(audit.NewEvent(traceID, audit.TypeProxyError, map[string]interface{}{
			"method": r.Method,
			"path":   path,
			"error":  err.Error(),
		}))
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{"ok": false, "error": "upstream_error"})
		return
	}

	s.emitter.Emit(audit.NewEvent(traceID, audit.TypeProxyForward, map[string]interface{}{
		"method": r.Method,
		"path":   path,
		"status": strconv.Itoa(resp.Status),
	}))

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.Status)
	_, _ = w.Write(resp.Body)
}
