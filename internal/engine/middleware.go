package engine

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/xela07ax/toolgate/internal/trust"
	"go.uber.org/zap"
)

// Тип для ключа в контексте (избегаем коллизий)
type ctxKey string

const traceIDKey ctxKey = "trace_id"

const HeaderTraceID = "X-Trace-Id"

// TracingMiddleware присваивает каждому запросу сквозной Trace-ID
func TracingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(HeaderTraceID)
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx := context.WithValue(r.Context(), traceIDKey, traceID)

		// Дублируем в ответ, чтобы клиент знал ID своего запроса
		w.Header().Set(HeaderTraceID, traceID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractTraceID безопасно достает ID в любом месте пайплайна
func extractTraceID(ctx context.Context) string {
	if id, ok := ctx.Value(traceIDKey).(string); ok {
		return id
	}
	return "00000000-0000-0000-0000-000000000000" // Fallback
}

// SignatureMiddleware верифицирует входящую подпись тела запроса до любой
// дальнейшей обработки. Отсутствие ключа — явное, один раз залогированное
// состояние конфигурации «verification disabled», а не тихий per-request no-op.
func SignatureMiddleware(ingressKey string, metrics *Metrics, logger *zap.Logger) func(http.Handler) http.Handler {
	log := logger.Named("ingress-auth")
	if ingressKey == "" {
		log.Warn("ingress signature verification disabled: no key configured")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ingressKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			var body []byte
			if r.Body != nil {
				body, _ = io.ReadAll(r.Body)
				r.Body.Close()
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			sig := r.Header.Get(trust.HeaderSignature)
			if sig == "" || trust.Verify(ingressKey, body, sig) != nil {
				if metrics != nil {
					metrics.SignatureFailures.Inc()
				}
				log.Warn("rejected request with bad signature",
					zap.String("path", r.URL.Path),
					zap.Bool("signature_present", sig != ""))
				writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
					"ok":    false,
					"error": "invalid_signature",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
