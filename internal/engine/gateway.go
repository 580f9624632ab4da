package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/xela07ax/toolgate/internal/approval"
	"github.com/xela07ax/toolgate/internal/audit"
	"github.com/xela07ax/toolgate/internal/domain"
	"github.com/xela07ax/toolgate/internal/policy"
	"go.uber.org/zap"
)

// PolicyProvider — источник активной политики (TTL-клиент в проде)
type PolicyProvider interface {
	GetActivePolicy(ctx context.Context) *domain.Policy
}

// EventSink — асинхронный приемник событий аудита
type EventSink interface {
	Emit(ev audit.Event)
}

// GateCore — ядро enforcement-пайплайна. Состояния на каждый запрос:
// evaluating -> allow | deny | awaiting-approval, где awaiting-approval
// не хранится как отдельное состояние, а реализуется заявкой в Store.
type GateCore struct {
	policies  PolicyProvider
	approvals *approval.Store
	emitter   EventSink
	metrics   *Metrics
	logger    *zap.Logger
}

func NewGateCore(policies PolicyProvider, approvals *approval.Store, emitter EventSink, metrics *Metrics, logger *zap.Logger) *GateCore {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &GateCore{
		policies:  policies,
		approvals: approvals,
		emitter:   emitter,
		metrics:   metrics,
		logger:    logger.Named("gate"),
	}
}

// Enforce — pre-обработка перед проксируемыми маршрутами. Решение
// принимается до того, как запрос увидит апстрим.
func (g *GateCore) Enforce(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		actx := extractContext(r)
		traceID := extractTraceID(r.Context())

		decision, payload := g.decide(r.Context(), actx)

		g.metrics.DecisionTotal.WithLabelValues(decision).Inc()
		g.metrics.RequestDuration.WithLabelValues(decision).Observe(time.Since(start).Seconds())
		g.emitDecision(traceID, actx, decision, payload)

		switch decision {
		case "allow":
			next.ServeHTTP(w, r)
		case "pending":
			writeJSON(w, http.StatusAccepted, payload)
		default: // deny, denied, expired
			writeJSON(w, http.StatusForbidden, payload)
		}
	})
}

// decide реализует машину состояний enforcement: fail-closed при отсутствии
// политики, жесткий deny, прозрачный allow и идемпотентная ветка HITL.
func (g *GateCore) decide(ctx context.Context, actx *actionContext) (string, map[string]interface{}) {
	// Нет политики — нет доступа. Любая неоднозначность про активную
	// политику разрешается в deny, никогда в allow.
	pol := g.policies.GetActivePolicy(ctx)
	if pol == nil {
		g.logger.Warn("no active policy, failing closed",
			zap.String("tool", actx.Tool),
			zap.String("profile", actx.Profile))
		return "deny", map[string]interface{}{
			"ok":       false,
			"error":    "Policy violation",
			"decision": "deny",
			"reason":   "No active policy found",
		}
	}

	if actx.Profile == AnonymousProfile && pol.Defaults.DefaultProfile != "" {
		actx.Profile = pol.Defaults.DefaultProfile
	}

	result := policy.Evaluate(pol, actx.evaluationRequest())

	if result.Decision == domain.DecisionDeny {
		return "deny", map[string]interface{}{
			"ok":       false,
			"error":    "Policy violation",
			"decision": "deny",
			"reason":   result.Reason,
		}
	}

	if !result.Constraints.RequiresApproval {
		return "allow", nil
	}

	// Идемпотентный ретрай: байт-идентичный повтор после решения человека
	// конвертируется в исход детерминированно, без повторного ревью.
	if prev := g.approvals.FindByContext(actx.Tool, actx.Domain, actx.BodyHash); prev != nil {
		switch prev.Status {
		case domain.StatusApproved:
			return "allow", nil
		case domain.StatusDenied:
			return "denied", map[string]interface{}{
				"decision":    "denied",
				"approval_id": prev.ID,
			}
		case domain.StatusExpired:
			return "expired", map[string]interface{}{
				"decision":    "expired",
				"approval_id": prev.ID,
			}
		case domain.StatusPending:
			// Живая заявка уже есть — дубль не плодим
			return "pending", map[string]interface{}{
				"decision":    "pending",
				"approval_id": prev.ID,
				"ttl_seconds": ttlSecondsLeft(prev),
			}
		}
	}

	ttl := pol.Defaults.ApprovalsTTLSeconds
	if ttl <= 0 {
		ttl = 3600
	}
	a := g.approvals.Create(actx.approvalContext(), "policy", ttl, actx.AgentID)

	return "pending", map[string]interface{}{
		"decision":    "pending",
		"approval_id": a.ID,
		"ttl_seconds": ttl,
	}
}

func (g *GateCore) emitDecision(traceID string, actx *actionContext, decision string, payload map[string]interface{}) {
	if g.emitter == nil {
		return
	}
	attrs := map[string]interface{}{
		"decision": decision,
		"tool":     actx.Tool,
		"profile":  actx.Profile,
		"method":   actx.Method,
		"path":     actx.Path,
	}
	if actx.Domain != "" {
		attrs["domain"] = actx.Domain
	}
	if payload != nil {
		if id, ok := payload["approval_id"]; ok {
			attrs["approval_id"] = id
		}
		if reason, ok := payload["reason"]; ok {
			attrs["reason"] = reason
		}
	}
	g.emitter.Emit(audit.NewEvent(traceID, audit.TypeGateDecision, attrs))
}

func ttlSecondsLeft(a *domain.Approval) int {
	left := (a.ExpiresAt - time.Now().UnixMilli()) / 1000
	if left < 0 {
		left = 0
	}
	return int(left)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
