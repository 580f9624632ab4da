package collector

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/toolgate/internal/domain"
	"github.com/xela07ax/toolgate/internal/policy"
	"github.com/xela07ax/toolgate/internal/store"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// PolicyHandler — жизненный цикл версий политики: публикация, активация,
// выдача активной версии шлюзам и проверки "вхолостую"
type PolicyHandler struct {
	store    store.Store
	signaler RefreshSignaler
	logger   *zap.Logger
}

func NewPolicyHandler(s store.Store, signaler RefreshSignaler, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{store: s, signaler: signaler, logger: logger.Named("policies")}
}

type publishRequest struct {
	YAML   string         `json:"yaml"`
	Policy *domain.Policy `json:"policy"`
}

// Publish принимает снимок политики в YAML или JSON, валидирует и сохраняет
// как новую неактивную версию.
// POST /v1/policies/publish
func (h *PolicyHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid request body"})
		return
	}

	var p domain.Policy
	switch {
	case req.YAML != "":
		if err := yaml.Unmarshal([]byte(req.YAML), &p); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid yaml: " + err.Error()})
			return
		}
	case req.Policy != nil:
		p = *req.Policy
	default:
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "yaml or policy is required"})
		return
	}

	if err := domain.ValidatePolicy(&p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}

	v, err := h.store.Publish(r.Context(), p)
	if err != nil {
		h.logger.Error("publish failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "internal_error"})
		return
	}

	h.logger.Info("policy version published",
		zap.String("id", v.ID),
		zap.Int("version", v.Version),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "version": v})
}

// Activate делает опубликованную версию активной и сигналит шлюзам.
// POST /v1/policies/activate/{versionId}
func (h *PolicyHandler) Activate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "versionId")

	v, err := h.store.Activate(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrVersionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"ok": false, "error": "version not found"})
			return
		}
		h.logger.Error("activate failed", zap.String("id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "internal_error"})
		return
	}

	h.signaler.Signal(r.Context())
	h.logger.Info("policy version activated",
		zap.String("id", v.ID),
		zap.Int("version", v.Version),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "active": v})
}

// GetActive отдает активную версию. active=null если ее нет — шлюз на этом
// закрывается сам.
// GET /v1/policies/active
func (h *PolicyHandler) GetActive(w http.ResponseWriter, r *http.Request) {
	v, err := h.store.GetActive(r.Context())
	if err != nil {
		h.logger.Error("get active failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "internal_error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "active": v})
}

// ListVersions отдает историю версий от новых к старым.
// GET /v1/policies/versions
func (h *PolicyHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := h.store.ListVersions(r.Context())
	if err != nil {
		h.logger.Error("list versions failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "internal_error"})
		return
	}
	if versions == nil {
		versions = []store.PolicyVersion{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "versions": versions})
}

// DryRun прогоняет запрос через активную политику без побочных эффектов.
// Без активной версии отвечает тем же deny, что выдал бы шлюз.
// POST /v1/policies/dry-run
func (h *PolicyHandler) DryRun(w http.ResponseWriter, r *http.Request) {
	var req domain.EvaluationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": "invalid request body"})
		return
	}
	if err := domain.ValidateEvaluationRequest(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}

	v, err := h.store.GetActive(r.Context())
	if err != nil {
		h.logger.Error("get active failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": "internal_error"})
		return
	}

	var result domain.EvaluationResult
	if v == nil {
		result = domain.EvaluationResult{
			Decision: domain.DecisionDeny,
			Reason:   "No active policy found",
		}
	} else {
		result = policy.Evaluate(&v.Policy, &req)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "result": result})
}
