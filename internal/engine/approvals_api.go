package engine

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/xela07ax/toolgate/internal/approval"
	"github.com/xela07ax/toolgate/internal/domain"
	"go.uber.org/zap"
)

// ApprovalsAPI — операторский REST-срез очереди HITL на шлюзе
type ApprovalsAPI struct {
	store  *approval.Store
	logger *zap.Logger
}

func NewApprovalsAPI(store *approval.Store, logger *zap.Logger) *ApprovalsAPI {
	return &ApprovalsAPI{store: store, logger: logger.Named("approvals-api")}
}

func (h *ApprovalsAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Get("/stats", h.Stats) // до /{id}, чтобы не перехватывался параметром
	r.Get("/{id}", h.Get)
	r.Post("/{id}/approve", h.Approve)
	r.Post("/{id}/deny", h.Deny)
	return r
}

func (h *ApprovalsAPI) List(w http.ResponseWriter, r *http.Request) {
	f := approval.Filter{
		Status:  domain.ApprovalStatus(r.URL.Query().Get("status")),
		AgentID: r.URL.Query().Get("agentId"),
	}
	items := h.store.List(f)
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": items})
}

func (h *ApprovalsAPI) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := h.store.Get(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

type decideRequest struct {
	Note string `json:"note"`
}

func (h *ApprovalsAPI) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.store.Approve)
}

func (h *ApprovalsAPI) Deny(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.store.Deny)
}

func (h *ApprovalsAPI) decide(w http.ResponseWriter, r *http.Request, fn func(id, note string) (*domain.Approval, error)) {
	id := chi.URLParam(r, "id")

	var req decideRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // пустое тело допустимо, note опциональна

	a, err := fn(id, req.Note)
	if err != nil {
		// «Никогда не существовало» и «решение уже принято» — разные ответы
		if errors.Is(err, domain.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "not_found"})
			return
		}
		if errors.Is(err, domain.ErrAlreadyProcessed) || errors.Is(err, domain.ErrInvalidTransition) {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid_status"})
			return
		}
		h.logger.Error("approval decision failed", zap.String("id", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal_error"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"status": string(a.Status)})
}

func (h *ApprovalsAPI) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Stats())
}
