package collector

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/xela07ax/toolgate/internal/domain"
	"github.com/xela07ax/toolgate/internal/infra/auth"
	"go.uber.org/zap"
)

// Server — управляющая плоскость: жизненный цикл политики, прием аудита,
// выдача трейсов и токенов операторов
type Server struct {
	router *chi.Mux
	logger *zap.Logger

	policies *PolicyHandler
	events   *EventHandler

	// nil — публикация и активация открыты (dev-режим)
	authService *auth.Service
}

func NewServer(
	policies *PolicyHandler,
	events *EventHandler,
	authService *auth.Service,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		logger:      logger.Named("collector-api"),
		policies:    policies,
		events:      events,
		authService: authService,
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Group(func(r chi.Router) {
		if s.authService != nil {
			r.Post("/auth/token", s.login)
		}

		r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "service": "toolgate-collector"})
		})

		// Чтение политики и проверки вхолостую доступны без токена:
		// этим живут шлюзы
		r.Get("/v1/policies/active", s.policies.GetActive)
		r.Post("/v1/policies/dry-run", s.policies.DryRun)

		// Прием аудита защищен HMAC, а не операторским токеном
		r.Post("/v1/events", s.events.Ingest)
		r.Get("/v1/traces/{id}", s.events.GetTrace)
	})

	// --- 3. МУТАЦИИ ПОЛИТИКИ (требуют RS256 токен, если auth включен) ---
	r.Group(func(r chi.Router) {
		if s.authService != nil {
			r.Use(auth.NewMiddleware(s.authService, s.logger))
		}

		r.Post("/v1/policies/publish", s.policies.Publish)
		r.Post("/v1/policies/activate/{versionId}", s.policies.Activate)
		r.Get("/v1/policies/versions", s.policies.ListVersions)
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	resp, err := s.authService.GenerateToken(req.Username, req.Password)
	if err != nil {
		// не уточняем, что именно неверно (логин или пароль)
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
