package engine

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/xela07ax/toolgate/internal/domain"
)

// Заголовки, которые шлюз читает у входящего трафика. Старые имена без
// префикса принимаются как fallback для совместимости с ранними агентами.
const (
	HeaderProfile    = "X-Toolgate-Profile"
	HeaderProfileAlt = "X-Profile"
	HeaderAgentID    = "X-Toolgate-Agent-Id"
	HeaderAgentIDAlt = "X-Agent-Id"
	HeaderUserID     = "X-User-Id"
	HeaderSessionID  = "X-Session-Id"
	AnonymousProfile = "anonymous"
)

// actionContext — канонический слепок входящего действия, по которому
// принимается решение и строится идемпотентный ключ
type actionContext struct {
	Profile  string
	AgentID  string
	Tool     string
	URL      string
	Domain   string
	Method   string
	Path     string
	Body     []byte
	BodyHash string
	UserID   string
	Session  string
}

// requestBody — поля, которые мы умеем доставать из тела tool-вызова
type requestBody struct {
	Tool  string `json:"tool"`
	URL   string `json:"url"`
	Attrs struct {
		Tool string `json:"tool"`
		URL  string `json:"url"`
	} `json:"attrs"`
}

// extractContext разбирает запрос в канонический контекст действия.
// Тело вычитывается целиком и возвращается в r.Body, чтобы прокси-хендлер
// дальше по цепочке получил его нетронутым.
func extractContext(r *http.Request) *actionContext {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	var parsed requestBody
	if len(body) > 0 {
		_ = json.Unmarshal(body, &parsed) // не-JSON тело — не ошибка, просто нет атрибутов
	}

	tool := parsed.Tool
	if tool == "" {
		tool = parsed.Attrs.Tool
	}
	if tool == "" {
		tool = inferToolFromPath(r.URL.Path)
	}

	actionURL := parsed.URL
	if actionURL == "" {
		actionURL = parsed.Attrs.URL
	}

	profile := headerOr(r, HeaderProfile, HeaderProfileAlt)
	if profile == "" {
		profile = AnonymousProfile
	}

	return &actionContext{
		Profile:  profile,
		AgentID:  headerOr(r, HeaderAgentID, HeaderAgentIDAlt),
		Tool:     tool,
		URL:      actionURL,
		Domain:   hostnameOf(actionURL),
		Method:   r.Method,
		Path:     r.URL.Path,
		Body:     body,
		BodyHash: HashBody(body),
		UserID:   r.Header.Get(HeaderUserID),
		Session:  r.Header.Get(HeaderSessionID),
	}
}

// inferToolFromPath — /v1/events -> "events", /v1/traces/abc -> "traces"
func inferToolFromPath(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "v1" {
		return parts[1]
	}
	return "unknown"
}

func hostnameOf(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func headerOr(r *http.Request, name, fallback string) string {
	if v := strings.TrimSpace(r.Header.Get(name)); v != "" {
		return v
	}
	return strings.TrimSpace(r.Header.Get(fallback))
}

// evaluationRequest превращает контекст действия в запрос к чистому движку
func (c *actionContext) evaluationRequest() *domain.EvaluationRequest {
	req := &domain.EvaluationRequest{
		Profile: c.Profile,
		Action: domain.Action{
			Tool:   c.Tool,
			URL:    c.URL,
			Method: c.Method,
		},
	}
	if c.UserID != "" || c.Session != "" {
		req.Context = &domain.ActionContext{UserID: c.UserID, SessionID: c.Session}
	}
	return req
}

// approvalContext — слепок для заявки HITL
func (c *actionContext) approvalContext() domain.ApprovalContext {
	return domain.ApprovalContext{
		Tool:     c.Tool,
		Domain:   c.Domain,
		Method:   c.Method,
		Path:     c.Path,
		BodyHash: c.BodyHash,
	}
}
