package policy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/xela07ax/toolgate/internal/domain"
)

// Базовый набор высокорисковых инструментов и доменных маркеров.
// Объединяется с per-profile списками tools_require_approval /
// domains_require_approval — профиль может расширить набор, но не сузить.
var (
	HighRiskTools   = []string{"shell.execute", "file.write", "database.query"}
	HighRiskDomains = []string{"admin.", "internal.", "localhost"}
)

// Evaluate — чистая функция (Policy, Request) -> Result. Без I/O, без
// разделяемого состояния. Порядок проверок фиксирован: первый провал
// останавливает оценку, от этого зависит воспроизводимость reason-строк.
func Evaluate(p *domain.Policy, req *domain.EvaluationRequest) domain.EvaluationResult {
	// Шаг 1: резолвим профиль
	profile, ok := p.Profiles[req.Profile]
	if !ok {
		return deny(req, fmt.Sprintf("Profile '%s' not found", req.Profile))
	}

	// Шаг 2: allowlist инструментов (пустой список = без ограничений)
	if len(profile.Tools) > 0 && !contains(profile.Tools, req.Action.Tool) {
		return deny(req, fmt.Sprintf("Tool '%s' not allowed for this profile", req.Action.Tool))
	}

	// Шаг 3: доменные проверки — только если url вообще задан.
	// Действия без url (внутренние инструменты вроде "events") всегда оцениваемы.
	host := ""
	if req.Action.URL != "" {
		var err error
		host, err = extractHostname(req.Action.URL)
		if err != nil {
			// Кривой url не должен ронять оценку — это автоматический deny
			return deny(req, "invalid action url")
		}

		for _, denied := range profile.DomainsDeny {
			if strings.Contains(host, denied) || domainMatches(host, denied) {
				return deny(req, fmt.Sprintf("Domain '%s' is in deny list", host))
			}
		}

		if len(profile.DomainsAllow) > 0 {
			allowed := false
			for _, entry := range profile.DomainsAllow {
				if entry == "*" || domainMatches(host, entry) {
					allowed = true
					break
				}
			}
			if !allowed {
				return deny(req, fmt.Sprintf("Domain '%s' not in allow list", host))
			}
		}
	}

	// Шаг 4: read-only профили пропускают только GET
	if profile.ReadOnly && req.Action.Method != "" && req.Action.Method != "GET" {
		return deny(req, "Profile is read-only, only GET requests allowed")
	}

	// Шаг 5: allow + мягкий сигнал «нужна ручная проверка»
	return domain.EvaluationResult{
		Decision:       domain.DecisionAllow,
		Reason:         "Request allowed by profile rules",
		ProfileApplied: req.Profile,
		Constraints: domain.Constraints{
			RequiresApproval: requiresApproval(profile, req.Action.Tool, host),
		},
	}
}

func deny(req *domain.EvaluationRequest, reason string) domain.EvaluationResult {
	return domain.EvaluationResult{
		Decision:       domain.DecisionDeny,
		Reason:         reason,
		ProfileApplied: req.Profile,
	}
}

func requiresApproval(profile domain.Profile, tool, host string) bool {
	if contains(HighRiskTools, tool) || contains(profile.ToolsRequireApproval, tool) {
		return true
	}
	if host == "" {
		return false
	}
	for _, marker := range HighRiskDomains {
		if strings.Contains(host, marker) {
			return true
		}
	}
	for _, entry := range profile.DomainsRequireApproval {
		if domainMatches(host, entry) {
			return true
		}
	}
	return false
}

// domainMatches — сопоставление suffix/equality: "example.com" покрывает
// и сам example.com, и api.example.com
func domainMatches(host, entry string) bool {
	return host == entry || strings.HasSuffix(host, "."+entry)
}

func extractHostname(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("url has no hostname: %s", raw)
	}
	return host, nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
