package domain

import "fmt"

// Decision — итог оценки политики для одного действия агента
type Decision string

const (
	DecisionAllow Decision = "allow" // Пропустить запрос как есть
	DecisionDeny  Decision = "deny"  // Заблокировать (Fail-closed)
)

// Profile представляет собой именованный набор правил безопасности внутри политики.
// Пустой allowlist инструментов означает «без ограничений»: запрет по умолчанию
// живет уровнем выше — в выборе профиля и в fail-closed поведении шлюза.
type Profile struct {
	ReadOnly     bool     `json:"read_only,omitempty" yaml:"read_only"`
	Tools        []string `json:"tools,omitempty" yaml:"tools"`
	DomainsAllow []string `json:"domains_allow,omitempty" yaml:"domains_allow"`
	DomainsDeny  []string `json:"domains_deny,omitempty" yaml:"domains_deny"`

	// Бюджеты моделируются как данные политики, но ядром не исполняются
	Budgets *Budgets `json:"budgets,omitempty" yaml:"budgets"`

	// Точечные требования ручного подтверждения (HITL) сверх базового набора
	ToolsRequireApproval   []string `json:"tools_require_approval,omitempty" yaml:"tools_require_approval"`
	DomainsRequireApproval []string `json:"domains_require_approval,omitempty" yaml:"domains_require_approval"`
}

type Budgets struct {
	RPM          int `json:"rpm,omitempty" yaml:"rpm"`
	RPH          int `json:"rph,omitempty" yaml:"rph"`
	TokensPerDay int `json:"tokens_per_day,omitempty" yaml:"tokens_per_day"`
}

// Policy — опубликованный набор профилей. После публикации неизменяема.
type Policy struct {
	Version  int                `json:"version" yaml:"version"`
	Profiles map[string]Profile `json:"profiles" yaml:"profiles"`
	Defaults PolicyDefaults     `json:"defaults" yaml:"defaults"`
}

type PolicyDefaults struct {
	ApprovalsTTLSeconds int    `json:"approvals_ttl_seconds" yaml:"approvals_ttl_seconds"`
	DefaultProfile      string `json:"default_profile,omitempty" yaml:"default_profile"`
}

// EvaluationRequest — каноническое описание действия, которое агент хочет совершить
type EvaluationRequest struct {
	Profile string         `json:"profile"`
	Action  Action         `json:"action"`
	Context *ActionContext `json:"context,omitempty"`
}

type Action struct {
	Tool   string `json:"tool"`
	URL    string `json:"url,omitempty"`
	Method string `json:"method,omitempty"`
}

type ActionContext struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// EvaluationResult — вердикт чистого движка. Движок сам никогда не выдаёт
// "pending": мягкий сигнал RequiresApproval превращается в ожидание решения
// оператора уже на уровне шлюза.
type EvaluationResult struct {
	Decision       Decision    `json:"decision"`
	Reason         string      `json:"reason"`
	ProfileApplied string      `json:"profile_applied"`
	Constraints    Constraints `json:"constraints"`
}

type Constraints struct {
	RateLimited      bool `json:"rate_limited"`
	RequiresApproval bool `json:"requires_approval"`
}

// ValidationError — ошибка валидации на границе (HTTP 400).
// Отделяем её от внутренних ошибок, чтобы хендлеры маппили коды честно.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationErrorf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ValidatePolicy проверяет политику на соответствие фиксированной схеме.
// Всё, что не прошло проверку, не должно попасть в чистый движок.
func ValidatePolicy(p *Policy) error {
	if p == nil {
		return validationErrorf("policy must be an object")
	}
	if p.Version < 1 {
		return validationErrorf("policy version must be a positive number")
	}
	if p.Profiles == nil {
		return validationErrorf("policy must have profiles object")
	}
	for name, profile := range p.Profiles {
		if err := validateProfile(name, profile); err != nil {
			return err
		}
	}
	// Нулевой TTL означает «не задан», потребители подставляют дефолт
	if p.Defaults.ApprovalsTTLSeconds < 0 {
		return validationErrorf("approvals_ttl_seconds must be a positive number")
	}
	if dp := p.Defaults.DefaultProfile; dp != "" {
		if _, ok := p.Profiles[dp]; !ok {
			return validationErrorf("default_profile '%s' does not exist in profiles", dp)
		}
	}
	return nil
}

func validateProfile(name string, p Profile) error {
	for _, tool := range p.Tools {
		if tool == "" {
			return validationErrorf("profile '%s': tools must be non-empty strings", name)
		}
	}
	for _, d := range p.DomainsAllow {
		if d == "" {
			return validationErrorf("profile '%s': domains_allow entries must be non-empty strings", name)
		}
	}
	for _, d := range p.DomainsDeny {
		if d == "" {
			return validationErrorf("profile '%s': domains_deny entries must be non-empty strings", name)
		}
	}
	if b := p.Budgets; b != nil {
		if b.RPM < 0 || b.RPH < 0 || b.TokensPerDay < 0 {
			return validationErrorf("profile '%s': budget values must be positive numbers", name)
		}
	}
	return nil
}

// ValidateEvaluationRequest отсекает некондиционные запросы до вызова движка
func ValidateEvaluationRequest(r *EvaluationRequest) error {
	if r == nil {
		return validationErrorf("policy evaluation request must be an object")
	}
	if r.Profile == "" {
		return validationErrorf("request profile must be a non-empty string")
	}
	if r.Action.Tool == "" {
		return validationErrorf("action tool must be a non-empty string")
	}
	return nil
}
