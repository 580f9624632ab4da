package domain

import (
	"errors"
	"math/rand"
	"strconv"
	"time"
)

// Статусы State Machine заявки на подтверждение
type ApprovalStatus string

const (
	StatusPending  ApprovalStatus = "pending"
	StatusApproved ApprovalStatus = "approved"
	StatusDenied   ApprovalStatus = "denied"
	StatusExpired  ApprovalStatus = "expired"
)

var (
	// ErrNotFound — заявки никогда не существовало. Вызывающий обязан уметь
	// отличать это от «решение уже принято».
	ErrNotFound = errors.New("approval not found")

	ErrInvalidTransition = errors.New("invalid approval status transition")
	ErrAlreadyProcessed  = errors.New("approval request already processed")
)

// Approval — запись HITL-проверки, привязанная к одному конкретному действию.
// Создается только шлюзом (allow-with-review), мутируется только решением
// оператора либо фоновой зачисткой просроченных.
type Approval struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agentId,omitempty"`
	CreatedAt int64           `json:"createdAt"` // ms epoch
	ExpiresAt int64           `json:"expiresAt"` // ms epoch
	Reason    string          `json:"reason,omitempty"`
	Ctx       ApprovalContext `json:"ctx"`
	Status    ApprovalStatus  `json:"status"`
	Note      string          `json:"note,omitempty"`
}

// ApprovalContext — слепок действия на момент постановки в очередь.
// BodyHash служит идемпотентным ключом повторной подачи.
type ApprovalContext struct {
	Tool     string `json:"tool,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Method   string `json:"method,omitempty"`
	Path     string `json:"path,omitempty"`
	BodyHash string `json:"bodyHash,omitempty"`
}

// CanTransitionTo проверяет правила конечного автомата: переходы только
// вперед и только из pending.
func (a *Approval) CanTransitionTo(next ApprovalStatus) error {
	if a.Status != StatusPending {
		return ErrAlreadyProcessed
	}
	if next == StatusPending {
		return ErrInvalidTransition
	}
	return nil
}

// IsExpired — дедлайн прошел, но зачистка могла еще не добежать
func (a *Approval) IsExpired(now time.Time) bool {
	return now.UnixMilli() > a.ExpiresAt
}

const base36Alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewApprovalID генерирует id вида apr_<ms в base36>_<6 случайных base36>.
// Сортировка по id дает хронологический порядок — дашборды на это опираются.
func NewApprovalID(now time.Time) string {
	ts := strconv.FormatInt(now.UnixMilli(), 36)
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = base36Alphabet[rand.Intn(len(base36Alphabet))]
	}
	return "apr_" + ts + "_" + string(suffix)
}

// ComputeExpiresAt — дедлайн жизни pending-заявки
func ComputeExpiresAt(createdAt time.Time, ttlSeconds int) int64 {
	return createdAt.UnixMilli() + int64(ttlSeconds)*1000
}
