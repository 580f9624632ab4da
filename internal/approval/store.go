package approval

import (
	"sort"
	"sync"
	"time"

	"github.com/xela07ax/toolgate/internal/domain"
	"go.uber.org/zap"
)

// Notifier получает уведомления о каждом переходе статуса заявки.
// Реализация обязана быть неблокирующей: переход коммитится до отправки.
type Notifier interface {
	Notify(a domain.Approval)
}

// Filter — параметры выборки очереди заявок
type Filter struct {
	Status  domain.ApprovalStatus
	AgentID string
}

// Store — однопроцессное in-memory хранилище заявок HITL. Мапа мутируется
// конкурентно из обработчиков запросов и фоновой зачистки, поэтому каждая
// read-modify-write последовательность атомарна под одним мьютексом:
// зачистка не может перевернуть заявку, решение по которой принимается
// в соседней горутине.
type Store struct {
	mu        sync.RWMutex
	approvals map[string]*domain.Approval

	notifier Notifier
	logger   *zap.Logger
}

func NewStore(notifier Notifier, logger *zap.Logger) *Store {
	return &Store{
		approvals: make(map[string]*domain.Approval),
		notifier:  notifier,
		logger:    logger.Named("approvals"),
	}
}

// Create регистрирует новую pending-заявку
func (s *Store) Create(ctx domain.ApprovalContext, reason string, ttlSeconds int, agentID string) *domain.Approval {
	if ttlSeconds <= 0 {
		ttlSeconds = 3600
	}
	if reason == "" {
		reason = "policy"
	}

	now := time.Now()
	a := &domain.Approval{
		ID:        domain.NewApprovalID(now),
		AgentID:   agentID,
		CreatedAt: now.UnixMilli(),
		ExpiresAt: domain.ComputeExpiresAt(now, ttlSeconds),
		Reason:    reason,
		Ctx:       ctx,
		Status:    domain.StatusPending,
	}

	s.mu.Lock()
	s.approvals[a.ID] = a
	s.mu.Unlock()

	s.logger.Info("approval created",
		zap.String("id", a.ID),
		zap.String("tool", ctx.Tool),
		zap.String("agent_id", agentID))

	return copyOf(a)
}

// Get возвращает заявку либо domain.ErrNotFound
func (s *Store) Get(id string) (*domain.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.approvals[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyOf(a), nil
}

// List — выборка с фильтрами, новые сверху
func (s *Store) List(f Filter) []*domain.Approval {
	s.mu.RLock()
	results := make([]*domain.Approval, 0, len(s.approvals))
	for _, a := range s.approvals {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.AgentID != "" && a.AgentID != f.AgentID {
			continue
		}
		results = append(results, copyOf(a))
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		return results[i].CreatedAt > results[j].CreatedAt
	})
	return results
}

// FindByContext ищет самую свежую заявку с тем же идемпотентным ключом
// (bodyHash), ограничиваясь тем же инструментом и доменом. Именно эта выборка
// превращает повторную подачу байт-идентичного запроса в детерминированный
// исход без повторного ревью.
func (s *Store) FindByContext(tool, dom, bodyHash string) *domain.Approval {
	if bodyHash == "" {
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Approval
	for _, a := range s.approvals {
		if a.Ctx.BodyHash != bodyHash || a.Ctx.Tool != tool || a.Ctx.Domain != dom {
			continue
		}
		if best == nil || a.CreatedAt > best.CreatedAt {
			best = a
		}
	}
	if best == nil {
		return nil
	}
	return copyOf(best)
}

// Approve фиксирует решение оператора. Отказывает с ErrAlreadyProcessed,
// если решение уже принято или заявка просрочена — переходы только вперед.
func (s *Store) Approve(id, note string) (*domain.Approval, error) {
	return s.decide(id, domain.StatusApproved, note)
}

// Deny — отклонение оператором
func (s *Store) Deny(id, note string) (*domain.Approval, error) {
	return s.decide(id, domain.StatusDenied, note)
}

func (s *Store) decide(id string, next domain.ApprovalStatus, note string) (*domain.Approval, error) {
	s.mu.Lock()
	a, ok := s.approvals[id]
	if !ok {
		s.mu.Unlock()
		return nil, domain.ErrNotFound
	}
	if err := a.CanTransitionTo(next); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	a.Status = next
	if note != "" {
		a.Note = note
	}
	snapshot := *a
	s.mu.Unlock()

	s.logger.Info("approval decided",
		zap.String("id", id),
		zap.String("status", string(next)))

	// Переход уже закоммичен — уведомление чисто информационное
	if s.notifier != nil {
		s.notifier.Notify(snapshot)
	}
	return &snapshot, nil
}

// ExpireSweep переводит все просроченные pending-заявки в expired и возвращает
// количество перевернутых. Check-and-set на каждую заявку выполняется под тем
// же замком, что и решения оператора.
func (s *Store) ExpireSweep() int {
	now := time.Now().UnixMilli()

	s.mu.Lock()
	var flipped []domain.Approval
	for _, a := range s.approvals {
		if a.Status == domain.StatusPending && now > a.ExpiresAt {
			a.Status = domain.StatusExpired
			flipped = append(flipped, *a)
		}
	}
	s.mu.Unlock()

	for _, snapshot := range flipped {
		if s.notifier != nil {
			s.notifier.Notify(snapshot)
		}
	}

	if len(flipped) > 0 {
		s.logger.Info("expired stale approvals", zap.Int("count", len(flipped)))
	}
	return len(flipped)
}

// Stats — агрегат для /api/approvals/stats
func (s *Store) Stats() domain.ApprovalStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := domain.ApprovalStats{
		Total: len(s.approvals),
		ByStatus: map[domain.ApprovalStatus]int{
			domain.StatusPending:  0,
			domain.StatusApproved: 0,
			domain.StatusDenied:   0,
			domain.StatusExpired:  0,
		},
	}
	for _, a := range s.approvals {
		stats.ByStatus[a.Status]++
	}
	return stats
}

func copyOf(a *domain.Approval) *domain.Approval {
	c := *a
	return &c
}
