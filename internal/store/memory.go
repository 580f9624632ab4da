package store

import (
	"context"
	"sync"
	"time"

	"github.com/xela07ax/toolgate/internal/domain"
)

// MemoryStore — версии политики в памяти. Базовый вариант для разработки
// и тестов; история живет до рестарта
type MemoryStore struct {
	mu       sync.RWMutex
	versions []*PolicyVersion // от новых к старым
	activeID string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Publish(_ context.Context, p domain.Policy) (*PolicyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := &PolicyVersion{
		ID:          NewVersionID(),
		Version:     len(s.versions) + 1,
		Policy:      p,
		PublishedAt: time.Now().UTC(),
	}
	s.versions = append([]*PolicyVersion{v}, s.versions...)
	return copyVersion(v), nil
}

func (s *MemoryStore) Activate(_ context.Context, id string) (*PolicyVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *PolicyVersion
	for _, v := range s.versions {
		if v.ID == id {
			target = v
			break
		}
	}
	if target == nil {
		return nil, ErrVersionNotFound
	}

	// Инвариант: активна ровно одна версия
	for _, v := range s.versions {
		v.Active = v.ID == id
	}
	s.activeID = id
	return copyVersion(target), nil
}

func (s *MemoryStore) GetActive(_ context.Context) (*PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.activeID == "" {
		return nil, nil
	}
	for _, v := range s.versions {
		if v.ID == s.activeID {
			return copyVersion(v), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ListVersions(_ context.Context) ([]PolicyVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]PolicyVersion, 0, len(s.versions))
	for _, v := range s.versions {
		out = append(out, *copyVersion(v))
	}
	return out, nil
}

func copyVersion(v *PolicyVersion) *PolicyVersion {
	cp := *v
	return &cp
}
