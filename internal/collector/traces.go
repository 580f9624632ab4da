package collector

import (
	"sync"

	"github.com/xela07ax/toolgate/internal/audit"
)

const defaultTraceCapacity = 1000

// TraceStore — события аудита в памяти, сгруппированные по trace_id.
// Емкость ограничена: при переполнении вытесняются самые старые трейсы
type TraceStore struct {
	mu       sync.RWMutex
	traces   map[string][]audit.Event
	order    []string // trace_id в порядке появления, для вытеснения
	capacity int
}

func NewTraceStore(capacity int) *TraceStore {
	if capacity <= 0 {
		capacity = defaultTraceCapacity
	}
	return &TraceStore{
		traces:   make(map[string][]audit.Event),
		capacity: capacity,
	}
}

func (s *TraceStore) Append(e audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.traces[e.TraceID]; !ok {
		if len(s.order) >= s.capacity {
			oldest := s.order[0]
			s.order = s.order[1:]
			delete(s.traces, oldest)
		}
		s.order = append(s.order, e.TraceID)
	}
	s.traces[e.TraceID] = append(s.traces[e.TraceID], e)
}

// Get возвращает события трейса в порядке поступления. nil — трейс неизвестен
func (s *TraceStore) Get(traceID string) []audit.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, ok := s.traces[traceID]
	if !ok {
		return nil
	}
	out := make([]audit.Event, len(events))
	copy(out, events)
	return out
}

func (s *TraceStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}
