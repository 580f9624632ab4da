package audit

import "time"

// Типы событий трассы, которые шлюз отправляет коллектору
const (
	TypeGateDecision = "gate.decision"
	TypeProxyForward = "proxy.forward"
	TypeProxyError   = "proxy.error"
)

// Event — единица аудита. Привязка к трассе сквозная: traceId проходит
// от агента через шлюз до коллектора без изменений.
type Event struct {
	TraceID string                 `json:"traceId"`
	Type    string                 `json:"type"`
	TS      string                 `json:"ts"` // ISO 8601
	Attrs   map[string]interface{} `json:"attrs"`
}

func NewEvent(traceID, eventType string, attrs map[string]interface{}) Event {
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return Event{
		TraceID: traceID,
		Type:    eventType,
		TS:      time.Now().UTC().Format(time.RFC3339Nano),
		Attrs:   attrs,
	}
}
