package audit

/*
Файл emitter.go реализует асинхронную доставку событий аудита в коллектор.

Ключевые особенности архитектуры:
- Non-blocking Logging: неблокирующий канал между Hot Path шлюза и воркером.
  Задержки коллектора не влияют на Response Time решения.
- Load Shedding: при переполнении буфера событие сбрасывается с записью
  в обычный лог — аудит не имеет права ронять пайплайн.
- Drain Pattern & Graceful Shutdown: при остановке вход запирается, воркер
  дочитывает очередь до конца и только потом завершается.
- Trust Chain: каждый исходящий запрос подписывается HMAC-ключом апстрима.
*/

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/toolgate/internal/trust"
	"go.uber.org/zap"
)

// BufferGauge — необязательный приемник метрики заполненности буфера
type BufferGauge interface {
	Set(float64)
}

type Emitter struct {
	ch           chan Event
	collectorURL string
	upstreamKey  string
	httpClient   *http.Client
	logger       *zap.Logger
	gauge        BufferGauge
	wg           sync.WaitGroup
	isClosed     int32
}

func NewEmitter(collectorURL, upstreamKey string, gauge BufferGauge, logger *zap.Logger) *Emitter {
	return &Emitter{
		ch:           make(chan Event, 1000),
		collectorURL: strings.TrimRight(collectorURL, "/"),
		upstreamKey:  upstreamKey,
		httpClient:   &http.Client{Timeout: 2 * time.Second},
		logger:       logger.Named("emitter"),
		gauge:        gauge,
	}
}

func (e *Emitter) Start() {
	if e.collectorURL == "" {
		e.logger.Info("no collector url configured, event emission disabled")
		return
	}
	e.wg.Add(1)
	go e.worker()
}

// Stop запирает вход и ждет полной вычитки буфера
func (e *Emitter) Stop() {
	if e.collectorURL == "" {
		return
	}
	// Пауза между флагом и закрытием: Emit, прошедший проверку флага,
	// успевает доложить в канал
	atomic.StoreInt32(&e.isClosed, 1)
	time.Sleep(10 * time.Millisecond)
	close(e.ch)
	e.wg.Wait()
	e.logger.Info("emitter stopped gracefully")
}

// Emit ставит событие в очередь. Никогда не блокирует вызывающего.
func (e *Emitter) Emit(ev Event) {
	if e.collectorURL == "" {
		return
	}
	if atomic.LoadInt32(&e.isClosed) == 1 {
		e.logger.Warn("audit event dropped: emitter is stopping", zap.String("trace_id", ev.TraceID))
		return
	}

	select {
	case e.ch <- ev:
		if e.gauge != nil {
			e.gauge.Set(float64(len(e.ch)))
		}
	default:
		e.logger.Error("audit_buffer_overflow",
			zap.String("trace_id", ev.TraceID),
			zap.String("type", ev.Type))
	}
}

func (e *Emitter) worker() {
	defer e.wg.Done()

	for ev := range e.ch {
		e.send(ev)
		if e.gauge != nil {
			e.gauge.Set(float64(len(e.ch)))
		}
	}
}

func (e *Emitter) send(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		e.logger.Error("event marshal failed", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.collectorURL+"/v1/events", bytes.NewReader(body))
	if err != nil {
		e.logger.Error("event request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if e.upstreamKey != "" {
		req.Header.Set(trust.HeaderSignature, trust.Sign(e.upstreamKey, body))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		// Аудит не ретраит: событие ценнее потерять, чем копить очередь
		e.logger.Warn("event delivery failed", zap.String("trace_id", ev.TraceID), zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		e.logger.Warn("collector rejected event",
			zap.String("trace_id", ev.TraceID),
			zap.Int("status", resp.StatusCode))
	}
}
