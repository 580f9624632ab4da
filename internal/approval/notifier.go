package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xela07ax/toolgate/internal/domain"
	"go.uber.org/zap"
)

// notificationPayload — то, что прилетает в webhook при смене статуса заявки
type notificationPayload struct {
	ID      string                 `json:"id"`
	Status  domain.ApprovalStatus  `json:"status"`
	AgentID string                 `json:"agentId,omitempty"`
	Ctx     domain.ApprovalContext `json:"ctx"`
	TS      int64                  `json:"ts"`
}

// WebhookNotifier — fire-and-forget доставка уведомлений о переходах заявок.
// Ограниченная очередь + выделенный воркер: медленный или лежащий webhook
// никогда не блокирует принятие решения. Без ретраев — сбой проглатывается
// после логирования (Upstream-ошибки не поднимаются к вызывающему).
type WebhookNotifier struct {
	ch         chan domain.Approval
	webhookURL string
	httpClient *http.Client
	logger     *zap.Logger
	wg         sync.WaitGroup
	isClosed   int32 // атомарный флаг: 0 - открыт, 1 - закрыт
}

func NewWebhookNotifier(webhookURL string, bufferSize int, logger *zap.Logger) *WebhookNotifier {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &WebhookNotifier{
		ch:         make(chan domain.Approval, bufferSize),
		webhookURL: webhookURL,
		httpClient: &http.Client{Timeout: 2 * time.Second},
		logger:     logger.Named("notifier"),
	}
}

func (n *WebhookNotifier) Start() {
	if n.webhookURL == "" {
		n.logger.Info("no webhook url configured, notifications disabled")
		return
	}
	n.wg.Add(1)
	go n.worker()
}

// Stop запирает вход и ждет, пока воркер дольет очередь
func (n *WebhookNotifier) Stop() {
	if n.webhookURL == "" {
		return
	}
	// Сначала флаг, потом крошечная пауза: Notify, успевший пройти проверку
	// флага, доложит в канал до его закрытия
	atomic.StoreInt32(&n.isClosed, 1)
	time.Sleep(10 * time.Millisecond)
	close(n.ch)
	n.wg.Wait()
	n.logger.Info("notifier stopped gracefully")
}

// Notify реализует approval.Notifier. Неблокирующая постановка в очередь
// со сбросом нагрузки при переполнении.
func (n *WebhookNotifier) Notify(a domain.Approval) {
	if n.webhookURL == "" {
		return
	}
	if atomic.LoadInt32(&n.isClosed) == 1 {
		n.logger.Warn("notification dropped: notifier is stopping", zap.String("id", a.ID))
		return
	}

	select {
	case n.ch <- a:
	default:
		n.logger.Error("notification_buffer_overflow",
			zap.String("id", a.ID),
			zap.String("status", string(a.Status)))
	}
}

func (n *WebhookNotifier) worker() {
	defer n.wg.Done()

	for a := range n.ch {
		n.post(a)
	}
}

func (n *WebhookNotifier) post(a domain.Approval) {
	payload := notificationPayload{
		ID:      a.ID,
		Status:  a.Status,
		AgentID: a.AgentID,
		Ctx:     a.Ctx,
		TS:      time.Now().UnixMilli(),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("notification marshal failed", zap.Error(err))
		return
	}

	// Таймаут собственный, от жизненного цикла входящего запроса не зависит
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("notification request build failed", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "toolgate-gateway/1.0")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("webhook delivery failed",
			zap.String("id", a.ID),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		n.logger.Warn("webhook returned non-success status",
			zap.String("id", a.ID),
			zap.Int("status", resp.StatusCode))
		return
	}

	n.logger.Debug("notification delivered",
		zap.String("id", a.ID),
		zap.String("status", string(a.Status)))
}
