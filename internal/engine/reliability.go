package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/sony/gobreaker"
	"github.com/xela07ax/toolgate/internal/trust"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// UpstreamResponse — ответ коллектора, прозрачно возвращаемый агенту
type UpstreamResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// Upstream — исполнитель прокси-вызовов к коллектору, обернутый в контур
// надежности: rate limiter + circuit breaker + один быстрый ретрай с
// таймаутом на попытку. Каждый вызов подписывается ключом апстрима
// (второй хоп цепочки доверия).
type Upstream struct {
	baseURL     string
	upstreamKey string
	httpClient  *http.Client
	cb          *gobreaker.CircuitBreaker
	limiter     *rate.Limiter
	timeout     time.Duration
	logger      *zap.Logger
}

func NewUpstream(baseURL, upstreamKey string, timeout time.Duration, logger *zap.Logger) *Upstream {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "toolgate-collector",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second, // Через столько CB попробует закрыться
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
	})

	return &Upstream{
		baseURL:     strings.TrimRight(baseURL, "/"),
		upstreamKey: upstreamKey,
		httpClient:  &http.Client{Timeout: timeout},
		cb:          cb,
		limiter:     rate.NewLimiter(rate.Limit(100), 20),
		timeout:     timeout,
		logger:      logger.Named("upstream"),
	}
}

// Forward проксирует запрос в коллектор, сохраняя тело и статус как есть
func (u *Upstream) Forward(ctx context.Context, method, path, traceID string, body []byte, contentType string) (*UpstreamResponse, error) {
	// 1. Rate Limiter
	if err := u.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit exceeded: %w", err)
	}

	fullURL := u.baseURL + path
	var final *UpstreamResponse

	// 2. Circuit Breaker поверх ретрая
	_, err := u.cb.Execute(func() (interface{}, error) {
		r := retry.New(
			retry.Context(ctx),
			retry.Attempts(2), // один быстрый повтор
		)

		return nil, r.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, u.timeout)
			defer cancel()

			req, err := http.NewRequestWithContext(tCtx, method, fullURL, bytes.NewReader(body))
			if err != nil {
				return err
			}
			if contentType != "" {
				req.Header.Set("Content-Type", contentType)
			}
			req.Header.Set(HeaderTraceID, traceID)

			if u.upstreamKey != "" {
				// Подписываем путь, а не полный URL: получатель не знает,
				// через какой хост к нему пришли
				sig, ts := trust.SignProxy(u.upstreamKey, method, path, traceID, time.Now())
				req.Header.Set(trust.HeaderSignature, sig)
				req.Header.Set(trust.HeaderTimestamp, ts)
			}

			resp, err := u.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			respBody, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}

			final = &UpstreamResponse{
				Status: resp.StatusCode,
				Header: resp.Header.Clone(),
				Body:   respBody,
			}
			return nil
		})
	})

	if err != nil {
		return nil, err
	}
	return final, nil
}

func (u *Upstream) BaseURL() string {
	return u.baseURL
}
