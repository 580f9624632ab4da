package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v5"
	"github.com/xela07ax/toolgate/internal/domain"
	"go.uber.org/zap"
)

// cacheEntry принадлежит исключительно клиенту и наружу не отдается
type cacheEntry struct {
	policy    *domain.Policy
	fetchedAt time.Time
	ttl       time.Duration
}

// TTLClient доставляет активную политику из коллектора и кэширует её на
// окно свежести. Горячий путь шлюза не должен зависеть от доступности
// хранилища версий: при сбое обновления отдаем последнюю удачную копию
// (stale-serving), а полное отсутствие политики сигналим как nil — шлюз
// обязан трактовать nil как deny (fail-closed).
type TTLClient struct {
	mu           sync.Mutex
	cache        *cacheEntry
	collectorURL string
	ttl          time.Duration
	fetchTimeout time.Duration
	httpClient   *http.Client
	logger       *zap.Logger
}

func NewTTLClient(collectorURL string, ttl, fetchTimeout time.Duration, logger *zap.Logger) *TTLClient {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 2 * time.Second
	}
	return &TTLClient{
		collectorURL: strings.TrimRight(collectorURL, "/"),
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		httpClient:   &http.Client{Timeout: fetchTimeout},
		logger:       logger.Named("policy-client"),
	}
}

// activeResponse — формат ответа коллектора GET /v1/policies/active
type activeResponse struct {
	OK     bool `json:"ok"`
	Active *struct {
		Policy *domain.Policy `json:"policy"`
	} `json:"active"`
}

// GetActivePolicy возвращает политику из кэша, пока окно свежести не истекло.
// Дальше — попытка обновления с одним быстрым ретраем; при неудаче stale-копия
// либо nil, если кэш так и не прогрелся (холодный старт при лежащем коллекторе).
func (c *TTLClient) GetActivePolicy(ctx context.Context) *domain.Policy {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cache != nil && time.Since(c.cache.fetchedAt) < c.cache.ttl {
		return c.cache.policy
	}

	fresh, err := c.fetchActive(ctx)
	if err != nil {
		if c.cache != nil {
			c.logger.Warn("policy refresh failed, serving stale copy",
				zap.Duration("age", time.Since(c.cache.fetchedAt)),
				zap.Error(err))
			return c.cache.policy
		}
		c.logger.Error("policy refresh failed with cold cache", zap.Error(err))
		return nil
	}
	if fresh == nil {
		// Коллектор жив, но активной версии нет — это не сбой сети,
		// stale-копия тут была бы враньем
		c.cache = nil
		return nil
	}

	c.cache = &cacheEntry{policy: fresh, fetchedAt: time.Now(), ttl: c.ttl}
	return fresh
}

// Invalidate сбрасывает кэш. Дергается слушателем policy-update сигнала,
// чтобы свежеактивированная политика вступила в силу раньше истечения TTL.
func (c *TTLClient) Invalidate() {
	c.mu.Lock()
	c.cache = nil
	c.mu.Unlock()
}

func (c *TTLClient) fetchActive(ctx context.Context) (*domain.Policy, error) {
	var result *domain.Policy

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(2), // один быстрый повтор, без экспоненты
	)

	err := r.Do(func() error {
		tCtx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(tCtx, http.MethodGet, c.collectorURL+"/v1/policies/active", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("collector returned status %d", resp.StatusCode)
		}

		var body activeResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decode active policy: %w", err)
		}

		if !body.OK || body.Active == nil || body.Active.Policy == nil {
			result = nil // активной версии нет — валидный ответ
			return nil
		}
		result = body.Active.Policy
		return nil
	})

	return result, err
}
