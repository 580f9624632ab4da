package collector

import (
	"context"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RefreshSignaler уведомляет шлюзы о смене активной политики
type RefreshSignaler interface {
	Signal(ctx context.Context)
}

// RedisSignaler шлет сигнал в pub/sub канал. Потеря сигнала не фатальна:
// TTL-кэш шлюза все равно перечитает политику
type RedisSignaler struct {
	rdb     *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisSignaler(rdb *redis.Client, channel string, logger *zap.Logger) *RedisSignaler {
	return &RedisSignaler{rdb: rdb, channel: channel, logger: logger.Named("policy-signal")}
}

func (s *RedisSignaler) Signal(ctx context.Context) {
	if err := s.rdb.Publish(ctx, s.channel, "refresh").Err(); err != nil {
		s.logger.Error("failed to publish policy signal", zap.String("chan", s.channel), zap.Error(err))
	}
}

// NoopSignaler используется когда Redis не сконфигурирован
type NoopSignaler struct{}

func (NoopSignaler) Signal(context.Context) {}
