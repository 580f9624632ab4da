package engine

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PolicyInvalidator — кэш политики, который можно принудительно сбросить
type PolicyInvalidator interface {
	Invalidate()
}

// ListenPolicyUpdates — "живучая" подписка на сигналы обновления политики из Redis.
// Обрабатывает переподключения: при каждом успешном коннекте кэш сбрасывается,
// чтобы шлюз не жил на версии, опубликованной во время разрыва.
func ListenPolicyUpdates(
	ctx context.Context,
	rdb *redis.Client,
	logger *zap.Logger,
	channel string,
	cache PolicyInvalidator,
) {
	log := logger.Named("policy-listener")

	for {
		pubsub := rdb.Subscribe(ctx, channel)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			log.Error("failed to subscribe", zap.String("chan", channel), zap.Error(err))
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case <-time.After(5 * time.Second):
			}
			continue
		}

		// Синхронизация при каждом успешном коннекте
		cache.Invalidate()
		log.Info("subscribed to policy updates", zap.String("chan", channel))

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}

				log.Info("policy update signal", zap.String("payload", msg.Payload))
				cache.Invalidate()
			}
		}

		pubsub.Close()
		time.Sleep(time.Second)
	}
}
