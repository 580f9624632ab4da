package approval

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeper — фоновый цикл зачистки просроченных заявок. Работает независимо
// от трафика: заявка, по которой никто не принял решение, гарантированно
// разрешится сама. Единичный сбой логируется и не останавливает цикл.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						s.logger.Error("sweep panic recovered", zap.Any("panic", r))
					}
				}()
				s.ExpireSweep()
			}()
		}
	}
}
