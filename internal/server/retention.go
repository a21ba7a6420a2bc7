package server

import (
	"context"
	"time"

	"github.com/packagewjx/spc-monitor/internal/observability"
)

// 定期删除本地数据库中超过保留时长的周期数据
func (s *serverImpl) retainer(ctx context.Context, interval time.Duration) {
	s.logger.Info("过期数据清理线程启动", "retention", s.config.Retention.String())
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.removeExpired(ctx, time.Now())
		case <-ctx.Done():
			s.logger.Info("过期数据清理线程结束")
			return
		}
	}
}

func (s *serverImpl) removeExpired(ctx context.Context, now time.Time) {
	removed, err := s.dao.RemoveCyclesBefore(ctx, now.Add(-s.config.Retention))
	if err != nil {
		s.logger.Warn("清理过期数据失败", "error", err.Error())
		s.metrics.BackgroundError(observability.LoopRetain)
		return
	}
	s.logger.Debug("清理过期数据", "removed", removed)
}
