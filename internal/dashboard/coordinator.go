package dashboard

import (
	"context"
	"log/slog"
	"time"

	"github.com/packagewjx/spc-monitor/internal/observability"
	"github.com/packagewjx/spc-monitor/internal/selector"
	"github.com/packagewjx/spc-monitor/internal/snapshot"
	"github.com/packagewjx/spc-monitor/pkg/backend"
	"github.com/packagewjx/spc-monitor/pkg/core"
)

// Coordinator 执行校正。多个校正同时进行时不做互斥，由调用方保证。
type Coordinator struct {
	backend     backend.Backend
	selector    *selector.Selector
	store       *snapshot.Store
	callTimeout time.Duration
	metrics     *observability.Metrics
	logger      *slog.Logger
}

func NewCoordinator(b backend.Backend, sel *selector.Selector, store *snapshot.Store,
	callTimeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		backend:     b,
		selector:    sel,
		store:       store,
		callTimeout: callTimeout,
		metrics:     metrics,
		logger:      logger.With("component", "coordinator"),
	}
}

// ApplyCorrection 对当前SKU执行校正。当前没有SKU时什么也不做。
// 加载状态与结束状态只写入仍属于该SKU的快照。校正期间切换了SKU时，新SKU的加载快照已经替代了本次校正的状态，
// 结束状态不再写入，也不会把错误带到新SKU上。返回值为校正请求本身的错误。
func (c *Coordinator) ApplyCorrection(ctx context.Context) error {
	sku := c.selector.Get()
	if sku == "" {
		return nil
	}

	c.write(sku, func(s *core.DashboardSnapshot) {
		s.IsLoading = true
		s.Error = nil
	})

	err := c.apply(ctx, sku)
	c.metrics.Correction(err)
	if err != nil {
		c.logger.Warn("校正失败", "sku", sku, "error", err.Error())
		c.write(sku, func(s *core.DashboardSnapshot) {
			msg := core.CorrectionFailedMessage
			s.IsLoading = false
			s.Error = &msg
		})
		return err
	}

	// 刷新失败由后台观察自行恢复
	if err := refresh(ctx, c.backend, sku, c.callTimeout); err != nil {
		c.logger.Debug("校正后刷新失败", "sku", sku, "error", err.Error())
	}
	c.write(sku, func(s *core.DashboardSnapshot) {
		s.IsLoading = false
	})
	c.logger.Info("校正完成", "sku", sku)
	return nil
}

// write 只在快照仍属于sku时修改
func (c *Coordinator) write(sku string, fn func(s *core.DashboardSnapshot)) {
	written := c.store.UpdateIf(func(old core.DashboardSnapshot) (core.DashboardSnapshot, bool) {
		if old.CurrentSku != sku {
			return old, false
		}
		fn(&old)
		return old, true
	})
	if !written {
		c.logger.Info("SKU已切换，不写入校正状态", "sku", sku)
	}
}

func (c *Coordinator) apply(ctx context.Context, sku string) error {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}
	return c.backend.ApplyCorrection(ctx, sku)
}
