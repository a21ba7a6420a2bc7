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
	"golang.org/x/sync/errgroup"
)

const DefaultRefreshInterval = 800 * time.Millisecond

// Aggregator 对当前SKU保持唯一的订阅，并把快照写入Store。SKU变化时取消旧的订阅后重新订阅。
type Aggregator struct {
	backend  backend.Backend
	selector *selector.Selector
	store    *snapshot.Store

	// 大于0时为每个SKU启动刷新循环
	refreshInterval time.Duration
	callTimeout     time.Duration

	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewAggregator(b backend.Backend, sel *selector.Selector, store *snapshot.Store,
	refreshInterval, callTimeout time.Duration, metrics *observability.Metrics, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		backend:         b,
		selector:        sel,
		store:           store,
		refreshInterval: refreshInterval,
		callTimeout:     callTimeout,
		metrics:         metrics,
		logger:          logger.With("component", "aggregator"),
	}
}

// Run 直到ctx结束才返回，返回前所有SKU相关的协程都已退出
func (a *Aggregator) Run(ctx context.Context) error {
	var (
		active string
		cancel context.CancelFunc
		group  *errgroup.Group
	)
	stop := func() {
		if cancel == nil {
			return
		}
		cancel()
		_ = group.Wait()
		cancel = nil
	}
	defer stop()

	for {
		sku, changed := a.selector.Load()
		if sku != "" && sku != active {
			// 旧SKU的协程全部退出后才写入新SKU的加载状态
			stop()
			a.store.Set(core.LoadingSnapshot(sku))

			var skuCtx context.Context
			skuCtx, cancel = context.WithCancel(ctx)
			group, skuCtx = errgroup.WithContext(skuCtx)
			a.start(skuCtx, group, sku)
			active = sku
			a.logger.Debug("开始观察", "sku", sku)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *Aggregator) start(ctx context.Context, group *errgroup.Group, sku string) {
	group.Go(func() error {
		a.forward(ctx, sku)
		return nil
	})
	if a.refreshInterval > 0 {
		group.Go(func() error {
			a.refreshLoop(ctx, sku)
			return nil
		})
	}
}

func (a *Aggregator) forward(ctx context.Context, sku string) {
	a.forwardFrom(ctx, sku, a.backend.Observe(ctx, sku))
}

// forwardFrom 只在ctx有效且SKU仍被选中时写入快照
func (a *Aggregator) forwardFrom(ctx context.Context, sku string, snapshots <-chan core.DashboardSnapshot) {
	for s := range snapshots {
		next := s
		written := a.store.UpdateIf(func(old core.DashboardSnapshot) (core.DashboardSnapshot, bool) {
			if ctx.Err() != nil {
				return old, false
			}
			selected := a.selector.Get()
			if selected == "" {
				// 没有选择时使用后端报告的SKU
				if next.CurrentSku == "" {
					next.CurrentSku = sku
				}
				return next, true
			}
			if selected != sku {
				return old, false
			}
			next.CurrentSku = selected
			return next, true
		})
		if written {
			a.metrics.ObserveSnapshot(next.Error != nil)
		} else {
			a.logger.Debug("丢弃过期快照", "sku", sku)
		}
	}
}

func (a *Aggregator) refreshLoop(ctx context.Context, sku string) {
	ticker := time.NewTicker(a.refreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := refresh(ctx, a.backend, sku, a.callTimeout); err != nil && ctx.Err() == nil {
				a.logger.Debug("刷新失败", "sku", sku, "error", err.Error())
				a.metrics.BackgroundError(observability.LoopRefresh)
			}
		}
	}
}

func refresh(ctx context.Context, b backend.Backend, sku string, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return b.Refresh(ctx, sku)
}
