// Package dashboard 把SKU选择、数据观察与校正组合成看板
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
	"github.com/packagewjx/spc-monitor/pkg/server"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	// 启动时从后端获取当前SKU
	Discover bool
	// 跟随后端的SKU变化，并为当前SKU定时刷新
	Follow          bool
	DefaultSku      string
	FollowInterval  time.Duration
	RefreshInterval time.Duration
	CallTimeout     time.Duration
}

type Dashboard struct {
	backend     backend.Backend
	options     Options
	selector    *selector.Selector
	store       *snapshot.Store
	aggregator  *Aggregator
	coordinator *Coordinator
	logger      *slog.Logger
}

var _ server.Dashboard = &Dashboard{}

func New(b backend.Backend, options Options, metrics *observability.Metrics, logger *slog.Logger) *Dashboard {
	if logger == nil {
		logger = slog.Default()
	}
	if options.DefaultSku == "" {
		options.DefaultSku = core.DefaultSku
	}
	if options.FollowInterval <= 0 {
		options.FollowInterval = selector.DefaultFollowInterval
	}
	if options.RefreshInterval <= 0 {
		options.RefreshInterval = DefaultRefreshInterval
	}

	initial := options.DefaultSku
	if options.Discover {
		initial = ""
	}
	refreshInterval := time.Duration(0)
	if options.Follow {
		refreshInterval = options.RefreshInterval
	}

	sel := selector.New(initial, metrics, logger)
	store := snapshot.NewStore()
	return &Dashboard{
		backend:     b,
		options:     options,
		selector:    sel,
		store:       store,
		aggregator:  NewAggregator(b, sel, store, refreshInterval, options.CallTimeout, metrics, logger),
		coordinator: NewCoordinator(b, sel, store, options.CallTimeout, metrics, logger),
		logger:      logger.With("component", "dashboard"),
	}
}

// Run 启动所有后台循环，直到ctx结束。启动时的SKU解析在观察开始之前完成。
func (d *Dashboard) Run(ctx context.Context) error {
	if d.options.Discover {
		sku := d.selector.Resolve(ctx, d.backend, d.options.CallTimeout, d.options.DefaultSku)
		d.logger.Info("当前SKU", "sku", sku)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if d.options.Follow {
		group.Go(func() error {
			d.selector.Follow(groupCtx, d.backend, d.options.FollowInterval, d.options.CallTimeout)
			return nil
		})
	}
	group.Go(func() error {
		return d.aggregator.Run(groupCtx)
	})
	return group.Wait()
}

func (d *Dashboard) Snapshot() core.DashboardSnapshot {
	return d.store.Get()
}

func (d *Dashboard) Sku() string {
	return d.selector.Get()
}

func (d *Dashboard) SelectSku(sku string) {
	d.selector.Set(sku)
}

func (d *Dashboard) Refresh(ctx context.Context) {
	sku := d.selector.Get()
	if sku == "" {
		return
	}
	if err := refresh(ctx, d.backend, sku, d.options.CallTimeout); err != nil {
		d.logger.Warn("刷新失败", "sku", sku, "error", err.Error())
	}
}

func (d *Dashboard) ApplyCorrection(ctx context.Context) {
	_ = d.coordinator.ApplyCorrection(ctx)
}

func (d *Dashboard) Watch(ctx context.Context) <-chan core.DashboardSnapshot {
	return d.store.Subscribe(ctx)
}

func (d *Dashboard) WatchSku(ctx context.Context) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			sku, changed := d.selector.Load()
			select {
			case out <- sku:
			case <-ctx.Done():
				return
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
