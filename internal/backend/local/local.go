// Package local 从本地数据库读取数据实现 backend.Backend，用于脱机运行的现场终端。
package local

import (
	"context"
	"log/slog"
	"time"

	"github.com/packagewjx/spc-monitor/internal/store"
	"github.com/packagewjx/spc-monitor/pkg/backend"
	"github.com/packagewjx/spc-monitor/pkg/core"
)

const DefaultInterval = 500 * time.Millisecond

// SkuSignal 提供产线最近上报的SKU
type SkuSignal interface {
	LatestSku() string
}

type Backend struct {
	dao      store.QueryDao
	signal   SkuSignal
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

var _ backend.Backend = &Backend{}

// New 创建本地数据源。signal可以为nil，此时FetchCurrentSku总是返回空字符串。
func New(dao store.QueryDao, signal SkuSignal, interval, timeout time.Duration, logger *slog.Logger) *Backend {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		dao:      dao,
		signal:   signal,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "local-backend"),
	}
}

// Observe 仅在合并结果变化时发出快照
func (b *Backend) Observe(ctx context.Context, sku string) <-chan core.DashboardSnapshot {
	return backend.Poller{
		Interval:    b.interval,
		Timeout:     b.timeout,
		OnlyChanges: true,
		Fetch:       b.fetch,
	}.Observe(ctx, sku)
}

func (b *Backend) Refresh(ctx context.Context, sku string) error {
	return nil
}

// 本地数据只读，校正不产生任何写入
func (b *Backend) ApplyCorrection(ctx context.Context, sku string) error {
	b.logger.Debug("本地模式忽略校正请求", "sku", sku)
	return nil
}

func (b *Backend) FetchCurrentSku(ctx context.Context) (string, error) {
	if b.signal == nil {
		return "", nil
	}
	return b.signal.LatestSku(), nil
}

func (b *Backend) fetch(ctx context.Context, sku string) (core.DashboardSnapshot, error) {
	cycles, err := b.dao.QueryRecentCycles(ctx, sku, core.MaxCycles)
	if err != nil {
		return core.DashboardSnapshot{}, err
	}
	state, err := b.dao.QueryState(ctx, sku)
	if err != nil {
		return core.DashboardSnapshot{}, err
	}
	alarms, err := b.dao.QueryRecentAlarms(ctx, sku, core.MaxAlarms)
	if err != nil {
		return core.DashboardSnapshot{}, err
	}
	return core.NewSnapshot(sku, cycles, state, alarms), nil
}
