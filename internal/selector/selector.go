// Package selector 维护当前选中的SKU
package selector

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/packagewjx/spc-monitor/internal/observability"
	"github.com/packagewjx/spc-monitor/internal/watch"
	"github.com/packagewjx/spc-monitor/pkg/backend"
	"github.com/packagewjx/spc-monitor/pkg/core"
)

const DefaultFollowInterval = 800 * time.Millisecond

type Selector struct {
	current *watch.Value[string]
	metrics *observability.Metrics
	logger  *slog.Logger

	// 上一次从后端观察到的SKU，用于判断远端是否真的发生了变化
	remoteLock sync.Mutex
	lastRemote string
}

func New(initial string, metrics *observability.Metrics, logger *slog.Logger) *Selector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		current: watch.NewValue(strings.TrimSpace(initial)),
		metrics: metrics,
		logger:  logger.With("component", "selector"),
	}
}

func (s *Selector) Get() string {
	return s.current.Get()
}

// Load 返回当前SKU以及下一次变更时关闭的通道
func (s *Selector) Load() (string, <-chan struct{}) {
	return s.current.Load()
}

// Set 立即生效。去除空白后为空或与当前值相同则忽略并返回false。
func (s *Selector) Set(sku string) bool {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return false
	}
	changed := s.current.Update(func(old string) (string, bool) {
		return sku, old != sku
	})
	if changed {
		s.logger.Info("切换SKU", "sku", sku)
		s.metrics.SkuSwitched()
	}
	return changed
}

// Resolve 启动时从后端获取一次当前SKU，失败或为空时使用fallback。
// 结果只在当前仍未选择SKU时发布，解析期间到达的手动选择优先。返回发布后的当前SKU。
func (s *Selector) Resolve(ctx context.Context, b backend.Backend, timeout time.Duration, fallback string) string {
	if fallback = strings.TrimSpace(fallback); fallback == "" {
		fallback = core.DefaultSku
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resolved := fallback
	sku, err := b.FetchCurrentSku(callCtx)
	if err != nil {
		s.logger.Warn("获取当前SKU失败，使用默认SKU", "fallback", fallback, "error", err.Error())
		s.metrics.BackgroundError(observability.LoopResolve)
	} else if sku = strings.TrimSpace(sku); sku != "" {
		resolved = sku
		s.remoteLock.Lock()
		s.lastRemote = sku
		s.remoteLock.Unlock()
	}

	published := s.current.Update(func(old string) (string, bool) {
		return resolved, old == ""
	})
	if published {
		s.logger.Info("切换SKU", "sku", resolved)
		s.metrics.SkuSwitched()
	} else {
		s.logger.Info("已有选择的SKU，忽略解析结果", "resolved", resolved)
	}
	return s.Get()
}

// Follow 定时从后端获取当前SKU，远端出现新的值时采用。直到ctx结束才返回。
func (s *Selector) Follow(ctx context.Context, b backend.Backend, interval, timeout time.Duration) {
	if interval <= 0 {
		interval = DefaultFollowInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.followOnce(ctx, b, timeout)
		}
	}
}

func (s *Selector) followOnce(ctx context.Context, b backend.Backend, timeout time.Duration) {
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	sku, err := b.FetchCurrentSku(callCtx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("轮询当前SKU失败", "error", err.Error())
			s.metrics.BackgroundError(observability.LoopFollow)
		}
		return
	}
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return
	}

	s.remoteLock.Lock()
	isNew := sku != s.lastRemote
	s.lastRemote = sku
	s.remoteLock.Unlock()

	// 远端没有变化时不覆盖手动选择
	if isNew {
		s.Set(sku)
	}
}
