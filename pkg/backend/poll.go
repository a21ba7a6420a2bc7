package backend

import (
	"context"
	"reflect"
	"time"

	"github.com/packagewjx/spc-monitor/pkg/core"
	"github.com/pkg/errors"
)

// FetchFunc 获取一次合并后的快照
type FetchFunc func(ctx context.Context, sku string) (core.DashboardSnapshot, error)

// Poller 以固定间隔反复调用Fetch并发出快照。失败不会结束序列，下一次仍按相同间隔重试。
type Poller struct {
	Interval time.Duration
	// 每次获取的超时时间，为0时不设超时
	Timeout time.Duration
	// 为true时只在快照内容变化时发出
	OnlyChanges bool
	Fetch       FetchFunc
}

func (p Poller) Observe(ctx context.Context, sku string) <-chan core.DashboardSnapshot {
	out := make(chan core.DashboardSnapshot)
	go func() {
		defer close(out)

		var last *core.DashboardSnapshot
		for {
			snapshot := p.fetchOnce(ctx, sku)
			if ctx.Err() != nil {
				// 订阅已取消，丢弃仍在进行中的结果
				return
			}

			if !p.OnlyChanges || last == nil || !reflect.DeepEqual(*last, snapshot) {
				select {
				case out <- snapshot:
					last = &snapshot
				case <-ctx.Done():
					return
				}
			}

			timer := time.NewTimer(p.Interval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()
	return out
}

func (p Poller) fetchOnce(ctx context.Context, sku string) core.DashboardSnapshot {
	callCtx := ctx
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	snapshot, err := p.Fetch(callCtx, sku)
	if err != nil {
		return core.ErrorSnapshot(sku, errors.Cause(err))
	}
	if snapshot.CurrentSku == "" {
		snapshot.CurrentSku = sku
	}
	return snapshot
}
