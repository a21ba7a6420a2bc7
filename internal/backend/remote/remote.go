// Package remote 通过轮询SPC后端REST接口实现 backend.Backend
package remote

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/packagewjx/spc-monitor/pkg/backend"
	"github.com/packagewjx/spc-monitor/pkg/core"
	"github.com/packagewjx/spc-monitor/pkg/spcclient"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const DefaultInterval = 3 * time.Second

type Backend struct {
	client   spcclient.Client
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

var _ backend.Backend = &Backend{}

func New(client spcclient.Client, interval, timeout time.Duration, logger *slog.Logger) *Backend {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Backend{
		client:   client,
		interval: interval,
		timeout:  timeout,
		logger:   logger.With("component", "remote-backend"),
	}
}

func (b *Backend) Observe(ctx context.Context, sku string) <-chan core.DashboardSnapshot {
	return backend.Poller{
		Interval: b.interval,
		Timeout:  b.timeout,
		Fetch:    b.fetch,
	}.Observe(ctx, sku)
}

// 服务端总是最新状态，无需刷新
func (b *Backend) Refresh(ctx context.Context, sku string) error {
	return nil
}

func (b *Backend) ApplyCorrection(ctx context.Context, sku string) error {
	response, err := b.client.ApplyCorrection(ctx, sku)
	if err != nil {
		return errors.Wrap(backend.ErrCorrection, err.Error())
	}
	b.logger.Info("校正请求已发送", "sku", sku, "status", response.Status)
	return nil
}

func (b *Backend) FetchCurrentSku(ctx context.Context) (string, error) {
	current, err := b.client.QueryCurrentSku(ctx)
	if err != nil {
		return "", err
	}
	if current.SkuId == nil {
		return "", nil
	}
	return strings.TrimSpace(*current.SkuId), nil
}

func (b *Backend) fetch(ctx context.Context, sku string) (core.DashboardSnapshot, error) {
	var (
		cycles []*spcclient.CycleOut
		state  *spcclient.SpcCurrentState
		alarms []*spcclient.AlarmOut
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() (err error) {
		cycles, err = b.client.QueryRecentCycles(groupCtx, sku, core.MaxCycles)
		return
	})
	group.Go(func() (err error) {
		state, err = b.client.QuerySpcState(groupCtx, sku)
		return
	})
	group.Go(func() (err error) {
		alarms, err = b.client.QueryRecentAlarms(groupCtx, sku, core.MaxAlarms)
		return
	})
	if err := group.Wait(); err != nil {
		b.logger.Debug("轮询失败", "sku", sku, "error", err.Error())
		return core.DashboardSnapshot{}, err
	}

	return core.NewSnapshot(sku, convertCycles(cycles), convertState(sku, state), convertAlarms(alarms)), nil
}

// 服务端按id降序返回，倒序转换为从旧到新
func convertCycles(arr []*spcclient.CycleOut) []core.Cycle {
	result := make([]core.Cycle, 0, len(arr))
	for i := len(arr) - 1; i >= 0; i-- {
		c := arr[i]
		if c == nil {
			continue
		}
		result = append(result, core.Cycle{
			ID:             strconv.FormatInt(c.ID, 10),
			Sku:            c.Sku,
			Seq:            c.Seq,
			TargetVolume:   c.TargetMl,
			ActualVolume:   c.ActualMl,
			ActuationMs:    c.ValveMs,
			Error:          c.Error,
			Classification: c.SpcState,
			CreatedAt:      c.CreatedAt,
		})
	}
	return result
}

func convertState(sku string, s *spcclient.SpcCurrentState) *core.SpcState {
	if s == nil {
		return nil
	}
	classification := s.SpcState
	if classification == "" {
		classification = core.Unknown
	}
	return &core.SpcState{
		Sku:            sku,
		Classification: classification,
		AlarmType:      s.AlarmType,
		Mean:           s.Mean,
		Std:            s.Std,
		CusumPos:       s.CusumPos,
		CusumNeg:       s.CusumNeg,
		NSamples:       s.NSamples,
	}
}

// 与convertCycles相同，倒序转换为从旧到新
func convertAlarms(arr []*spcclient.AlarmOut) []core.Alarm {
	result := make([]core.Alarm, 0, len(arr))
	for i := len(arr) - 1; i >= 0; i-- {
		a := arr[i]
		if a == nil {
			continue
		}
		result = append(result, core.Alarm{
			ID:         strconv.FormatInt(a.ID, 10),
			Sku:        a.Sku,
			Level:      a.Level,
			AlarmType:  a.AlarmType,
			Message:    a.Message,
			CycleID:    formatId(a.CycleID),
			SpcStateID: formatId(a.SpcStateID),
			CreatedAt:  a.CreatedAt,
		})
	}
	return result
}

func formatId(id *int64) *string {
	if id == nil {
		return nil
	}
	s := fmt.Sprint(*id)
	return &s
}
