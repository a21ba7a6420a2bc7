// Package docstore 以Redis作为实时文档库实现 backend.Backend。
//
// 每个SKU有三个集合：
//
//	cycles:{sku}      有序集合，分值为创建时间（毫秒），成员为JSON文档
//	spc_states:{sku}  哈希，每个SKU一份当前状态
//	alarms:{sku}      有序集合，同cycles
package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/packagewjx/spc-monitor/pkg/backend"
	"github.com/packagewjx/spc-monitor/pkg/core"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const DefaultInterval = 2 * time.Second

const (
	fieldSpcState  = "spcState"
	fieldAlarmType = "alarmType"
	fieldMean      = "mean"
	fieldStd       = "std"
	fieldCusumPos  = "cusumPos"
	fieldCusumNeg  = "cusumNeg"
	fieldNSamples  = "nSamples"
	fieldCreatedAt = "createdAt"
)

// 仅在状态文档存在时更新分类，与文档库的update语义一致
var correctStateScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
    return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
return 1
`)

func cyclesKey(sku string) string { return "cycles:" + sku }

func stateKey(sku string) string { return "spc_states:" + sku }

func alarmsKey(sku string) string { return "alarms:" + sku }

type Store struct {
	client     redis.UniversalClient
	interval   time.Duration
	timeout    time.Duration
	defaultSku string
	logger     *slog.Logger
}

var _ backend.Backend = &Store{}

func New(client redis.UniversalClient, interval, timeout time.Duration, defaultSku string, logger *slog.Logger) *Store {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if defaultSku == "" {
		defaultSku = core.DefaultSku
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		client:     client,
		interval:   interval,
		timeout:    timeout,
		defaultSku: defaultSku,
		logger:     logger.With("component", "docstore-backend"),
	}
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func (s *Store) Observe(ctx context.Context, sku string) <-chan core.DashboardSnapshot {
	return backend.Poller{
		Interval: s.interval,
		Timeout:  s.timeout,
		Fetch:    s.fetch,
	}.Observe(ctx, sku)
}

// 文档库是实时的，无需显式刷新
func (s *Store) Refresh(ctx context.Context, sku string) error {
	return nil
}

func (s *Store) ApplyCorrection(ctx context.Context, sku string) error {
	updated, err := correctStateScript.Run(ctx, s.client, []string{stateKey(sku)}, fieldSpcState, core.Corrected).Int()
	if err != nil {
		return errors.Wrap(backend.ErrCorrection, err.Error())
	}
	if updated == 0 {
		return errors.Wrap(backend.ErrCorrection, fmt.Sprintf("SKU%s的状态文档不存在", sku))
	}
	s.logger.Info("状态已标记为已校正", "sku", sku)
	return nil
}

// 文档库没有实时的当前SKU信号
func (s *Store) FetchCurrentSku(ctx context.Context) (string, error) {
	return s.defaultSku, nil
}

func (s *Store) fetch(ctx context.Context, sku string) (core.DashboardSnapshot, error) {
	var (
		cycles []core.Cycle
		state  *core.SpcState
		alarms []core.Alarm
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		members, err := s.client.ZRange(groupCtx, cyclesKey(sku), -core.MaxCycles, -1).Result()
		if err != nil {
			return errors.Wrap(err, "读取cycles集合出错")
		}
		cycles = s.parseCycles(sku, members)
		return nil
	})
	group.Go(func() error {
		fields, err := s.client.HGetAll(groupCtx, stateKey(sku)).Result()
		if err != nil {
			return errors.Wrap(err, "读取spc_states文档出错")
		}
		state = parseState(sku, fields)
		return nil
	})
	group.Go(func() error {
		members, err := s.client.ZRange(groupCtx, alarmsKey(sku), -core.MaxAlarms, -1).Result()
		if err != nil {
			return errors.Wrap(err, "读取alarms集合出错")
		}
		alarms = s.parseAlarms(sku, members)
		return nil
	})
	if err := group.Wait(); err != nil {
		return core.DashboardSnapshot{}, err
	}

	return core.NewSnapshot(sku, cycles, state, alarms), nil
}

func (s *Store) parseCycles(sku string, members []string) []core.Cycle {
	result := make([]core.Cycle, 0, len(members))
	for _, member := range members {
		c, err := parseCycle(sku, member)
		if err != nil {
			s.logger.Debug("丢弃格式错误的周期文档", "sku", sku, "error", err.Error())
			continue
		}
		result = append(result, *c)
	}
	return result
}

func parseCycle(sku, member string) (*core.Cycle, error) {
	c := &core.Cycle{}
	if err := json.Unmarshal([]byte(member), c); err != nil {
		return nil, errors.Wrap(backend.ErrMalformedRecord, err.Error())
	}
	if c.Sku != sku {
		return nil, errors.Wrap(backend.ErrMalformedRecord, fmt.Sprintf("文档SKU为%q", c.Sku))
	}
	if c.ID == "" {
		c.ID = fmt.Sprintf("%s#%d", c.Sku, c.Seq)
	}
	return c, nil
}

func (s *Store) parseAlarms(sku string, members []string) []core.Alarm {
	result := make([]core.Alarm, 0, len(members))
	for _, member := range members {
		a := core.Alarm{}
		if err := json.Unmarshal([]byte(member), &a); err != nil {
			s.logger.Debug("丢弃格式错误的报警文档", "sku", sku, "error", err.Error())
			continue
		}
		if a.Sku != sku {
			s.logger.Debug("丢弃SKU不符的报警文档", "sku", sku, "docSku", a.Sku)
			continue
		}
		if a.Level == "" {
			a.Level = "INFO"
		}
		result = append(result, a)
	}
	return result
}

// 文档不存在时返回nil。数值字段格式错误时视为缺失。
func parseState(sku string, fields map[string]string) *core.SpcState {
	if len(fields) == 0 {
		return nil
	}
	state := &core.SpcState{
		Sku:            sku,
		Classification: fields[fieldSpcState],
		AlarmType:      optionalString(fields, fieldAlarmType),
		Mean:           optionalFloat(fields, fieldMean),
		Std:            optionalFloat(fields, fieldStd),
		CusumPos:       optionalFloat(fields, fieldCusumPos),
		CusumNeg:       optionalFloat(fields, fieldCusumNeg),
		CreatedAt:      fields[fieldCreatedAt],
	}
	if state.Classification == "" {
		state.Classification = core.Unknown
	}
	if v, ok := fields[fieldNSamples]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			state.NSamples = &n
		}
	}
	return state
}

func optionalString(fields map[string]string, key string) *string {
	v, ok := fields[key]
	if !ok || v == "" {
		return nil
	}
	return &v
}

func optionalFloat(fields map[string]string, key string) *float64 {
	v, ok := fields[key]
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}
