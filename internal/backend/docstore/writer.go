package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/packagewjx/spc-monitor/pkg/core"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// 写入接口供产线事件接入使用

func (s *Store) SaveCycle(ctx context.Context, c *core.Cycle) error {
	return s.add(ctx, cyclesKey(c.Sku), c.CreatedAt, c)
}

func (s *Store) SaveAlarm(ctx context.Context, a *core.Alarm) error {
	return s.add(ctx, alarmsKey(a.Sku), a.CreatedAt, a)
}

// SaveState 覆盖写入SKU的当前状态
func (s *Store) SaveState(ctx context.Context, state *core.SpcState) error {
	fields := map[string]interface{}{
		fieldSpcState:  state.Classification,
		fieldCreatedAt: state.CreatedAt,
	}
	if state.AlarmType != nil {
		fields[fieldAlarmType] = *state.AlarmType
	}
	setFloat := func(key string, v *float64) {
		if v != nil {
			fields[key] = strconv.FormatFloat(*v, 'f', -1, 64)
		}
	}
	setFloat(fieldMean, state.Mean)
	setFloat(fieldStd, state.Std)
	setFloat(fieldCusumPos, state.CusumPos)
	setFloat(fieldCusumNeg, state.CusumNeg)
	if state.NSamples != nil {
		fields[fieldNSamples] = *state.NSamples
	}

	key := stateKey(state.Sku)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("保存SKU%s的状态出错", state.Sku))
	}
	return nil
}

// QueryRecentCycles 返回最近limit条周期，按创建时间从旧到新。格式错误的文档被丢弃。
func (s *Store) QueryRecentCycles(ctx context.Context, sku string, limit int) ([]core.Cycle, error) {
	members, err := s.client.ZRange(ctx, cyclesKey(sku), int64(-limit), -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, fmt.Sprintf("读取SKU%s的周期出错", sku))
	}
	return s.parseCycles(sku, members), nil
}

func (s *Store) add(ctx context.Context, key, createdAt string, doc interface{}) error {
	marshal, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "序列化文档出错")
	}
	err = s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(scoreOf(createdAt)),
		Member: string(marshal),
	}).Err()
	if err != nil {
		return errors.Wrap(err, fmt.Sprintf("写入%s出错", key))
	}
	return nil
}

// 创建时间无法解析时使用当前时间
func scoreOf(createdAt string) int64 {
	t, ok := core.ParseTime(createdAt)
	if !ok {
		t = time.Now()
	}
	return t.UnixNano() / int64(time.Millisecond)
}
