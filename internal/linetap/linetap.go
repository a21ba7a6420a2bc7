// Package linetap 订阅产线MQTT事件，记录当前SKU，把灌装结果写入存储并重新计算SPC状态
package linetap

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/packagewjx/spc-monitor/internal/observability"
	"github.com/packagewjx/spc-monitor/internal/spc"
	"github.com/packagewjx/spc-monitor/pkg/core"
	"github.com/pkg/errors"
)

const (
	TopicCanIn      = "line1/event/can_in"
	TopicFillResult = "line1/event/fill_result"
)

const (
	connectTimeout = 5 * time.Second
	saveTimeout    = 5 * time.Second
)

// Sink 保存灌装周期、SPC状态与报警，本地数据库与文档库都实现了该接口
type Sink interface {
	SaveCycle(ctx context.Context, c *core.Cycle) error
	SaveState(ctx context.Context, s *core.SpcState) error
	SaveAlarm(ctx context.Context, a *core.Alarm) error
	// 返回最近limit条，按创建时间从旧到新
	QueryRecentCycles(ctx context.Context, sku string, limit int) ([]core.Cycle, error)
}

type Tap struct {
	sink    Sink
	metrics *observability.Metrics
	logger  *slog.Logger

	mu     sync.RWMutex
	latest string
}

func New(sink Sink, metrics *observability.Metrics, logger *slog.Logger) *Tap {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tap{
		sink:    sink,
		metrics: metrics,
		logger:  logger.With("component", "linetap"),
	}
}

// LatestSku 返回最近一次can_in事件中的SKU，没有收到过时为空
func (t *Tap) LatestSku() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.latest
}

// Run 连接broker并订阅产线事件，直到ctx结束
func (t *Tap) Run(ctx context.Context, broker, clientID string) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	// 重连后需要重新订阅
	opts.OnConnect = func(c mqtt.Client) {
		t.logger.Info("MQTT已连接", "broker", broker)
		token := c.SubscribeMultiple(map[string]byte{TopicCanIn: 1, TopicFillResult: 1}, func(_ mqtt.Client, m mqtt.Message) {
			t.HandleMessage(ctx, m.Topic(), m.Payload())
		})
		if token.WaitTimeout(connectTimeout) && token.Error() != nil {
			t.logger.Warn("订阅失败", "error", token.Error().Error())
			t.metrics.BackgroundError(observability.LoopLineTap)
		}
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		t.logger.Warn("MQTT连接断开，等待自动重连", "broker", broker, "error", err.Error())
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// 开启了连接重试，超时后仍会在后台继续连接
		t.logger.Warn("连接MQTT超时，后台继续重试", "broker", broker)
	} else if err := token.Error(); err != nil {
		return errors.Wrap(err, fmt.Sprintf("连接MQTT broker %s失败", broker))
	}

	<-ctx.Done()
	client.Disconnect(250)
	t.logger.Info("MQTT已断开")
	return nil
}

// HandleMessage 处理一条产线消息。格式错误的消息被忽略。
func (t *Tap) HandleMessage(ctx context.Context, topic string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	data := map[string]interface{}{}
	if err := json.Unmarshal(payload, &data); err != nil {
		t.logger.Debug("消息解析失败", "topic", topic, "error", err.Error())
		return
	}

	switch topic {
	case TopicCanIn:
		t.handleCanIn(data)
	case TopicFillResult:
		t.handleFillResult(ctx, data)
	}
}

func (t *Tap) handleCanIn(data map[string]interface{}) {
	sku := pickString(data, "sku", "sku_id")
	if sku == "" {
		t.logger.Debug("can_in缺少SKU", "data", data)
		return
	}
	t.mu.Lock()
	t.latest = sku
	t.mu.Unlock()
}

func (t *Tap) handleFillResult(ctx context.Context, data map[string]interface{}) {
	now := time.Now()
	cycle, err := parseFillResult(data, now)
	if err != nil {
		t.logger.Info("忽略灌装结果", "reason", err.Error(), "data", data)
		return
	}

	saveCtx, cancel := context.WithTimeout(ctx, saveTimeout)
	defer cancel()
	if err := t.sink.SaveCycle(saveCtx, cycle); err != nil {
		t.logger.Warn("保存灌装结果失败", "sku", cycle.Sku, "seq", cycle.Seq, "error", err.Error())
		t.metrics.BackgroundError(observability.LoopLineTap)
		return
	}
	if err := t.recompute(saveCtx, cycle, now); err != nil {
		t.logger.Warn("更新SPC状态失败", "sku", cycle.Sku, "error", err.Error())
		t.metrics.BackgroundError(observability.LoopLineTap)
	}
}

// recompute 用最近的误差重新计算SKU的SPC状态，失控时追加一条报警
func (t *Tap) recompute(ctx context.Context, cycle *core.Cycle, now time.Time) error {
	recent, err := t.sink.QueryRecentCycles(ctx, cycle.Sku, spc.Window)
	if err != nil {
		return err
	}
	result := spc.Evaluate(cycle.Sku, spc.Errors(recent), now)
	if err := t.sink.SaveState(ctx, &result.State); err != nil {
		return err
	}

	alarm := result.Alarm(cycle.ID)
	if alarm == nil {
		return nil
	}
	alarm.ID = uuid.NewString()
	t.logger.Info("SPC越界", "sku", cycle.Sku, "level", alarm.Level, "alarmType", *alarm.AlarmType)
	return t.sink.SaveAlarm(ctx, alarm)
}

func parseFillResult(data map[string]interface{}, now time.Time) (*core.Cycle, error) {
	sku := pickString(data, "sku", "sku_id")
	if sku == "" {
		return nil, fmt.Errorf("缺少SKU")
	}
	seq, ok := pickFloat(data, "seq", "cycle_no")
	if !ok {
		return nil, fmt.Errorf("缺少序号")
	}

	cycle := &core.Cycle{
		ID:        uuid.NewString(),
		Sku:       sku,
		Seq:       int(seq),
		CreatedAt: core.FormatTime(now),
	}
	if target, ok := pickFloat(data, "target_ml", "target_amount"); ok && target > 0 {
		cycle.TargetVolume = target
	} else {
		cycle.TargetVolume = targetFromSku(sku)
	}
	if actual, ok := pickFloat(data, "actual_ml", "measured_value"); ok {
		cycle.ActualVolume = &actual
		if cycle.TargetVolume > 0 {
			cycle.Error = core.Float(actual - cycle.TargetVolume)
		}
	}
	if valve, ok := pickFloat(data, "valve_ms", "valve_time"); ok {
		cycle.ActuationMs = &valve
	}
	return cycle, nil
}

// targetFromSku 从SKU后缀推断目标容量，例如COKE_355为355
func targetFromSku(sku string) float64 {
	idx := strings.LastIndex(sku, "_")
	v, err := strconv.ParseFloat(sku[idx+1:], 64)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func pickString(data map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		switch v := data[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

func pickFloat(data map[string]interface{}, keys ...string) (float64, bool) {
	for _, key := range keys {
		switch v := data[key].(type) {
		case float64:
			return v, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
