package linetap

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/packagewjx/spc-monitor/internal/observability"
	"github.com/packagewjx/spc-monitor/internal/spc"
	"github.com/packagewjx/spc-monitor/pkg/core"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu       sync.Mutex
	cycles   []*core.Cycle
	states   map[string]*core.SpcState
	alarms   []*core.Alarm
	err      error
	stateErr error
}

func (m *memorySink) SaveCycle(ctx context.Context, c *core.Cycle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.cycles = append(m.cycles, c)
	return nil
}

func (m *memorySink) SaveState(ctx context.Context, s *core.SpcState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stateErr != nil {
		return m.stateErr
	}
	if m.states == nil {
		m.states = map[string]*core.SpcState{}
	}
	m.states[s.Sku] = s
	return nil
}

func (m *memorySink) SaveAlarm(ctx context.Context, a *core.Alarm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alarms = append(m.alarms, a)
	return nil
}

func (m *memorySink) QueryRecentCycles(ctx context.Context, sku string, limit int) ([]core.Cycle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := []core.Cycle{}
	for _, c := range m.cycles {
		if c.Sku == sku {
			result = append(result, *c)
		}
	}
	if len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result, nil
}

func TestTap_CanIn(t *testing.T) {
	tap := New(&memorySink{}, nil, nil)
	ctx := context.Background()
	assert.Equal(t, "", tap.LatestSku())

	tap.HandleMessage(ctx, TopicCanIn, []byte(`{"sku": " COKE_355 ", "seq": 1}`))
	assert.Equal(t, "COKE_355", tap.LatestSku())

	tap.HandleMessage(ctx, TopicCanIn, []byte(`{"sku_id": "SPRITE_500", "cycle_no": 2}`))
	assert.Equal(t, "SPRITE_500", tap.LatestSku())

	// 空SKU与错误格式都不改变当前值
	tap.HandleMessage(ctx, TopicCanIn, []byte(`{"sku": ""}`))
	tap.HandleMessage(ctx, TopicCanIn, []byte(`not json`))
	tap.HandleMessage(ctx, TopicCanIn, nil)
	assert.Equal(t, "SPRITE_500", tap.LatestSku())
}

func TestTap_FillResult(t *testing.T) {
	sink := &memorySink{}
	tap := New(sink, nil, nil)

	tap.HandleMessage(context.Background(), TopicFillResult,
		[]byte(`{"sku": "COKE_355", "seq": 12, "actual_ml": 352.5, "target_ml": 355, "valve_ms": 1234}`))
	tap.HandleMessage(context.Background(), TopicFillResult,
		[]byte(`{"sku_id": "SPRITE_500", "cycle_no": "13", "measured_value": "501", "valve_time": 900}`))
	tap.HandleMessage(context.Background(), TopicFillResult, []byte(`{"seq": 14, "actual_ml": 300}`))

	require.Len(t, sink.cycles, 2)

	c := sink.cycles[0]
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "COKE_355", c.Sku)
	assert.Equal(t, 12, c.Seq)
	assert.Equal(t, 355.0, c.TargetVolume)
	assert.Equal(t, 352.5, *c.ActualVolume)
	assert.Equal(t, 1234.0, *c.ActuationMs)
	assert.InDelta(t, -2.5, *c.Error, 1e-9)
	_, ok := core.ParseTime(c.CreatedAt)
	assert.True(t, ok)

	c = sink.cycles[1]
	assert.Equal(t, "SPRITE_500", c.Sku)
	assert.Equal(t, 13, c.Seq)
	// 目标容量从SKU推断
	assert.Equal(t, 500.0, c.TargetVolume)
	assert.InDelta(t, 1.0, *c.Error, 1e-9)
	assert.NotEqual(t, sink.cycles[0].ID, c.ID)
}

func TestTap_SinkError(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	tap := New(&memorySink{err: errors.New("database is locked")}, metrics, nil)

	tap.HandleMessage(context.Background(), TopicFillResult, []byte(`{"sku": "COKE_355", "seq": 1, "actual_ml": 355}`))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BackgroundErrorsTotal.WithLabelValues(observability.LoopLineTap)))
}

func TestTap_RecomputesSpcState(t *testing.T) {
	sink := &memorySink{}
	tap := New(sink, nil, nil)
	ctx := context.Background()
	send := func(seq int, actual float64) {
		tap.HandleMessage(ctx, TopicFillResult,
			[]byte(fmt.Sprintf(`{"sku": "COKE_355", "seq": %d, "actual_ml": %v}`, seq, actual)))
	}

	for i := 0; i < 4; i++ {
		send(i, 355)
	}
	state := sink.states["COKE_355"]
	require.NotNil(t, state)
	assert.Equal(t, core.InControl, state.Classification)
	assert.Equal(t, 4, *state.NSamples)
	assert.Empty(t, sink.alarms)

	// 误差序列为0,0,0,0,0,0,0,0,10,10时正向漂移报警
	for i := 4; i < 8; i++ {
		send(i, 355)
	}
	send(8, 365)
	send(9, 365)
	state = sink.states["COKE_355"]
	assert.Equal(t, core.OutOfControl, state.Classification)
	assert.Equal(t, spc.PosDrift, *state.AlarmType)
	assert.Equal(t, 10, *state.NSamples)
	assert.InDelta(t, 2.0, *state.Mean, 1e-9)

	require.NotEmpty(t, sink.alarms)
	alarm := sink.alarms[len(sink.alarms)-1]
	assert.Equal(t, spc.LevelAlarm, alarm.Level)
	assert.NotEmpty(t, alarm.ID)
	assert.Equal(t, sink.cycles[9].ID, *alarm.CycleID)
}

func TestTap_StateErrorCounted(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	sink := &memorySink{stateErr: errors.New("disk full")}
	tap := New(sink, metrics, nil)

	tap.HandleMessage(context.Background(), TopicFillResult, []byte(`{"sku": "COKE_355", "seq": 1, "actual_ml": 355}`))
	assert.Len(t, sink.cycles, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.BackgroundErrorsTotal.WithLabelValues(observability.LoopLineTap)))
}

func TestParseFillResult(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	tests := []struct {
		name    string
		data    map[string]interface{}
		wantErr bool
		target  float64
		hasErr  bool
	}{
		{name: "missing sku", data: map[string]interface{}{"seq": 1.0}, wantErr: true},
		{name: "missing seq", data: map[string]interface{}{"sku": "COKE_355"}, wantErr: true},
		{name: "no actual", data: map[string]interface{}{"sku": "COKE_355", "seq": 1.0}, target: 355},
		{name: "unknown target", data: map[string]interface{}{"sku": "WATER", "seq": 1.0, "actual_ml": 330.0}, target: 0},
		{name: "target zero", data: map[string]interface{}{"sku": "FANTA_330", "seq": 1.0, "target_ml": 0.0, "actual_ml": 331.0}, target: 330, hasErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := parseFillResult(tt.data, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.target, c.TargetVolume)
			assert.Equal(t, tt.hasErr, c.Error != nil)
			assert.Equal(t, core.FormatTime(now), c.CreatedAt)
		})
	}
}
