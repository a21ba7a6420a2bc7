package remote

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/packagewjx/spc-monitor/pkg/backend"
	"github.com/packagewjx/spc-monitor/pkg/core"
	"github.com/packagewjx/spc-monitor/pkg/spcclient"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu            sync.Mutex
	cycles        []*spcclient.CycleOut
	state         *spcclient.SpcCurrentState
	alarms        []*spcclient.AlarmOut
	currentSku    *string
	fetchErr      error
	correctionErr error
	corrected     []string
}

func (f *fakeClient) QueryRecentCycles(ctx context.Context, sku string, limit int) ([]*spcclient.CycleOut, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.cycles, nil
}

func (f *fakeClient) QuerySpcState(ctx context.Context, sku string) (*spcclient.SpcCurrentState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state, nil
}

func (f *fakeClient) QueryRecentAlarms(ctx context.Context, sku string, limit int) ([]*spcclient.AlarmOut, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alarms, nil
}

func (f *fakeClient) QueryCurrentSku(ctx context.Context) (*spcclient.CurrentSku, error) {
	return &spcclient.CurrentSku{SkuId: f.currentSku}, nil
}

func (f *fakeClient) ApplyCorrection(ctx context.Context, sku string) (*spcclient.CorrectionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.correctionErr != nil {
		return nil, f.correctionErr
	}
	f.corrected = append(f.corrected, sku)
	return &spcclient.CorrectionResponse{SkuId: sku, Status: "CORRECTION_APPLIED"}, nil
}

func next(t *testing.T, ch <-chan core.DashboardSnapshot) core.DashboardSnapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		require.FailNow(t, "等待快照超时")
	}
	return core.DashboardSnapshot{}
}

func TestBackend_ObserveMergesThreeStreams(t *testing.T) {
	client := &fakeClient{
		state:  &spcclient.SpcCurrentState{SpcState: core.InControl},
		alarms: []*spcclient.AlarmOut{},
	}
	// 服务端按时间降序返回
	for i := 3; i >= 1; i-- {
		client.cycles = append(client.cycles, &spcclient.CycleOut{
			ID: int64(i), Seq: i, Sku: "COKE_355", TargetMl: 355,
			CreatedAt: fmt.Sprintf("2024-01-01T00:00:0%d", i),
		})
	}
	b := New(client, time.Hour, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := next(t, b.Observe(ctx, "COKE_355"))
	assert.Len(t, s.Cycles, 3)
	assert.Equal(t, 1, s.Cycles[0].Seq)
	assert.Equal(t, 3, s.Cycles[2].Seq)
	assert.Equal(t, core.InControl, s.SpcState.Classification)
	assert.Equal(t, "COKE_355", s.SpcState.Sku)
	assert.Empty(t, s.Alarms)
	assert.Equal(t, "COKE_355", s.CurrentSku)
	assert.False(t, s.IsLoading)
	assert.Nil(t, s.Error)
}

func TestBackend_FetchKeepsServerOrderForSameTime(t *testing.T) {
	// 服务端按id降序返回，两条报警创建时间相同
	client := &fakeClient{
		alarms: []*spcclient.AlarmOut{
			{ID: 9, Sku: "COKE_355", Level: "ALARM", CreatedAt: "2024-01-01T00:00:05"},
			{ID: 8, Sku: "COKE_355", Level: "WARN", CreatedAt: "2024-01-01T00:00:05"},
			nil,
			{ID: 7, Sku: "COKE_355", Level: "WARN", CreatedAt: "2024-01-01T00:00:01"},
		},
		cycles: []*spcclient.CycleOut{
			{ID: 12, Seq: 12, Sku: "COKE_355", CreatedAt: "2024-01-01T00:00:05"},
			{ID: 11, Seq: 11, Sku: "COKE_355", CreatedAt: "2024-01-01T00:00:05"},
		},
	}
	b := New(client, time.Hour, time.Second, nil)

	s, err := b.fetch(context.Background(), "COKE_355")
	require.NoError(t, err)
	require.Len(t, s.Alarms, 3)
	assert.Equal(t, []string{"7", "8", "9"}, []string{s.Alarms[0].ID, s.Alarms[1].ID, s.Alarms[2].ID})
	require.Len(t, s.Cycles, 2)
	assert.Equal(t, 11, s.Cycles[0].Seq)
	assert.Equal(t, 12, s.Cycles[1].Seq)
}

func TestBackend_ObserveErrorSnapshot(t *testing.T) {
	client := &fakeClient{fetchErr: errors.New("timeout")}
	b := New(client, 10*time.Millisecond, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := b.Observe(ctx, "COKE_355")

	s := next(t, ch)
	assert.False(t, s.IsLoading)
	assert.Equal(t, "timeout", s.ErrorMessage())
	assert.Equal(t, "COKE_355", s.CurrentSku)
	assert.Empty(t, s.Cycles)
	assert.Empty(t, s.Alarms)
	assert.Nil(t, s.SpcState)

	// 下一轮仍然执行
	client.mu.Lock()
	client.fetchErr = nil
	client.state = &spcclient.SpcCurrentState{SpcState: core.OutOfControl}
	client.mu.Unlock()

	for i := 0; i < 100; i++ {
		s = next(t, ch)
		if s.Error == nil {
			break
		}
	}
	require.Nil(t, s.Error)
	assert.Equal(t, core.OutOfControl, s.SpcState.Classification)
}

func TestBackend_ApplyCorrection(t *testing.T) {
	client := &fakeClient{}
	b := New(client, time.Hour, time.Second, nil)
	assert.NoError(t, b.ApplyCorrection(context.Background(), "COKE_355"))
	assert.Equal(t, []string{"COKE_355"}, client.corrected)

	client.correctionErr = errors.New("502")
	err := b.ApplyCorrection(context.Background(), "COKE_355")
	assert.True(t, errors.Is(err, backend.ErrCorrection))
}

func TestBackend_FetchCurrentSku(t *testing.T) {
	client := &fakeClient{}
	b := New(client, time.Hour, time.Second, nil)

	sku, err := b.FetchCurrentSku(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "", sku)

	client.currentSku = core.String(" SPRITE_500 ")
	sku, err = b.FetchCurrentSku(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, "SPRITE_500", sku)

	assert.NoError(t, b.Refresh(context.Background(), "SPRITE_500"))
}
