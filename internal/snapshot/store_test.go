package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/packagewjx/spc-monitor/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Initial(t *testing.T) {
	s := NewStore()
	v := s.Get()
	assert.True(t, v.IsLoading)
	assert.Equal(t, "", v.CurrentSku)
	assert.Empty(t, v.Cycles)
	assert.Empty(t, v.Alarms)
	assert.Nil(t, v.Error)
	assert.Equal(t, uint64(0), s.Version())
}

func TestStore_SetCopies(t *testing.T) {
	s := NewStore()
	cycles := []core.Cycle{{ID: "1", Sku: "COKE_355"}}
	s.Set(core.NewSnapshot("COKE_355", cycles, nil, nil))

	got := s.Get()
	got.Cycles[0].ID = "changed"
	assert.Equal(t, "1", s.Get().Cycles[0].ID)
	assert.Equal(t, uint64(1), s.Version())
}

func TestStore_Update(t *testing.T) {
	s := NewStore()
	s.Set(core.ErrorSnapshot("COKE_355", nil))

	s.Update(func(old core.DashboardSnapshot) core.DashboardSnapshot {
		old.IsLoading = true
		old.Error = nil
		return old
	})
	v := s.Get()
	assert.True(t, v.IsLoading)
	assert.Nil(t, v.Error)
	assert.Equal(t, "COKE_355", v.CurrentSku)

	ok := s.UpdateIf(func(old core.DashboardSnapshot) (core.DashboardSnapshot, bool) {
		return old, old.CurrentSku == "SPRITE_500"
	})
	assert.False(t, ok)
	assert.Equal(t, uint64(2), s.Version())
}

func TestStore_Watch(t *testing.T) {
	s := NewStore()
	_, changed := s.Watch()
	s.Set(core.LoadingSnapshot("COKE_355"))

	select {
	case <-changed:
	case <-time.After(time.Second):
		assert.FailNow(t, "写入后应当通知")
	}
	v, _ := s.Watch()
	assert.Equal(t, "COKE_355", v.CurrentSku)
}

func TestStore_SubscribeLatestWins(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)

	first := <-ch
	assert.True(t, first.IsLoading)

	// 读取方未读取期间的多次写入只保留最新值
	s.Set(core.LoadingSnapshot("A"))
	s.Set(core.LoadingSnapshot("B"))
	s.Set(core.LoadingSnapshot("C"))

	var last core.DashboardSnapshot
	for i := 0; i < 3; i++ {
		select {
		case last = <-ch:
		case <-time.After(time.Second):
			require.FailNow(t, "没有收到快照")
		}
		if last.CurrentSku == "C" {
			break
		}
	}
	assert.Equal(t, "C", last.CurrentSku)

	cancel()
	for range ch {
	}
}
