package dashboard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/packagewjx/spc-monitor/pkg/backend"
	"github.com/packagewjx/spc-monitor/pkg/core"
)

type fakeBackend struct {
	mu            sync.Mutex
	currentSku    string
	skuErr        error
	correctionErr error
	refreshErr    error
	fetchErr      error
	interval      time.Duration
	// 不为nil时ApplyCorrection阻塞到通道关闭
	correctionGate chan struct{}

	observeCalls map[string]int
	active       map[string]int
	refreshCalls map[string]int
	corrections  []string
}

var _ backend.Backend = &fakeBackend{}

func newFakeBackend(currentSku string) *fakeBackend {
	return &fakeBackend{
		currentSku:   currentSku,
		interval:     5 * time.Millisecond,
		observeCalls: map[string]int{},
		active:       map[string]int{},
		refreshCalls: map[string]int{},
	}
}

func (f *fakeBackend) Observe(ctx context.Context, sku string) <-chan core.DashboardSnapshot {
	f.mu.Lock()
	f.observeCalls[sku]++
	f.active[sku]++
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		f.active[sku]--
		f.mu.Unlock()
	}()

	return backend.Poller{Interval: f.interval, Fetch: f.fetch}.Observe(ctx, sku)
}

func (f *fakeBackend) fetch(ctx context.Context, sku string) (core.DashboardSnapshot, error) {
	f.mu.Lock()
	err := f.fetchErr
	f.mu.Unlock()
	if err != nil {
		return core.DashboardSnapshot{}, err
	}

	cycles := make([]core.Cycle, 3)
	for i := range cycles {
		cycles[i] = core.Cycle{ID: fmt.Sprintf("%s-%d", sku, i), Sku: sku, Seq: i, TargetVolume: 355}
	}
	state := &core.SpcState{Sku: sku, Classification: core.InControl}
	return core.NewSnapshot(sku, cycles, state, nil), nil
}

func (f *fakeBackend) Refresh(ctx context.Context, sku string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls[sku]++
	return f.refreshErr
}

func (f *fakeBackend) ApplyCorrection(ctx context.Context, sku string) error {
	f.mu.Lock()
	f.corrections = append(f.corrections, sku)
	gate, err := f.correctionGate, f.correctionErr
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeBackend) correctionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.corrections)
}

func (f *fakeBackend) FetchCurrentSku(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentSku, f.skuErr
}

func (f *fakeBackend) setCurrentSku(sku string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.currentSku = sku
}

func (f *fakeBackend) setFetchErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchErr = err
}

func (f *fakeBackend) refreshCount(sku string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshCalls[sku]
}

func (f *fakeBackend) observeCount(sku string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.observeCalls[sku]
}

func (f *fakeBackend) activeCount(sku string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[sku]
}
