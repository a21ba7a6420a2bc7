// Package snapshot 保存当前的看板快照，写入时整体替换
package snapshot

import (
	"context"

	"github.com/packagewjx/spc-monitor/internal/watch"
	"github.com/packagewjx/spc-monitor/pkg/core"
)

type Store struct {
	value *watch.Value[core.DashboardSnapshot]
}

func NewStore() *Store {
	return &Store{value: watch.NewValue(core.InitialSnapshot())}
}

// Get 返回的快照与存储不共享切片
func (s *Store) Get() core.DashboardSnapshot {
	return s.value.Get().Clone()
}

func (s *Store) Set(snapshot core.DashboardSnapshot) {
	s.value.Store(snapshot.Clone())
}

// Update 在锁内读取并替换当前快照
func (s *Store) Update(fn func(old core.DashboardSnapshot) core.DashboardSnapshot) {
	s.value.Update(func(old core.DashboardSnapshot) (core.DashboardSnapshot, bool) {
		return fn(old.Clone()).Clone(), true
	})
}

// UpdateIf 与Update相同，但fn返回false时不写入
func (s *Store) UpdateIf(fn func(old core.DashboardSnapshot) (core.DashboardSnapshot, bool)) bool {
	return s.value.Update(func(old core.DashboardSnapshot) (core.DashboardSnapshot, bool) {
		next, ok := fn(old.Clone())
		if !ok {
			return old, false
		}
		return next.Clone(), true
	})
}

// Watch 返回当前快照以及下一次写入时关闭的通道
func (s *Store) Watch() (core.DashboardSnapshot, <-chan struct{}) {
	v, changed := s.value.Load()
	return v.Clone(), changed
}

func (s *Store) Version() uint64 {
	return s.value.Version()
}

// Subscribe 发出当前快照以及之后的每个新快照。读取慢时跳过中间值，只保证收到最新值。
func (s *Store) Subscribe(ctx context.Context) <-chan core.DashboardSnapshot {
	out := make(chan core.DashboardSnapshot)
	go func() {
		defer close(out)
		for {
			v, changed := s.Watch()
			select {
			case out <- v:
			case <-ctx.Done():
				return
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
