package goplus

import (
	"sync"
	"sync/atomic"
)

var (
	defaultGroup     *WaitGroup
	defaultGroupOnce sync.Once
)

func DefaultGroup() *WaitGroup {
	defaultGroupOnce.Do(func() {
		defaultGroup = NewWaitGroup()
	})
	return defaultGroup
}

// Go 在默认组中启动带 recover 的 goroutine
func Go(fn func()) {
	DefaultGroup().Go(fn)
}

func Wait() {
	DefaultGroup().Wait()
}

type WaitGroup struct {
	wg      sync.WaitGroup
	running atomic.Int64
}

func NewWaitGroup() *WaitGroup {
	return &WaitGroup{}
}

func (s *WaitGroup) Go(fn func()) {
	s.running.Add(1)
	s.wg.Add(1)

	go func() {
		defer func() {
			s.running.Add(-1)
			s.wg.Done()
		}()
		defer Recover()

		fn()
	}()
}

// Running 运行中的 goroutine 数
func (s *WaitGroup) Running() int64 {
	return s.running.Load()
}

func (s *WaitGroup) Wait() {
	s.wg.Wait()
}
