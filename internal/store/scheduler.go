package store

import (
	"context"
	"sync"

	"github.com/genloop-ai/genloop/internal/logger"
)

// GoScheduler runs tasks on goroutines. Wait blocks until all scheduled
// tasks finish, which tests and shutdown paths rely on.
type GoScheduler struct {
	wg      sync.WaitGroup
	baseCtx context.Context
}

func NewGoScheduler(ctx context.Context) *GoScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &GoScheduler{baseCtx: ctx}
}

func (s *GoScheduler) Schedule(name string, task func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("background task %s panicked: %v", name, r)
			}
		}()
		task(s.baseCtx)
	}()
}

// Wait blocks until every scheduled task has returned.
func (s *GoScheduler) Wait() {
	s.wg.Wait()
}
