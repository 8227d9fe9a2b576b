package utils

import (
	"context"
	"sync"
	"time"
)

// Lifetime bounds a group of goroutines that should all stop together, such
// as the reader and writer of one connection.
type Lifetime struct {
	context   context.Context
	cancel    context.CancelFunc
	startTime time.Time
	wg        sync.WaitGroup
}

func NewLifetime(ctx context.Context) *Lifetime {
	ctx, cancel := context.WithCancel(ctx)
	return &Lifetime{
		context:   ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
}

func (l *Lifetime) Started() time.Time {
	return l.startTime
}

func (l *Lifetime) Ctx() context.Context {
	return l.context
}

func (l *Lifetime) IsDone() bool {
	return l.context.Err() != nil
}

// Go runs fn in a goroutine and ends the lifetime when it returns.
func (l *Lifetime) Go(fn func(ctx context.Context)) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer l.cancel()
		fn(l.context)
	}()
}

func (l *Lifetime) Cancel() {
	l.cancel()
}

// Wait blocks until every goroutine started with Go has returned.
func (l *Lifetime) Wait() {
	l.wg.Wait()
}
