package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

type Runnable interface {
	Run(ctx context.Context) error
}

// RunnableFunc adapts a plain function to Runnable.
type RunnableFunc func(ctx context.Context) error

func (f RunnableFunc) Run(ctx context.Context) error {
	return f(ctx)
}

var (
	ErrIsAlreadyStarted = errors.New("is already started")
)

// Application runs its registered Runnables under one context. The first
// failing Runnable cancels the rest.
type Application struct {
	runnables   []Runnable
	muRunnables sync.Mutex
	isStarted   atomic.Bool
}

func NewApplication() *Application {
	return &Application{}
}

func (appl *Application) Register(r Runnable) {
	appl.muRunnables.Lock()
	defer appl.muRunnables.Unlock()
	appl.runnables = append(appl.runnables, r)
}

// Run blocks until every Runnable has returned. It returns the first error
// reported, or nil when all of them exited cleanly.
func (appl *Application) Run(ctx context.Context) error {
	if !appl.isStarted.CompareAndSwap(false, true) {
		return ErrIsAlreadyStarted
	}

	appl.muRunnables.Lock()
	runnables := append([]Runnable(nil), appl.runnables...)
	appl.muRunnables.Unlock()

	ctx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	errCh := make(chan error, len(runnables))

	wg := sync.WaitGroup{}
	wg.Add(len(runnables))

	for i := range runnables {
		go startRunnable(ctx, &wg, runnables[i], errCh)
	}

	go func() {
		wg.Wait()
		close(errCh)
	}()

	var firstErr error
	for err := range errCh {
		if firstErr == nil {
			firstErr = fmt.Errorf("application stopped: %w", err)
			cancelFn()
		}
	}
	return firstErr
}

func startRunnable(ctx context.Context, wg *sync.WaitGroup, r Runnable, errCh chan<- error) {
	defer wg.Done()
	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		errCh <- err
	}
}
