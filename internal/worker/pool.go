package worker

import (
	"context"
	"sync"
)

// Pool bounds concurrent goroutines using a semaphore.
type Pool struct {
	sem chan struct{}
	wg  sync.WaitGroup
}

func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size)}
}

// Slot is a reserved unit of pool capacity. It must be either used with Go
// or given back with Release.
type Slot struct {
	pool *Pool
	once sync.Once
}

// Acquire blocks until a slot is free or ctx is done.
func (p *Pool) Acquire(ctx context.Context) (*Slot, error) {
	select {
	case p.sem <- struct{}{}:
		p.wg.Add(1)
		return &Slot{pool: p}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Go runs fn in the slot and frees it when fn returns.
func (s *Slot) Go(fn func()) {
	go func() {
		defer s.Release()
		fn()
	}()
}

func (s *Slot) Release() {
	s.once.Do(func() {
		<-s.pool.sem
		s.pool.wg.Done()
	})
}

func (p *Pool) Submit(ctx context.Context, fn func()) error {
	slot, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	slot.Go(fn)
	return nil
}

func (p *Pool) Wait() {
	p.wg.Wait()
}
