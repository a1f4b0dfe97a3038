package channel

import (
	"context"
	"sync"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// MemoryTransport carries envelopes over a Go channel, mainly for tests
// and in-process counterparties.
type MemoryTransport struct {
	ch     chan Envelope
	mu     sync.Mutex
	closed bool
}

// NewMemoryTransport creates a buffered in-memory transport.
func NewMemoryTransport(size int) *MemoryTransport {
	if size <= 0 {
		size = 64
	}
	return &MemoryTransport{ch: make(chan Envelope, size)}
}

// Publish enqueues an envelope.
func (t *MemoryTransport) Publish(ctx context.Context, env Envelope) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return xerrors.New(xerrors.CodeTransportFailure, "transport is closed")
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case t.ch <- env:
		return nil
	}
}

// Consume runs workerCount goroutines feeding envelopes to handler until
// ctx ends.
func (t *MemoryTransport) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case env, ok := <-t.ch:
					if !ok {
						return
					}
					_ = handler(ctx, env)
				}
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

// Close shuts the transport down.
func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	if !t.closed {
		close(t.ch)
		t.closed = true
	}
	t.mu.Unlock()
	return nil
}

var _ Transport = (*MemoryTransport)(nil)
