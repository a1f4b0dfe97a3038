package main

import (
	"context"
	"errors"
	"testing"
	"time"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

func blockUntilCancelled(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunLoopsRunsBothUntilCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	consumeStarted := make(chan struct{})
	watchStarted := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- runLoops(ctx,
			func(ctx context.Context) error {
				close(consumeStarted)
				return blockUntilCancelled(ctx)
			},
			func(ctx context.Context) error {
				close(watchStarted)
				return blockUntilCancelled(ctx)
			})
	}()

	// Both loops must be live at the same time before shutdown.
	for _, started := range []chan struct{}{consumeStarted, watchStarted} {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatalf("loop did not start")
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("shutdown error %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("runLoops did not return after cancel")
	}
}

func TestRunLoopsConsumerFailureStopsWatchtower(t *testing.T) {
	boom := xerrors.New(xerrors.CodeTransportFailure, "consumer lost its broker")

	watchStopped := make(chan struct{})
	err := runLoops(context.Background(),
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error {
			defer close(watchStopped)
			return blockUntilCancelled(ctx)
		})
	if !errors.Is(err, boom) {
		t.Fatalf("error %v, want consumer failure", err)
	}

	select {
	case <-watchStopped:
	case <-time.After(time.Second):
		t.Fatalf("watchtower kept running after consumer failure")
	}
}

func TestRunLoopsWatchtowerFailureStopsConsumer(t *testing.T) {
	boom := xerrors.New(xerrors.CodeProvider, "rpc endpoint gone")

	consumeStopped := make(chan struct{})
	err := runLoops(context.Background(),
		func(ctx context.Context) error {
			defer close(consumeStopped)
			return blockUntilCancelled(ctx)
		},
		func(ctx context.Context) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("error %v, want watchtower failure", err)
	}

	select {
	case <-consumeStopped:
	case <-time.After(time.Second):
		t.Fatalf("consumer kept running after watchtower failure")
	}
}
