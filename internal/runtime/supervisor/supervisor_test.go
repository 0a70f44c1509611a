package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGoFirstErrorCancels(t *testing.T) {
	t.Parallel()
	s := New(context.Background(), WithCancelOnError(true))

	boom := errors.New("boom")
	s.Go("failing", func(ctx context.Context) error { return boom })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if !errors.Is(err, boom) {
		t.Fatalf("Wait() = %v, want wrapped %v", err, boom)
	}
	select {
	case <-s.Context().Done():
	default:
		t.Fatal("supervisor context not canceled after error")
	}
}

func TestGoRecoverPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	s.Go("panicking", func(ctx context.Context) error { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil {
		t.Fatal("expected error from panic")
	}
}

func TestGoRestartGivesUp(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	runs := make(chan struct{}, 16)
	s.GoRestart("flaky", func(ctx context.Context) error {
		runs <- struct{}{}
		return errors.New("transient")
	},
		WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
		WithMaxRestarts(2),
		WithFatalOnFinalError(true),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err == nil {
		t.Fatal("expected final error after exhausting restarts")
	}
	// Initial run + 2 restarts.
	if got := len(runs); got != 3 {
		t.Fatalf("runs = %d, want 3", got)
	}
}

func TestGoRestartStopsOnCleanExit(t *testing.T) {
	t.Parallel()
	s := New(context.Background())

	ran := 0
	s.GoRestart("oneshot", func(ctx context.Context) error {
		ran++
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if ran != 1 {
		t.Fatalf("ran = %d, want 1", ran)
	}
}
