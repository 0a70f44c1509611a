package sweep

import (
	"context"
	"errors"
	"testing"
	"time"

	"roadmapd/internal/eventbus"
	"roadmapd/internal/roadmap"
	"roadmapd/pkg/logx"
)

type overdueTx struct {
	roadmap.Tx
	tasks []roadmap.Task
	err   error
}

func (t overdueTx) OverdueTasks(_ context.Context, _ time.Time, limit int) ([]roadmap.Task, error) {
	if t.err != nil {
		return nil, t.err
	}
	if limit > 0 && len(t.tasks) > limit {
		return t.tasks[:limit], nil
	}
	return t.tasks, nil
}

type overdueStore struct {
	tx overdueTx
}

func (s *overdueStore) WithTx(_ context.Context, fn func(tx roadmap.Tx) error) error {
	return fn(s.tx)
}

func (s *overdueStore) Close() error { return nil }

func collect(bus eventbus.Bus, buffer int) <-chan eventbus.Event {
	ch, _ := bus.Subscribe(buffer)
	return ch
}

func TestSweepOncePublishes(t *testing.T) {
	t.Parallel()

	deadline := time.Now().Add(-time.Hour)
	store := &overdueStore{tx: overdueTx{tasks: []roadmap.Task{
		{ID: "t-1", StageID: "st", ProjectID: "p", Title: "late one", AssigneeID: 7, Status: roadmap.TaskOpen, Deadline: deadline},
		{ID: "t-2", StageID: "st", ProjectID: "p", Title: "late two", Status: roadmap.TaskInProgress, Deadline: deadline},
	}}}
	bus := eventbus.New()
	events := collect(bus, 8)

	svc := New(Config{Enabled: true}, store, bus, logx.Nop())
	svc.SweepOnce(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			if ev.Type != roadmap.EventTaskOverdue {
				t.Fatalf("event %d type = %q", i, ev.Type)
			}
			te := ev.Data.(roadmap.TaskEvent)
			if !te.Deadline.Equal(deadline) {
				t.Fatalf("event %d deadline = %v", i, te.Deadline)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing overdue event %d", i)
		}
	}
}

func TestSweepOnceQuietOnEmptyAndError(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	events := collect(bus, 8)

	New(Config{Enabled: true}, &overdueStore{}, bus, logx.Nop()).SweepOnce(context.Background())
	New(Config{Enabled: true}, &overdueStore{tx: overdueTx{err: errors.New("db gone")}}, bus, logx.Nop()).SweepOnce(context.Background())

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %q", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestStartValidatesConfig(t *testing.T) {
	t.Parallel()

	store := &overdueStore{}
	bus := eventbus.New()

	svc := New(Config{Enabled: true, Schedule: "not a cron spec"}, store, bus, logx.Nop())
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("bad schedule accepted")
	}

	svc = New(Config{Enabled: true, Timezone: "Mars/Olympus"}, store, bus, logx.Nop())
	if err := svc.Start(context.Background()); err == nil {
		t.Fatal("bad timezone accepted")
	}

	svc = New(Config{Enabled: true, Schedule: "*/5 * * * *", Timezone: "UTC"}, store, bus, logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// Idempotent start, then stop.
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	svc.Stop(context.Background())

	// Disabled config never schedules.
	svc = New(Config{}, store, bus, logx.Nop())
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("disabled Start: %v", err)
	}
	svc.Stop(context.Background())
}
