package completion

import (
	"context"
	"sync"
	"testing"
	"time"

	"roadmapd/internal/eventbus"
	"roadmapd/internal/roadmap"
	"roadmapd/pkg/logx"
)

// readTx implements only the reads the detector performs; the embedded
// interface covers the rest.
type readTx struct {
	roadmap.Tx
	stage roadmap.Stage
	tasks []roadmap.Task
}

func (t readTx) Stage(_ context.Context, id string) (roadmap.Stage, error) {
	if t.stage.ID != id {
		return roadmap.Stage{}, roadmap.ErrNotFound
	}
	return t.stage, nil
}

func (t readTx) StageTasks(context.Context, string) ([]roadmap.Task, error) {
	return t.tasks, nil
}

type readStore struct {
	mu sync.Mutex
	tx readTx
}

func (s *readStore) WithTx(_ context.Context, fn func(tx roadmap.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.tx)
}

func (s *readStore) Close() error { return nil }

func (s *readStore) set(tx readTx) {
	s.mu.Lock()
	s.tx = tx
	s.mu.Unlock()
}

type completions struct {
	mu  sync.Mutex
	ids []string
}

func (c *completions) CompleteStage(_ context.Context, stageID string) error {
	c.mu.Lock()
	c.ids = append(c.ids, stageID)
	c.mu.Unlock()
	return nil
}

func (c *completions) list() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func publishCompleted(bus eventbus.Bus, stageID string) {
	bus.Publish(eventbus.Event{
		Type: roadmap.EventTaskCompleted,
		Time: time.Now(),
		Data: roadmap.TaskEvent{TaskID: "t", StageID: stageID, Status: roadmap.TaskDone},
	})
}

func TestAutoCompletesWhenAllTerminal(t *testing.T) {
	t.Parallel()

	store := &readStore{tx: readTx{
		stage: roadmap.Stage{ID: "st-1", Status: roadmap.StageActive},
		tasks: []roadmap.Task{
			{ID: "t-1", Status: roadmap.TaskDone},
			{ID: "t-2", Status: roadmap.TaskArchived},
		},
	}}
	eng := &completions{}
	bus := eventbus.New()
	svc := New(store, eng, bus, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	publishCompleted(bus, "st-1")

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(eng.list()) == 1 && eng.list()[0] == "st-1" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("CompleteStage calls = %v, want [st-1]", eng.list())
}

func TestLeavesStageOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		tx   readTx
	}{
		{
			name: "task still open",
			tx: readTx{
				stage: roadmap.Stage{ID: "st-1", Status: roadmap.StageActive},
				tasks: []roadmap.Task{{ID: "t-1", Status: roadmap.TaskDone}, {ID: "t-2", Status: roadmap.TaskOpen}},
			},
		},
		{
			name: "stage not active",
			tx: readTx{
				stage: roadmap.Stage{ID: "st-1", Status: roadmap.StageCompleted},
				tasks: []roadmap.Task{{ID: "t-1", Status: roadmap.TaskDone}},
			},
		},
		{
			name: "no tasks at all",
			tx: readTx{
				stage: roadmap.Stage{ID: "st-1", Status: roadmap.StageActive},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := &readStore{tx: tc.tx}
			eng := &completions{}
			svc := New(store, eng, eventbus.New(), logx.Nop())

			svc.checkStage(context.Background(), "st-1")
			if got := eng.list(); len(got) != 0 {
				t.Fatalf("CompleteStage calls = %v, want none", got)
			}
		})
	}
}
