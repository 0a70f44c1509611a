package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"roadmapd/internal/roadmap"
)

func TestProvisionProject(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.templateStages["launch-v1"] = []roadmap.TemplateStage{
		{ID: "ts-0", TemplateID: "launch-v1", Name: "Prep", OrderIndex: 0},
		{ID: "ts-1", TemplateID: "launch-v1", Name: "Rollout", OrderIndex: 1},
	}
	svc := newTestService(store, &recordingBus{})

	if err := svc.ProvisionProject(context.Background(), "p-1", "launch-v1"); err != nil {
		t.Fatalf("ProvisionProject: %v", err)
	}

	if len(store.stages) != 2 || len(store.level1) != 2 {
		t.Fatalf("stages=%d level1=%d, want 2 each", len(store.stages), len(store.level1))
	}
	for _, st := range store.stages {
		if st.Status != roadmap.StagePending || st.ProjectID != "p-1" || st.TemplateStageID == "" {
			t.Fatalf("stage = %+v, want pending with template link", st)
		}
	}
	for _, g := range store.level1 {
		if g.Status != roadmap.Level1Locked {
			t.Fatalf("gate = %+v, want locked", g)
		}
	}
}

func TestProvisionProjectUnknownTemplate(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore(), &recordingBus{})
	err := svc.ProvisionProject(context.Background(), "p-1", "ghost")
	if !errors.Is(err, roadmap.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAddTaskPendingStage(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.stages["st-1"] = roadmap.Stage{ID: "st-1", ProjectID: "p", Status: roadmap.StagePending}
	bus := &recordingBus{}
	svc := newTestService(store, bus)

	task, err := svc.AddTask(context.Background(), TaskInput{StageID: "st-1", Title: "manual", AssigneeID: 7})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if !task.Deadline.IsZero() {
		t.Fatalf("deadline = %v, want unset before activation", task.Deadline)
	}
	if task.Priority != roadmap.PriorityMedium || task.Status != roadmap.TaskOpen {
		t.Fatalf("task = %+v, want open/medium defaults", task)
	}
	if types := bus.types(); len(types) != 1 || types[0] != roadmap.EventTaskCreated {
		t.Fatalf("events = %v", types)
	}
}

func TestAddTaskActiveStageChains(t *testing.T) {
	t.Parallel()

	start := testStart.Add(-24 * time.Hour)
	store := newFakeStore()
	store.stages["st-1"] = roadmap.Stage{ID: "st-1", ProjectID: "p", Status: roadmap.StageActive, StartedAt: &start}
	store.tasks["t-1"] = roadmap.Task{
		ID: "t-1", StageID: "st-1", AssigneeID: 7, DurationDays: 2,
		Status: roadmap.TaskOpen, Deadline: start.Add(day(2)), CreatedAt: start,
	}
	svc := newTestService(store, &recordingBus{})

	// Same assignee: joins the end of the existing chain.
	task, err := svc.AddTask(context.Background(), TaskInput{StageID: "st-1", Title: "next", AssigneeID: 7, DurationDays: 1})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if want := start.Add(day(3)); !task.Deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", task.Deadline, want)
	}

	// Different assignee: chain starts at stage start.
	other, err := svc.AddTask(context.Background(), TaskInput{StageID: "st-1", Title: "other", AssigneeID: 9, DurationDays: 1})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if want := start.Add(day(1)); !other.Deadline.Equal(want) {
		t.Fatalf("deadline = %v, want %v", other.Deadline, want)
	}
}

func TestAddTaskRejects(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.stages["st-done"] = roadmap.Stage{ID: "st-done", ProjectID: "p", Status: roadmap.StageCompleted}
	svc := newTestService(store, &recordingBus{})
	ctx := context.Background()

	if _, err := svc.AddTask(ctx, TaskInput{StageID: "st-done", Title: "late"}); !errors.Is(err, roadmap.ErrInvalidState) {
		t.Fatalf("completed stage err = %v, want ErrInvalidState", err)
	}
	if _, err := svc.AddTask(ctx, TaskInput{StageID: "ghost", Title: "x"}); !errors.Is(err, roadmap.ErrNotFound) {
		t.Fatalf("missing stage err = %v, want ErrNotFound", err)
	}
	if _, err := svc.AddTask(ctx, TaskInput{StageID: "st-done"}); !errors.Is(err, roadmap.ErrInvalidState) {
		t.Fatalf("untitled err = %v, want ErrInvalidState", err)
	}
}
