package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"roadmapd/internal/roadmap"
)

type staticResolver map[roadmap.Role]int64

func (r staticResolver) Resolve(_ context.Context, _ string, role roadmap.Role) (int64, bool, error) {
	id, ok := r[role]
	return id, ok, nil
}

type failingResolver struct{ err error }

func (r failingResolver) Resolve(context.Context, string, roadmap.Role) (int64, bool, error) {
	return 0, false, r.err
}

func day(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func TestPlanTemplateWaterfall(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stage := roadmap.Stage{ID: "st-1", ProjectID: "p-1"}
	defs := []roadmap.TemplateTask{
		{ID: "tt-a", Title: "Draft posts", RequiredRole: "SMM", DurationDays: 1, OrderIndex: 0},
		{ID: "tt-b", Title: "Schedule posts", RequiredRole: "SMM", DurationDays: 1, OrderIndex: 1},
		{ID: "tt-c", Title: "Review plan", RequiredRole: "PM", DurationDays: 3, OrderIndex: 2},
	}
	res := staticResolver{"SMM": 101, "PM": 202}

	tasks, err := PlanTemplate(context.Background(), stage, start, defs, res)
	if err != nil {
		t.Fatalf("PlanTemplate: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("tasks = %d, want 3", len(tasks))
	}

	// Same role chains sequentially; a different role starts from stage start.
	wantDeadlines := []time.Time{start.Add(day(1)), start.Add(day(2)), start.Add(day(3))}
	wantAssignees := []int64{101, 101, 202}
	for i, task := range tasks {
		if !task.Deadline.Equal(wantDeadlines[i]) {
			t.Errorf("task %d deadline = %v, want %v", i, task.Deadline, wantDeadlines[i])
		}
		if task.AssigneeID != wantAssignees[i] {
			t.Errorf("task %d assignee = %d, want %d", i, task.AssigneeID, wantAssignees[i])
		}
		if !task.AutoAssigned {
			t.Errorf("task %d not marked auto-assigned", i)
		}
		if task.Status != roadmap.TaskOpen {
			t.Errorf("task %d status = %q, want open", i, task.Status)
		}
	}
}

func TestPlanTemplateDefaults(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	stage := roadmap.Stage{ID: "st-1", ProjectID: "p-1"}
	defs := []roadmap.TemplateTask{
		{ID: "tt-a", Title: "Untimed work", RequiredRole: "Designer"},
	}

	tasks, err := PlanTemplate(context.Background(), stage, start, defs, staticResolver{})
	if err != nil {
		t.Fatalf("PlanTemplate: %v", err)
	}
	task := tasks[0]
	if want := start.Add(day(roadmap.DefaultDurationDays)); !task.Deadline.Equal(want) {
		t.Errorf("deadline = %v, want default %v", task.Deadline, want)
	}
	if task.AssigneeID != 0 || task.AutoAssigned {
		t.Errorf("unresolved role must leave the task unassigned, got assignee=%d auto=%v", task.AssigneeID, task.AutoAssigned)
	}
	if len(task.Tags) != 1 || task.Tags[0] != "Designer" {
		t.Errorf("tags = %v, want [Designer]", task.Tags)
	}
	if task.Description != "Requires: Designer" {
		t.Errorf("description = %q", task.Description)
	}
}

func TestPlanTemplateEmpty(t *testing.T) {
	t.Parallel()

	tasks, err := PlanTemplate(context.Background(), roadmap.Stage{ID: "st"}, time.Now(), nil, nil)
	if err != nil {
		t.Fatalf("PlanTemplate: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("tasks = %d, want 0", len(tasks))
	}
}

func TestPlanTemplateResolverError(t *testing.T) {
	t.Parallel()

	boom := errors.New("directory down")
	defs := []roadmap.TemplateTask{{ID: "tt", Title: "x", RequiredRole: "PM"}}
	_, err := PlanTemplate(context.Background(), roadmap.Stage{ID: "st"}, time.Now(), defs, failingResolver{err: boom})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped resolver error", err)
	}
}

func TestPlanTemplateOrderIndex(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	// Definitions arrive out of order; waterfall must follow order_index.
	defs := []roadmap.TemplateTask{
		{ID: "tt-2", Title: "second", RequiredRole: "QA", DurationDays: 2, OrderIndex: 1},
		{ID: "tt-1", Title: "first", RequiredRole: "QA", DurationDays: 1, OrderIndex: 0},
	}

	tasks, err := PlanTemplate(context.Background(), roadmap.Stage{ID: "st", ProjectID: "p"}, start, defs, staticResolver{"QA": 7})
	if err != nil {
		t.Fatalf("PlanTemplate: %v", err)
	}
	if tasks[0].TemplateTaskID != "tt-1" || tasks[1].TemplateTaskID != "tt-2" {
		t.Fatalf("order = %s,%s, want tt-1,tt-2", tasks[0].TemplateTaskID, tasks[1].TemplateTaskID)
	}
	if want := start.Add(day(1)); !tasks[0].Deadline.Equal(want) {
		t.Errorf("first deadline = %v, want %v", tasks[0].Deadline, want)
	}
	if want := start.Add(day(3)); !tasks[1].Deadline.Equal(want) {
		t.Errorf("second deadline = %v, want %v", tasks[1].Deadline, want)
	}
}

func TestPlanManual(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	created := start.Add(-48 * time.Hour)
	tasks := []roadmap.Task{
		{ID: "t-1", AssigneeID: 5, DurationDays: 1, CreatedAt: created},
		{ID: "t-2", AssigneeID: 5, DurationDays: 2, CreatedAt: created.Add(time.Minute)},
		{ID: "t-3", AssigneeID: 0, DurationDays: 1, CreatedAt: created.Add(2 * time.Minute)},
		{ID: "t-4", AssigneeID: 9, CreatedAt: created.Add(3 * time.Minute)},
	}

	plan := PlanManual(start, tasks)
	want := map[string]time.Time{
		"t-1": start.Add(day(1)),
		"t-2": start.Add(day(3)),                          // chained behind t-1 on the same assignee
		"t-3": start.Add(day(1)),                          // unassigned pool starts fresh
		"t-4": start.Add(day(roadmap.DefaultDurationDays)), // independent assignee, default duration
	}
	for _, r := range plan {
		if !r.Deadline.Equal(want[r.TaskID]) {
			t.Errorf("%s deadline = %v, want %v", r.TaskID, r.Deadline, want[r.TaskID])
		}
	}
}

func TestPlanManualDeterministic(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	created := start.Add(-time.Hour)
	tasks := []roadmap.Task{
		{ID: "t-b", AssigneeID: 5, DurationDays: 1, CreatedAt: created},
		{ID: "t-a", AssigneeID: 5, DurationDays: 2, CreatedAt: created},
	}

	first := PlanManual(start, tasks)
	// Reversed input must not change the outcome: equal creation instants
	// fall back to id order.
	second := PlanManual(start, []roadmap.Task{tasks[1], tasks[0]})
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("plan not deterministic: %v vs %v", first[i], second[i])
		}
	}
	if !first[0].Deadline.Equal(start.Add(day(2))) || first[0].TaskID != "t-a" {
		t.Fatalf("first unit = %+v, want t-a at +2d", first[0])
	}
}

func TestAppend(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	existing := []roadmap.Task{
		{ID: "t-1", AssigneeID: 7, Deadline: start.Add(day(2))},
		{ID: "t-2", AssigneeID: 9, Deadline: start.Add(day(5))},
	}

	// Joins the end of its own chain, not the stage-wide maximum.
	got := Append(start, existing, roadmap.Task{AssigneeID: 7, DurationDays: 1})
	if want := start.Add(day(3)); !got.Equal(want) {
		t.Errorf("same-chain deadline = %v, want %v", got, want)
	}

	// Fresh executor starts from stage start with the default duration.
	got = Append(start, existing, roadmap.Task{AssigneeID: 3})
	if want := start.Add(day(roadmap.DefaultDurationDays)); !got.Equal(want) {
		t.Errorf("fresh-chain deadline = %v, want %v", got, want)
	}
}

func TestEnd(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if _, ok := End(nil); ok {
		t.Fatal("End(nil) reported a deadline")
	}
	end, ok := End([]roadmap.Task{
		{Deadline: start.Add(day(1))},
		{Deadline: start.Add(day(4))},
		{Deadline: start.Add(day(2))},
	})
	if !ok || !end.Equal(start.Add(day(4))) {
		t.Fatalf("End = %v ok=%v, want +4d", end, ok)
	}
}
