package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"roadmapd/internal/roadmap"
)

// unassignedKey is the shared pool for units with no role and no owner.
const unassignedKey = "unassigned"

// ledger maps executor key -> running deadline for one planning call.
// It is deliberately call-local: a fresh ledger per activation is what makes
// chains on different keys independent of each other.
type ledger map[string]time.Time

func (l ledger) next(key string, start time.Time, days int) time.Time {
	running, ok := l[key]
	if !ok {
		running = start
	}
	deadline := running.Add(time.Duration(days) * 24 * time.Hour)
	l[key] = deadline
	return deadline
}

// Resolver resolves a required role to a project member.
type Resolver interface {
	Resolve(ctx context.Context, projectID string, role roadmap.Role) (int64, bool, error)
}

// PlanTemplate materializes one task per template task definition, assigning
// owners through res and computing waterfall deadlines from start.
//
// Definitions are processed in ascending order index. An empty definition
// list yields an empty batch, not an error.
func PlanTemplate(ctx context.Context, stage roadmap.Stage, start time.Time, defs []roadmap.TemplateTask, res Resolver) ([]roadmap.Task, error) {
	if len(defs) == 0 {
		return nil, nil
	}

	ordered := append([]roadmap.TemplateTask(nil), defs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].OrderIndex < ordered[j].OrderIndex })

	led := ledger{}
	tasks := make([]roadmap.Task, 0, len(ordered))
	for _, def := range ordered {
		days := def.DurationDays
		if days <= 0 {
			days = roadmap.DefaultDurationDays
		}

		var (
			assignee int64
			auto     bool
		)
		if !def.RequiredRole.IsZero() && res != nil {
			id, ok, err := res.Resolve(ctx, stage.ProjectID, def.RequiredRole)
			if err != nil {
				return nil, fmt.Errorf("resolve %q: %w", def.RequiredRole, err)
			}
			if ok {
				assignee = id
				auto = true
			}
		}

		deadline := led.next(executorKeyForRole(def.RequiredRole), start, days)

		tags := append([]string(nil), def.Tags...)
		if len(tags) == 0 && !def.RequiredRole.IsZero() {
			tags = []string{string(def.RequiredRole)}
		}
		desc := def.Description
		if desc == "" && !def.RequiredRole.IsZero() {
			desc = "Requires: " + string(def.RequiredRole)
		}

		tasks = append(tasks, roadmap.Task{
			ID:             roadmap.NewID(),
			ProjectID:      stage.ProjectID,
			StageID:        stage.ID,
			TemplateTaskID: def.ID,
			Title:          def.Title,
			Description:    desc,
			Tags:           tags,
			EstimatedHours: def.EstimatedHours,
			DurationDays:   days,
			Status:         roadmap.TaskOpen,
			Priority:       roadmap.PriorityMedium,
			AssigneeID:     assignee,
			AutoAssigned:   auto,
			Deadline:       deadline,
			CreatedAt:      start,
		})
	}
	return tasks, nil
}

// Reschedule is a deadline update for an existing task.
type Reschedule struct {
	TaskID   string
	Deadline time.Time
}

// PlanManual recomputes deadlines for the existing tasks of a manual stage.
//
// Tasks are processed in creation order; the executor key is the current
// assignee (or the unassigned pool). The computation is pure, so re-running
// it with unchanged inputs reproduces identical deadlines.
func PlanManual(start time.Time, tasks []roadmap.Task) []Reschedule {
	if len(tasks) == 0 {
		return nil
	}

	ordered := append([]roadmap.Task(nil), tasks...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].CreatedAt.Equal(ordered[j].CreatedAt) {
			return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
		}
		return ordered[i].ID < ordered[j].ID
	})

	led := ledger{}
	out := make([]Reschedule, 0, len(ordered))
	for _, t := range ordered {
		days := t.DurationDays
		if days <= 0 {
			days = roadmap.DefaultDurationDays
		}
		deadline := led.next(executorKeyForAssignee(t.AssigneeID), start, days)
		out = append(out, Reschedule{TaskID: t.ID, Deadline: deadline})
	}
	return out
}

// Append computes the deadline for one task added to an already active
// stage: the unit joins the end of its executor's existing chain, or starts
// from the stage start when the chain is empty.
func Append(start time.Time, existing []roadmap.Task, t roadmap.Task) time.Time {
	key := executorKeyForAssignee(t.AssigneeID)
	running := start
	for _, e := range existing {
		if executorKeyForAssignee(e.AssigneeID) == key && e.Deadline.After(running) {
			running = e.Deadline
		}
	}
	days := t.DurationDays
	if days <= 0 {
		days = roadmap.DefaultDurationDays
	}
	return running.Add(time.Duration(days) * 24 * time.Hour)
}

// End returns the effective end of a planned batch: the maximum deadline
// across all executor chains. It is derived on demand and never persisted.
func End(tasks []roadmap.Task) (time.Time, bool) {
	var end time.Time
	for _, t := range tasks {
		if t.Deadline.After(end) {
			end = t.Deadline
		}
	}
	return end, !end.IsZero()
}

func executorKeyForRole(r roadmap.Role) string {
	if r.IsZero() {
		return unassignedKey
	}
	return "role:" + string(r)
}

func executorKeyForAssignee(id int64) string {
	if id == 0 {
		return unassignedKey
	}
	return "user:" + strconv.FormatInt(id, 10)
}
