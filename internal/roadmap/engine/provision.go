package engine

import (
	"context"
	"fmt"

	"roadmapd/internal/eventbus"
	"roadmapd/internal/roadmap"
	"roadmapd/internal/roadmap/scheduler"
	"roadmapd/pkg/logx"
)

// ProvisionProject creates a project's roadmap from a template: one pending
// level-2 stage per template stage, plus a locked level-1 gate mirroring each
// stage's order index. Nothing is activated; StartLevel1Stage and StartStage
// drive the lifecycle afterwards.
func (s *Service) ProvisionProject(ctx context.Context, projectID, templateID string) error {
	err := s.store.WithTx(ctx, func(tx roadmap.Tx) error {
		tstages, err := tx.TemplateStages(ctx, templateID)
		if err != nil {
			return fmt.Errorf("load template %s: %w", templateID, err)
		}
		if len(tstages) == 0 {
			return fmt.Errorf("template %s: %w", templateID, roadmap.ErrNotFound)
		}

		gates := make([]roadmap.Level1Stage, 0, len(tstages))
		for _, ts := range tstages {
			stage := roadmap.Stage{
				ID:              roadmap.NewID(),
				ProjectID:       projectID,
				TemplateStageID: ts.ID,
				Name:            ts.Name,
				OrderIndex:      ts.OrderIndex,
				Status:          roadmap.StagePending,
			}
			if err := tx.InsertStage(ctx, stage); err != nil {
				return fmt.Errorf("insert stage %q: %w", ts.Name, err)
			}
			gates = append(gates, roadmap.Level1Stage{
				ID:         roadmap.NewID(),
				ProjectID:  projectID,
				Level1ID:   ts.ID,
				OrderIndex: ts.OrderIndex,
				Status:     roadmap.Level1Locked,
			})
		}
		if err := tx.InsertLevel1Stages(ctx, gates); err != nil {
			return fmt.Errorf("insert level1 gates: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Info("project provisioned",
		logx.String("project_id", projectID), logx.String("template_id", templateID))
	return nil
}

// TaskInput describes a manually created task.
type TaskInput struct {
	StageID        string
	Title          string
	Description    string
	Tags           []string
	EstimatedHours float64
	DurationDays   int
	Priority       roadmap.TaskPriority
	AssigneeID     int64
}

// AddTask appends a manual task to a stage. On a pending stage the deadline
// stays unset until activation recomputes the waterfall; on an active stage
// the task joins the end of its assignee's chain immediately. Completed
// stages no longer accept tasks.
func (s *Service) AddTask(ctx context.Context, in TaskInput) (roadmap.Task, error) {
	if in.Title == "" {
		return roadmap.Task{}, fmt.Errorf("task title is required: %w", roadmap.ErrInvalidState)
	}
	now := s.now().UTC()
	var (
		task   roadmap.Task
		events []eventbus.Event
	)

	err := s.store.WithTx(ctx, func(tx roadmap.Tx) error {
		st, err := tx.Stage(ctx, in.StageID)
		if err != nil {
			return fmt.Errorf("load stage %s: %w", in.StageID, err)
		}
		if st.Status == roadmap.StageCompleted {
			return fmt.Errorf("stage %s is %s: %w", in.StageID, st.Status, roadmap.ErrInvalidState)
		}

		priority := in.Priority
		if priority == "" {
			priority = roadmap.PriorityMedium
		}
		days := in.DurationDays
		if days <= 0 {
			days = s.defaultDays
		}
		task = roadmap.Task{
			ID:             roadmap.NewID(),
			ProjectID:      st.ProjectID,
			StageID:        st.ID,
			Title:          in.Title,
			Description:    in.Description,
			Tags:           append([]string(nil), in.Tags...),
			EstimatedHours: in.EstimatedHours,
			DurationDays:   days,
			Status:         roadmap.TaskOpen,
			Priority:       priority,
			AssigneeID:     in.AssigneeID,
			CreatedAt:      now,
		}

		if st.Status == roadmap.StageActive && st.StartedAt != nil {
			existing, err := tx.StageTasks(ctx, st.ID)
			if err != nil {
				return fmt.Errorf("load tasks for stage %s: %w", st.ID, err)
			}
			task.Deadline = scheduler.Append(*st.StartedAt, existing, task)
		}

		if err := tx.InsertTasks(ctx, []roadmap.Task{task}); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}

		events = append(events, eventbus.Event{
			Type: roadmap.EventTaskCreated,
			Time: now,
			Data: roadmap.TaskEvent{
				TaskID:     task.ID,
				StageID:    task.StageID,
				ProjectID:  task.ProjectID,
				Title:      task.Title,
				Status:     task.Status,
				AssigneeID: task.AssigneeID,
				Deadline:   task.Deadline,
				At:         now,
			},
		})
		return nil
	})
	if err != nil {
		return roadmap.Task{}, err
	}

	s.publish(events)
	return task, nil
}
