package engine

import (
	"context"
	"fmt"
	"time"

	"roadmapd/internal/eventbus"
	"roadmapd/internal/roadmap"
	"roadmapd/internal/roadmap/assign"
	"roadmapd/internal/roadmap/scheduler"
	"roadmapd/pkg/logx"
)

// Service is the transactional core of the roadmap engine.
type Service struct {
	store       roadmap.Store
	bus         eventbus.Bus
	log         logx.Logger
	now         func() time.Time
	defaultDays int
}

type Option func(*Service)

// WithClock overrides the time source. Tests use it to pin activation
// instants.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithDefaultDuration overrides the fallback duration applied to work units
// that carry none.
func WithDefaultDuration(days int) Option {
	return func(s *Service) {
		if days > 0 {
			s.defaultDays = days
		}
	}
}

func New(store roadmap.Store, bus eventbus.Bus, log logx.Logger, opts ...Option) *Service {
	s := &Service{store: store, bus: bus, log: log, now: time.Now, defaultDays: roadmap.DefaultDurationDays}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartStage activates a pending stage and materializes its task batch.
//
// Template-backed stages instantiate their template task definitions with
// auto-assignment and waterfall deadlines. Manual stages keep their existing
// tasks and get their deadlines recomputed from the activation instant.
// Starting a stage that is not pending returns ErrInvalidState.
func (s *Service) StartStage(ctx context.Context, stageID string) error {
	now := s.now().UTC()
	var events []eventbus.Event

	err := s.store.WithTx(ctx, func(tx roadmap.Tx) error {
		st, err := tx.Stage(ctx, stageID)
		if err != nil {
			return fmt.Errorf("load stage %s: %w", stageID, err)
		}
		if st.Status != roadmap.StagePending {
			return fmt.Errorf("stage %s is %s: %w", stageID, st.Status, roadmap.ErrInvalidState)
		}

		st.Status = roadmap.StageActive
		st.StartedAt = &now

		var taskCount int
		if st.TemplateStageID != "" {
			taskCount, events, err = s.instantiate(ctx, tx, st, now)
		} else {
			taskCount, err = s.reschedule(ctx, tx, st, now)
		}
		if err != nil {
			return err
		}

		if err := tx.UpdateStage(ctx, st); err != nil {
			return fmt.Errorf("update stage %s: %w", stageID, err)
		}

		events = append(events, eventbus.Event{
			Type: roadmap.EventStageActivated,
			Time: now,
			Data: roadmap.StageEvent{
				StageID:   st.ID,
				ProjectID: st.ProjectID,
				Name:      st.Name,
				At:        now,
				TaskCount: taskCount,
			},
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(events)
	s.log.Info("stage activated", logx.String("stage_id", stageID), logx.Int("events", len(events)))
	return nil
}

// instantiate plans and inserts the template task batch for st.
func (s *Service) instantiate(ctx context.Context, tx roadmap.Tx, st roadmap.Stage, now time.Time) (int, []eventbus.Event, error) {
	defs, err := tx.TemplateTasks(ctx, st.TemplateStageID)
	if err != nil {
		return 0, nil, fmt.Errorf("load template tasks for %s: %w", st.TemplateStageID, err)
	}
	for i := range defs {
		if defs[i].DurationDays <= 0 {
			defs[i].DurationDays = s.defaultDays
		}
	}

	matcher := assign.New(txDirectory{tx})
	tasks, err := scheduler.PlanTemplate(ctx, st, now, defs, matcher)
	if err != nil {
		return 0, nil, fmt.Errorf("plan stage %s: %w", st.ID, err)
	}
	if len(tasks) == 0 {
		return 0, nil, nil
	}
	if err := tx.InsertTasks(ctx, tasks); err != nil {
		return 0, nil, fmt.Errorf("insert tasks for stage %s: %w", st.ID, err)
	}

	events := make([]eventbus.Event, 0, len(tasks))
	for _, task := range tasks {
		events = append(events, eventbus.Event{
			Type: roadmap.EventTaskCreated,
			Time: now,
			Data: roadmap.TaskEvent{
				TaskID:       task.ID,
				StageID:      task.StageID,
				ProjectID:    task.ProjectID,
				Title:        task.Title,
				Status:       task.Status,
				AssigneeID:   task.AssigneeID,
				AutoAssigned: task.AutoAssigned,
				Deadline:     task.Deadline,
				At:           now,
			},
		})
	}
	return len(tasks), events, nil
}

// reschedule recomputes deadlines for the existing tasks of a manual stage.
func (s *Service) reschedule(ctx context.Context, tx roadmap.Tx, st roadmap.Stage, now time.Time) (int, error) {
	existing, err := tx.StageTasks(ctx, st.ID)
	if err != nil {
		return 0, fmt.Errorf("load tasks for stage %s: %w", st.ID, err)
	}
	for i := range existing {
		if existing[i].DurationDays <= 0 {
			existing[i].DurationDays = s.defaultDays
		}
	}
	for _, r := range scheduler.PlanManual(now, existing) {
		if err := tx.UpdateTaskDeadline(ctx, r.TaskID, r.Deadline); err != nil {
			return 0, fmt.Errorf("update deadline for task %s: %w", r.TaskID, err)
		}
	}
	return len(existing), nil
}

// CompleteStage marks an active stage completed. Completing an already
// completed stage is a no-op; completing a pending stage is rejected.
func (s *Service) CompleteStage(ctx context.Context, stageID string) error {
	now := s.now().UTC()
	var events []eventbus.Event

	err := s.store.WithTx(ctx, func(tx roadmap.Tx) error {
		st, err := tx.Stage(ctx, stageID)
		if err != nil {
			return fmt.Errorf("load stage %s: %w", stageID, err)
		}
		switch st.Status {
		case roadmap.StageCompleted:
			return nil
		case roadmap.StagePending:
			return fmt.Errorf("stage %s is %s: %w", stageID, st.Status, roadmap.ErrInvalidState)
		}

		st.Status = roadmap.StageCompleted
		st.CompletedAt = &now
		if err := tx.UpdateStage(ctx, st); err != nil {
			return fmt.Errorf("update stage %s: %w", stageID, err)
		}

		events = append(events, eventbus.Event{
			Type: roadmap.EventStageCompleted,
			Time: now,
			Data: roadmap.StageEvent{StageID: st.ID, ProjectID: st.ProjectID, Name: st.Name, At: now},
		})
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(events)
	if len(events) > 0 {
		s.log.Info("stage completed", logx.String("stage_id", stageID))
	}
	return nil
}

// StartLevel1Stage explicitly activates a locked level-1 gate. Normally the
// first gate is started this way and the rest activate through the cascade.
func (s *Service) StartLevel1Stage(ctx context.Context, id string) error {
	now := s.now().UTC()
	var events []eventbus.Event

	err := s.store.WithTx(ctx, func(tx roadmap.Tx) error {
		flipped, err := tx.ActivateLevel1IfLocked(ctx, id, now)
		if err != nil {
			return fmt.Errorf("activate level1 %s: %w", id, err)
		}
		if !flipped {
			st, err := tx.Level1Stage(ctx, id)
			if err != nil {
				return fmt.Errorf("load level1 %s: %w", id, err)
			}
			return fmt.Errorf("level1 %s is %s: %w", id, st.Status, roadmap.ErrInvalidState)
		}

		st, err := tx.Level1Stage(ctx, id)
		if err != nil {
			return fmt.Errorf("load level1 %s: %w", id, err)
		}
		events = append(events, level1Event(roadmap.EventLevel1Activated, st, now))
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(events)
	s.log.Info("level1 activated", logx.String("level1_id", id))
	return nil
}

// CompleteLevel1Stage completes an active level-1 gate and cascades exactly
// one step: the locked sibling at the next order index becomes active.
//
// No locked sibling at the next index stops the cascade silently. More than
// one is an ambiguous ordering and fails the whole transaction with
// ErrConstraint. Completing an already completed gate is a no-op.
func (s *Service) CompleteLevel1Stage(ctx context.Context, id string) error {
	now := s.now().UTC()
	var events []eventbus.Event

	err := s.store.WithTx(ctx, func(tx roadmap.Tx) error {
		st, err := tx.Level1Stage(ctx, id)
		if err != nil {
			return fmt.Errorf("load level1 %s: %w", id, err)
		}
		switch st.Status {
		case roadmap.Level1Completed:
			return nil
		case roadmap.Level1Locked:
			return fmt.Errorf("level1 %s is %s: %w", id, st.Status, roadmap.ErrInvalidState)
		}

		st.Status = roadmap.Level1Completed
		st.CompletedAt = &now
		if err := tx.UpdateLevel1Stage(ctx, st); err != nil {
			return fmt.Errorf("update level1 %s: %w", id, err)
		}
		events = append(events, level1Event(roadmap.EventLevel1Completed, st, now))

		next, err := tx.LockedLevel1At(ctx, st.ProjectID, st.OrderIndex+1)
		if err != nil {
			return fmt.Errorf("lookup successors of level1 %s: %w", id, err)
		}
		switch {
		case len(next) == 0:
			// Gap in the sequence or end of roadmap: nothing to cascade to.
			return nil
		case len(next) > 1:
			return fmt.Errorf("level1 order %d in project %s has %d locked stages: %w",
				st.OrderIndex+1, st.ProjectID, len(next), roadmap.ErrConstraint)
		}

		succ := next[0]
		flipped, err := tx.ActivateLevel1IfLocked(ctx, succ.ID, now)
		if err != nil {
			return fmt.Errorf("activate level1 %s: %w", succ.ID, err)
		}
		if flipped {
			succ.Status = roadmap.Level1Active
			succ.StartedAt = &now
			events = append(events, level1Event(roadmap.EventLevel1Activated, succ, now))
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(events)
	if len(events) > 0 {
		s.log.Info("level1 completed", logx.String("level1_id", id), logx.Int("events", len(events)))
	}
	return nil
}

// UpdateTaskStatus moves a task to the given status. Terminal tasks only
// accept archiving; reaching a terminal status publishes a completion event
// so the stage completion detector can react.
func (s *Service) UpdateTaskStatus(ctx context.Context, taskID string, status roadmap.TaskStatus) error {
	now := s.now().UTC()
	var events []eventbus.Event

	err := s.store.WithTx(ctx, func(tx roadmap.Tx) error {
		task, err := tx.Task(ctx, taskID)
		if err != nil {
			return fmt.Errorf("load task %s: %w", taskID, err)
		}
		if task.Status == status {
			return nil
		}
		if task.Status.Terminal() && status != roadmap.TaskArchived {
			return fmt.Errorf("task %s is %s: %w", taskID, task.Status, roadmap.ErrInvalidState)
		}

		if err := tx.UpdateTaskStatus(ctx, taskID, status); err != nil {
			return fmt.Errorf("update task %s: %w", taskID, err)
		}

		if status.Terminal() && !task.Status.Terminal() {
			events = append(events, eventbus.Event{
				Type: roadmap.EventTaskCompleted,
				Time: now,
				Data: roadmap.TaskEvent{
					TaskID:     task.ID,
					StageID:    task.StageID,
					ProjectID:  task.ProjectID,
					Title:      task.Title,
					Status:     status,
					AssigneeID: task.AssigneeID,
					At:         now,
				},
			})
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.publish(events)
	return nil
}

func (s *Service) publish(events []eventbus.Event) {
	if s.bus == nil {
		return
	}
	for _, ev := range events {
		s.bus.Publish(ev)
	}
}

func level1Event(typ string, st roadmap.Level1Stage, at time.Time) eventbus.Event {
	return eventbus.Event{
		Type: typ,
		Time: at,
		Data: roadmap.Level1Event{ID: st.ID, ProjectID: st.ProjectID, OrderIndex: st.OrderIndex, At: at},
	}
}

// txDirectory adapts a transaction to the matcher's read-only view so role
// resolution sees the same snapshot the activation writes against.
type txDirectory struct{ tx roadmap.Tx }

func (d txDirectory) Members(ctx context.Context, projectID string) ([]roadmap.Member, error) {
	return d.tx.Members(ctx, projectID)
}
