package roadmap

import (
	"context"
	"time"
)

// Store is the persistence boundary of the engine.
//
// All engine mutations run inside WithTx; the closure either commits as a
// whole or rolls back as a whole. This is what keeps a stage activation and
// its generated task batch atomic.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

// Tx is the set of operations available inside a store transaction.
type Tx interface {
	// Stage hierarchy.
	Stage(ctx context.Context, id string) (Stage, error)
	UpdateStage(ctx context.Context, s Stage) error
	Level1Stage(ctx context.Context, id string) (Level1Stage, error)
	UpdateLevel1Stage(ctx context.Context, s Level1Stage) error

	// LockedLevel1At returns the locked level-1 stages of a project at the
	// given order index, ordered by id.
	LockedLevel1At(ctx context.Context, projectID string, orderIndex int) ([]Level1Stage, error)

	// ActivateLevel1IfLocked flips the row to active iff it is still locked,
	// returning whether the flip happened. The conditional write is the
	// lost-update guard for racing sibling completions.
	ActivateLevel1IfLocked(ctx context.Context, id string, at time.Time) (bool, error)

	// Template repository (read-only for the engine).
	TemplateStages(ctx context.Context, templateID string) ([]TemplateStage, error)
	TemplateTasks(ctx context.Context, templateStageID string) ([]TemplateTask, error)

	// Provisioning.
	InsertStage(ctx context.Context, s Stage) error
	InsertLevel1Stages(ctx context.Context, stages []Level1Stage) error

	// Tasks.
	InsertTasks(ctx context.Context, tasks []Task) error
	Task(ctx context.Context, id string) (Task, error)
	StageTasks(ctx context.Context, stageID string) ([]Task, error)
	UpdateTaskDeadline(ctx context.Context, id string, deadline time.Time) error
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus) error

	// OverdueTasks returns non-terminal tasks whose deadline passed before now.
	OverdueTasks(ctx context.Context, now time.Time, limit int) ([]Task, error)

	// Membership directory (external fact, read-only).
	Members(ctx context.Context, projectID string) ([]Member, error)
}

// TemplateImporter is implemented by stores that can ingest template packs.
type TemplateImporter interface {
	UpsertTemplate(ctx context.Context, t Template) error
}
