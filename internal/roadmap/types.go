// Package roadmap defines the domain model for the two-level project phase
// hierarchy: coarse level-1 gates, concrete roadmap stages, and the tasks a
// stage owns. The engine, scheduler and matcher packages operate on these
// types through the Store interface.
package roadmap

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies a job title required by a template task or held by a
// project member. Matching is exact; there is no fuzzy comparison, so a role
// present in a template but absent from the member directory yields an
// unassigned task, not an error.
type Role string

func (r Role) IsZero() bool { return r == "" }

// StageStatus is the lifecycle state of a roadmap stage.
// Transitions are strictly forward: pending -> active -> completed.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageActive    StageStatus = "active"
	StageCompleted StageStatus = "completed"
)

// Level1Status is the lifecycle state of a level-1 (macro) stage.
// Transitions are strictly forward: locked -> active -> completed.
type Level1Status string

const (
	Level1Locked    Level1Status = "locked"
	Level1Active    Level1Status = "active"
	Level1Completed Level1Status = "completed"
)

type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskDone       TaskStatus = "done"
	TaskArchived   TaskStatus = "archived"
)

// Terminal reports whether the status counts as finished for stage
// completion purposes.
func (s TaskStatus) Terminal() bool { return s == TaskDone || s == TaskArchived }

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// DefaultDurationDays is used when a template task carries no duration.
const DefaultDurationDays = 3

// Template is a reusable roadmap definition: an ordered sequence of stages,
// each owning an ordered sequence of task definitions.
type Template struct {
	ID     string
	Name   string
	Stages []TemplateStage
}

type TemplateStage struct {
	ID         string
	TemplateID string
	Name       string
	OrderIndex int
	Tasks      []TemplateTask
}

type TemplateTask struct {
	ID             string
	StageID        string
	Title          string
	Description    string
	Tags           []string
	RequiredRole   Role // zero value means the unassigned pool
	DurationDays   int  // 0 means DefaultDurationDays
	EstimatedHours float64
	OrderIndex     int
}

// Stage is a concrete roadmap stage owned by a project.
// TemplateStageID is empty for manual stages.
type Stage struct {
	ID              string
	ProjectID       string
	TemplateStageID string
	Name            string
	OrderIndex      int
	Status          StageStatus
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

// Level1Stage is a macro-phase gate. It forms a separate, coarser hierarchy
// than Stage; completing one cascades activation to the locked sibling at
// the next order index.
type Level1Stage struct {
	ID          string
	ProjectID   string
	Level1ID    string // reference into the shared level-1 catalog
	OrderIndex  int
	Status      Level1Status
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Task is a concrete unit of work under a stage.
type Task struct {
	ID             string
	ProjectID      string
	StageID        string
	TemplateTaskID string // empty for manually created tasks
	Title          string
	Description    string
	Tags           []string
	EstimatedHours float64
	DurationDays   int
	Status         TaskStatus
	Priority       TaskPriority
	AssigneeID     int64 // 0 means unassigned
	AutoAssigned   bool
	Deadline       time.Time
	CreatedAt      time.Time
}

// Assigned reports whether the task has an owner.
func (t Task) Assigned() bool { return t.AssigneeID != 0 }

// Member is a project membership fact from the external directory.
// This engine reads it and never writes it.
type Member struct {
	ProjectID string
	UserID    int64
	JobTitle  Role
}

// NewID returns a fresh entity id.
func NewID() string { return uuid.NewString() }
