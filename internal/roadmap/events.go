package roadmap

import "time"

// Event type constants published on the event bus. Payloads below are small
// and JSON-serializable per the eventbus contract.
const (
	EventStageActivated  = "stage.activated"
	EventStageCompleted  = "stage.completed"
	EventLevel1Activated = "level1.activated"
	EventLevel1Completed = "level1.completed"
	EventTaskCreated     = "task.created"
	EventTaskCompleted   = "task.completed"
	EventTaskOverdue     = "task.overdue"
)

type StageEvent struct {
	StageID   string    `json:"stage_id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	At        time.Time `json:"at"`
	TaskCount int       `json:"task_count,omitempty"`
}

type Level1Event struct {
	ID         string    `json:"id"`
	ProjectID  string    `json:"project_id"`
	OrderIndex int       `json:"order_index"`
	At         time.Time `json:"at"`
}

type TaskEvent struct {
	TaskID       string     `json:"task_id"`
	StageID      string     `json:"stage_id"`
	ProjectID    string     `json:"project_id"`
	Title        string     `json:"title"`
	Status       TaskStatus `json:"status,omitempty"`
	AssigneeID   int64      `json:"assignee_id,omitempty"`
	AutoAssigned bool       `json:"auto_assigned,omitempty"`
	Deadline     time.Time  `json:"deadline,omitzero"`
	At           time.Time  `json:"at"`
}
