package model

import "time"

// Client -> server actions over the push connection.
const (
	ActionSubscribeTask   = "subscribe_task"
	ActionUnsubscribeTask = "unsubscribe_task"
)

// Server -> client events over the push connection.
const (
	EventTaskSubscribed    = "task_subscribed"
	EventTaskProgress      = "task_progress"
	EventTaskStatusChanged = "task_status_changed"
	EventTaskCompleted     = "task_completed"
	EventTaskFailed        = "task_failed"
	EventTaskCancelled     = "task_cancelled"
	EventSubscribeError    = "subscribe_error"
)

// ClientMessage is what an observer sends over the push connection.
type ClientMessage struct {
	Action string `json:"action"`
	TaskID string `json:"task_id"`
}

// ServerMessage carries a full task snapshot (never a diff) tagged with the
// event that produced it. For subscribe_error only Event, TaskID and Error
// are set.
type ServerMessage struct {
	Event        string            `json:"event"`
	TaskID       string            `json:"task_id"`
	Status       TaskStatus        `json:"status,omitempty"`
	Progress     *ProgressSnapshot `json:"progress,omitempty"`
	DraftPath    string            `json:"draft_path,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at,omitempty"`
	UpdatedAt    time.Time         `json:"updated_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// NewServerMessage snapshots t into a push event payload.
func NewServerMessage(event string, t Task) ServerMessage {
	return ServerMessage{
		Event:        event,
		TaskID:       t.ID,
		Status:       t.Status,
		Progress:     t.Progress,
		DraftPath:    t.DraftPath,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CompletedAt:  t.CompletedAt,
	}
}

// Task rebuilds the task snapshot embedded in m.
func (m ServerMessage) Task() Task {
	return Task{
		ID:           m.TaskID,
		Status:       m.Status,
		Progress:     m.Progress,
		DraftPath:    m.DraftPath,
		ErrorMessage: m.ErrorMessage,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
		CompletedAt:  m.CompletedAt,
	}
}

// TerminalEvent maps a terminal status to its push event name, or "" when s
// is not terminal.
func TerminalEvent(s TaskStatus) string {
	switch s {
	case StatusCompleted:
		return EventTaskCompleted
	case StatusFailed:
		return EventTaskFailed
	case StatusCancelled:
		return EventTaskCancelled
	default:
		return ""
	}
}
