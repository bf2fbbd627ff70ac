package model

import "time"

// TaskStatus is the lifecycle phase of a draft-assembly task.
type TaskStatus string

const (
	StatusPending     TaskStatus = "pending"
	StatusDownloading TaskStatus = "downloading"
	StatusProcessing  TaskStatus = "processing"
	StatusCompleted   TaskStatus = "completed"
	StatusFailed      TaskStatus = "failed"
	StatusCancelled   TaskStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted out of s.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Active reports whether the task is in a phase that accepts progress updates.
func (s TaskStatus) Active() bool {
	return s == StatusDownloading || s == StatusProcessing
}

// Task is one submitted draft-assembly job tracked end-to-end.
// Progress is only carried while the task is active, or as the last known
// value after it finished. UpdatedAt strictly increases on every mutation;
// observers use it to discard stale pushes.
type Task struct {
	ID           string            `json:"task_id"`
	Name         string            `json:"name,omitempty"`
	Status       TaskStatus        `json:"status"`
	Message      string            `json:"message,omitempty"`
	Progress     *ProgressSnapshot `json:"progress,omitempty"`
	DraftPath    string            `json:"draft_path,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
}

// Clone returns a deep copy so registry internals never leak mutable state.
func (t Task) Clone() Task {
	c := t
	if t.Progress != nil {
		p := *t.Progress
		c.Progress = &p
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		c.CompletedAt = &ts
	}
	return c
}

// ProgressSnapshot is the aggregate download/processing progress of one task.
// It is always a full, self-consistent record, never a delta.
type ProgressSnapshot struct {
	TotalFiles      int      `json:"total_files"`
	CompletedFiles  int      `json:"completed_files"`
	FailedFiles     int      `json:"failed_files"`
	ActiveFiles     int      `json:"active_files"`
	TotalSize       int64    `json:"total_size"`
	DownloadedSize  int64    `json:"downloaded_size"`
	ProgressPercent float64  `json:"progress_percent"`
	DownloadSpeed   float64  `json:"download_speed"`
	EtaSeconds      *float64 `json:"eta_seconds"`
}

// FileState is the lifecycle of one file transfer inside a download group.
type FileState string

const (
	FileActive   FileState = "active"
	FileWaiting  FileState = "waiting"
	FilePaused   FileState = "paused"
	FileError    FileState = "error"
	FileComplete FileState = "complete"
	FileRemoved  FileState = "removed"
)

// AssetSpec is one remote asset of a submitted job.
type AssetSpec struct {
	URL      string `json:"url" binding:"required"`
	Filename string `json:"filename,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// SubmitReq is the job spec accepted by the submit endpoint.
type SubmitReq struct {
	DraftName string      `json:"draft_name"`
	Assets    []AssetSpec `json:"assets" binding:"required"`
}
