package model

import "time"

// TaskRecord mirrors a task snapshot into the database so pull queries keep
// answering across restarts. Progress is stored as the serialized snapshot;
// it is index data, not the source of truth.
type TaskRecord struct {
	TaskID       string     `gorm:"column:task_id;primaryKey;size:64" json:"task_id"`
	Name         string     `gorm:"column:name;size:1024" json:"name"`
	Status       string     `gorm:"column:status;size:32;index:idx_task_status" json:"status"`
	Progress     string     `gorm:"column:progress;type:text" json:"progress"`
	DraftPath    string     `gorm:"column:draft_path;size:4096" json:"draft_path"`
	ErrorMessage string     `gorm:"column:error_message;size:1024" json:"error_message"`
	CreatedAt    time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"column:updated_at;index:idx_task_updated_at" json:"updated_at"`
	CompletedAt  *time.Time `gorm:"column:completed_at" json:"completed_at"`
}

func (TaskRecord) TableName() string {
	return "task_records"
}
