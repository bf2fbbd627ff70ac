package db

import (
	"github.com/pkg/errors"
	"gorm.io/gorm/clause"

	"github.com/draftsync/draftsync/internal/model"
	"github.com/draftsync/draftsync/pkg/utils"
)

// UpsertTaskRecord writes one task snapshot into the index.
func UpsertTaskRecord(rec model.TaskRecord) error {
	return errors.WithStack(db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "task_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "status", "progress", "draft_path", "error_message", "updated_at", "completed_at",
		}),
	}).Create(&rec).Error)
}

// GetTaskRecord looks one record up by task id.
func GetTaskRecord(taskID string) (*model.TaskRecord, error) {
	rec := model.TaskRecord{TaskID: taskID}
	if err := db.Where(rec).First(&rec).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to find task record %s", taskID)
	}
	return &rec, nil
}

// ListTaskRecords pages through records, newest activity first.
func ListTaskRecords(statuses []string, page, pageSize int) ([]model.TaskRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	tx := db.Model(&model.TaskRecord{})
	if len(statuses) > 0 {
		tx = tx.Where("status IN ?", statuses)
	}
	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, errors.WithStack(err)
	}
	var records []model.TaskRecord
	err := tx.Order("updated_at DESC").
		Order("task_id DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&records).Error
	return records, total, errors.WithStack(err)
}

// AllTaskRecords loads every record, for boot-time registry restore.
func AllTaskRecords() ([]model.TaskRecord, error) {
	var records []model.TaskRecord
	err := db.Find(&records).Error
	return records, errors.WithStack(err)
}

// RecordFromTask flattens a task snapshot into its index row.
func RecordFromTask(t model.Task) model.TaskRecord {
	progress := ""
	if t.Progress != nil {
		if data, err := utils.Json.Marshal(t.Progress); err == nil {
			progress = string(data)
		}
	}
	return model.TaskRecord{
		TaskID:       t.ID,
		Name:         t.Name,
		Status:       string(t.Status),
		Progress:     progress,
		DraftPath:    t.DraftPath,
		ErrorMessage: t.ErrorMessage,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		CompletedAt:  t.CompletedAt,
	}
}

// TaskFromRecord rebuilds a task snapshot from its index row.
func TaskFromRecord(rec model.TaskRecord) model.Task {
	t := model.Task{
		ID:           rec.TaskID,
		Name:         rec.Name,
		Status:       model.TaskStatus(rec.Status),
		DraftPath:    rec.DraftPath,
		ErrorMessage: rec.ErrorMessage,
		CreatedAt:    rec.CreatedAt,
		UpdatedAt:    rec.UpdatedAt,
		CompletedAt:  rec.CompletedAt,
	}
	if rec.Progress != "" {
		var snap model.ProgressSnapshot
		if err := utils.Json.Unmarshal([]byte(rec.Progress), &snap); err == nil {
			t.Progress = &snap
		}
	}
	return t
}
