package handles

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/draftsync/draftsync/internal/errs"
	"github.com/draftsync/draftsync/internal/job"
	"github.com/draftsync/draftsync/internal/model"
	"github.com/draftsync/draftsync/internal/task"
	"github.com/draftsync/draftsync/pkg/utils"
	"github.com/draftsync/draftsync/server/common"
)

const (
	defaultTaskPageSize = 20
	maxTaskPageSize     = 200
)

var undoneStatuses = []model.TaskStatus{
	model.StatusPending,
	model.StatusDownloading,
	model.StatusProcessing,
}

var doneStatuses = []model.TaskStatus{
	model.StatusCompleted,
	model.StatusFailed,
	model.StatusCancelled,
}

// TaskHandler exposes the pull side of the task API.
type TaskHandler struct {
	registry *task.Registry
	runner   *job.Runner
}

func NewTaskHandler(registry *task.Registry, runner *job.Runner) *TaskHandler {
	return &TaskHandler{registry: registry, runner: runner}
}

// Get answers GET /api/tasks/:id with the latest authoritative snapshot.
func (h *TaskHandler) Get(c *gin.Context) {
	t, err := h.registry.Get(c.Param("id"))
	if err != nil {
		common.ErrorDetailResp(c, 404, "task not found")
		return
	}
	common.SuccessResp(c, t)
}

// Submit answers POST /api/tasks/submit. On success the body carries the new
// task id; on rejection only a message.
func (h *TaskHandler) Submit(c *gin.Context) {
	var req model.SubmitReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"message": "invalid job spec: " + err.Error()})
		return
	}
	t, err := h.runner.Submit(req)
	if err != nil {
		c.JSON(400, gin.H{"message": err.Error()})
		return
	}
	common.SuccessResp(c, gin.H{
		"task_id": t.ID,
		"message": "task submitted",
	})
}

// Cancel answers POST /api/tasks/:id/cancel with the updated snapshot.
func (h *TaskHandler) Cancel(c *gin.Context) {
	t, err := h.runner.Cancel(c.Param("id"))
	switch {
	case errors.Is(err, errs.TaskNotFound):
		common.ErrorDetailResp(c, 404, "task not found")
	case errors.Is(err, errs.InvalidTransition):
		common.ErrorDetailResp(c, 409, err.Error())
	case err != nil:
		common.ErrorResp(c, err, 500)
	default:
		common.SuccessResp(c, t)
	}
}

type taskPageResp struct {
	Content []model.Task `json:"content"`
	Total   int          `json:"total"`
}

// List answers GET /api/tasks with paging and status filtering. The status
// query accepts explicit statuses or the done/undone buckets.
func (h *TaskHandler) List(c *gin.Context) {
	statuses, err := parseStatuses(c.Query("status"))
	if err != nil {
		common.ErrorDetailResp(c, 400, err.Error())
		return
	}
	page, pageSize := parsePage(c)

	tasks := h.registry.List()
	if len(statuses) > 0 {
		filtered := tasks[:0]
		for _, t := range tasks {
			if utils.SliceContains(statuses, t.Status) {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	total := len(tasks)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	common.SuccessResp(c, taskPageResp{Content: tasks[start:end], Total: total})
}

func parsePage(c *gin.Context) (int, int) {
	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", strconv.Itoa(defaultTaskPageSize)))
	if err != nil || pageSize <= 0 {
		pageSize = defaultTaskPageSize
	}
	if pageSize > maxTaskPageSize {
		pageSize = maxTaskPageSize
	}
	return page, pageSize
}

func parseStatuses(raw string) ([]model.TaskStatus, error) {
	if raw == "" {
		return nil, nil
	}
	switch raw {
	case "undone":
		return undoneStatuses, nil
	case "done":
		return doneStatuses, nil
	}
	var out []model.TaskStatus
	for _, part := range strings.Split(raw, ",") {
		s := model.TaskStatus(strings.TrimSpace(part))
		if !utils.SliceContains(undoneStatuses, s) && !utils.SliceContains(doneStatuses, s) {
			return nil, errors.Errorf("unknown status %q", part)
		}
		out = append(out, s)
	}
	return out, nil
}
