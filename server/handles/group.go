package handles

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	"github.com/draftsync/draftsync/internal/errs"
	"github.com/draftsync/draftsync/internal/group"
	"github.com/draftsync/draftsync/server/common"
)

// GroupHandler exposes the download-group control plane used by group-aware
// UIs: listing groups and files, and per-handle pause/resume/remove.
type GroupHandler struct {
	groups *group.Correlator
}

func NewGroupHandler(groups *group.Correlator) *GroupHandler {
	return &GroupHandler{groups: groups}
}

func (h *GroupHandler) List(c *gin.Context) {
	common.SuccessResp(c, gin.H{"groups": h.groups.ListGroups()})
}

func (h *GroupHandler) ListFiles(c *gin.Context) {
	files, err := h.groups.ListFiles(c.Param("id"))
	if err != nil {
		if errs.IsNotFound(err) {
			common.ErrorDetailResp(c, 404, "download group not found")
			return
		}
		common.ErrorResp(c, err, 500)
		return
	}
	common.SuccessResp(c, gin.H{"files": files})
}

type handleReq struct {
	Handle string `json:"handle" binding:"required"`
}

func (h *GroupHandler) Pause(c *gin.Context) {
	h.control(c, h.groups.Pause)
}

func (h *GroupHandler) Resume(c *gin.Context) {
	h.control(c, h.groups.Resume)
}

func (h *GroupHandler) Remove(c *gin.Context) {
	h.control(c, h.groups.Remove)
}

func (h *GroupHandler) control(c *gin.Context, op func(ctx context.Context, groupID, handle string) error) {
	var req handleReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(400, gin.H{"error": "handle is required"})
		return
	}
	err := op(c.Request.Context(), c.Param("id"), req.Handle)
	switch {
	case errors.Is(err, errs.GroupNotFound):
		c.JSON(404, gin.H{"error": err.Error()})
	case errors.Is(err, errs.ForeignHandle):
		c.JSON(409, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(502, gin.H{"error": err.Error()})
	default:
		common.SuccessResp(c, gin.H{"success": true})
	}
}
