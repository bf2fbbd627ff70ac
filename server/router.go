package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/draftsync/draftsync/internal/group"
	"github.com/draftsync/draftsync/internal/job"
	"github.com/draftsync/draftsync/internal/push"
	"github.com/draftsync/draftsync/internal/task"
	"github.com/draftsync/draftsync/server/handles"
)

// Deps is everything the HTTP surface needs from the core.
type Deps struct {
	Registry *task.Registry
	Runner   *job.Runner
	Groups   *group.Correlator
	Mux      *push.Multiplexer
}

// Init mounts all routes on r.
func Init(r *gin.Engine, deps Deps) {
	r.Use(cors.Default())

	taskHandler := handles.NewTaskHandler(deps.Registry, deps.Runner)
	groupHandler := handles.NewGroupHandler(deps.Groups)
	wsHandler := handles.NewWSHandler(deps.Mux)

	api := r.Group("/api")
	api.GET("/ws", wsHandler.Serve)

	tasks := api.Group("/tasks")
	tasks.GET("", taskHandler.List)
	tasks.POST("/submit", taskHandler.Submit)
	tasks.GET("/:id", taskHandler.Get)
	tasks.POST("/:id/cancel", taskHandler.Cancel)

	groups := api.Group("/groups")
	groups.GET("", groupHandler.List)
	groups.GET("/:id/files", groupHandler.ListFiles)
	groups.POST("/:id/pause", groupHandler.Pause)
	groups.POST("/:id/resume", groupHandler.Resume)
	groups.POST("/:id/remove", groupHandler.Remove)
}
