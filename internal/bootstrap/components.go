// Package bootstrap wires the process together at startup.
package bootstrap

import (
	"github.com/pkg/errors"

	"github.com/draftsync/draftsync/internal/assembler"
	"github.com/draftsync/draftsync/internal/conf"
	"github.com/draftsync/draftsync/internal/db"
	"github.com/draftsync/draftsync/internal/downloader"
	"github.com/draftsync/draftsync/internal/errs"
	"github.com/draftsync/draftsync/internal/group"
	"github.com/draftsync/draftsync/internal/job"
	"github.com/draftsync/draftsync/internal/model"
	"github.com/draftsync/draftsync/internal/push"
	"github.com/draftsync/draftsync/internal/task"
	"github.com/draftsync/draftsync/pkg/utils"
)

// Components holds every long-lived piece of the service.
type Components struct {
	Registry  *task.Registry
	Groups    *group.Correlator
	Mux       *push.Multiplexer
	Runner    *job.Runner
	Persister *db.TaskPersister
}

// InitComponents builds the registry, correlator, multiplexer and runner and
// connects them: correlator snapshots feed registry progress, registry
// mutations feed the multiplexer and, when persistence is on, the database.
func InitComponents(cfg *conf.Config) (*Components, error) {
	var opts []task.Option
	var persister *db.TaskPersister
	if cfg.Database.Enabled {
		if err := db.Init(cfg.Database); err != nil {
			return nil, errors.Wrap(err, "failed to init database")
		}
		persister = db.NewTaskPersister()
		opts = append(opts, task.WithPersister(persister))
	}
	registry := task.NewRegistry(opts...)

	if cfg.Database.Enabled {
		restoreTasks(registry)
	}

	dl := downloader.NewAria2Client(cfg.Aria2)
	groups := group.NewCorrelator(dl, cfg.Tasks.GroupRetention, func(taskID string, snap model.ProgressSnapshot) {
		// Late events for terminal tasks are expected; the registry rejects
		// them and the snapshot is dropped.
		if _, err := registry.UpdateProgress(taskID, snap); err != nil && !errors.Is(err, errs.InvalidTransition) {
			utils.Log.Warnf("progress update for task %s: %v", taskID, err)
		}
	})

	mux := push.NewMultiplexer(registry)
	registry.SetPublisher(mux)

	asm := &assembler.LocalAssembler{DraftDir: cfg.Tasks.DraftDir}
	runner := job.NewRunner(registry, groups, dl, asm, cfg.Tasks)

	return &Components{
		Registry:  registry,
		Groups:    groups,
		Mux:       mux,
		Runner:    runner,
		Persister: persister,
	}, nil
}

// restoreTasks reloads persisted snapshots so pull queries keep answering
// across restarts. Tasks that were still active when the process died cannot
// resume their downloads and are marked failed.
func restoreTasks(registry *task.Registry) {
	records, err := db.AllTaskRecords()
	if err != nil {
		utils.Log.Warnf("failed to load task records: %+v", err)
		return
	}
	for _, rec := range records {
		t := db.TaskFromRecord(rec)
		registry.Restore(t)
		if !t.Status.Terminal() {
			if _, err := registry.Transition(t.ID, model.StatusFailed,
				task.WithErrorMessage("interrupted by restart")); err != nil {
				utils.Log.Debugf("failed to settle restored task %s: %v", t.ID, err)
			}
		}
	}
	utils.Log.Infof("restored %d task record(s)", len(records))
}

// Shutdown flushes what must not be lost.
func (c *Components) Shutdown() {
	c.Runner.Stop()
	if c.Persister != nil {
		c.Persister.Shutdown()
		db.Close()
	}
}
