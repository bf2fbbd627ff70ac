// Package job runs submitted draft-assembly jobs through their lifecycle:
// download the assets, assemble the draft, land the task in a terminal state.
package job

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/draftsync/draftsync/internal/assembler"
	"github.com/draftsync/draftsync/internal/conf"
	"github.com/draftsync/draftsync/internal/downloader"
	"github.com/draftsync/draftsync/internal/errs"
	"github.com/draftsync/draftsync/internal/group"
	"github.com/draftsync/draftsync/internal/model"
	"github.com/draftsync/draftsync/internal/task"
	"github.com/draftsync/draftsync/pkg/utils"
)

type jobSpec struct {
	taskID string
	req    model.SubmitReq
}

// jobQueueSize bounds how many accepted jobs may wait for a worker.
const jobQueueSize = 64

// Runner owns the worker pool that executes jobs. It is the only writer of
// task transitions besides explicit cancellation.
type Runner struct {
	registry *task.Registry
	groups   *group.Correlator
	dl       downloader.Client
	asm      assembler.Assembler
	cfg      conf.TasksConfig

	jobs   chan jobSpec
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

func NewRunner(registry *task.Registry, groups *group.Correlator, dl downloader.Client, asm assembler.Assembler, cfg conf.TasksConfig) *Runner {
	return &Runner{
		registry: registry,
		groups:   groups,
		dl:       dl,
		asm:      asm,
		cfg:      cfg,
		jobs:     make(chan jobSpec, jobQueueSize),
	}
}

// Start launches the workers. Jobs submitted before Start queue up.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-r.jobs:
					r.run(ctx, job)
				}
			}
		}()
	}
}

// Stop cancels in-flight work and waits for the workers.
func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// Submit validates the job spec, registers a pending task and queues it.
func (r *Runner) Submit(req model.SubmitReq) (model.Task, error) {
	if len(req.Assets) == 0 {
		return model.Task{}, errors.New("job spec must contain at least one asset")
	}
	for _, a := range req.Assets {
		if a.URL == "" {
			return model.Task{}, errors.New("asset url must not be empty")
		}
	}
	t := r.registry.Create(req.DraftName)
	select {
	case r.jobs <- jobSpec{taskID: t.ID, req: req}:
	default:
		// Queue full: reject instead of stalling the caller. The task was
		// already visible, so it lands in failed rather than vanishing.
		if _, err := r.registry.Transition(t.ID, model.StatusFailed,
			task.WithErrorMessage("job queue is full")); err != nil {
			utils.Log.Debugf("task %s: %v", t.ID, err)
		}
		return model.Task{}, errors.New("job queue is full, try again later")
	}
	return t, nil
}

// Cancel moves the task to cancelled. The running worker notices on its next
// poll and abandons the remaining transfers; in-flight file events after that
// are ignored by design.
func (r *Runner) Cancel(taskID string) (model.Task, error) {
	return r.registry.Transition(taskID, model.StatusCancelled)
}

func (r *Runner) run(ctx context.Context, job jobSpec) {
	if _, err := r.registry.Transition(job.taskID, model.StatusDownloading,
		task.WithMessage("downloading assets")); err != nil {
		// Already cancelled before a worker picked it up.
		utils.Log.Infof("task %s not started: %v", job.taskID, err)
		return
	}

	groupID := r.groups.CreateGroup(job.taskID)
	defer r.groups.Release(job.taskID)

	dir := filepath.Join(r.cfg.DownloadDir, job.taskID)
	handles := make([]string, 0, len(job.req.Assets))
	for _, asset := range job.req.Assets {
		handle, err := r.dl.AddURI(ctx, asset.URL, dir, asset.Filename)
		if err != nil {
			r.fail(job.taskID, errors.Wrapf(err, "failed to start download of %s", asset.URL))
			r.abandon(ctx, handles)
			return
		}
		path := filepath.Join(dir, asset.Filename)
		if err := r.groups.AddFile(groupID, handle, path, asset.Size); err != nil {
			utils.Log.Warnf("task %s: %+v", job.taskID, err)
		}
		handles = append(handles, handle)
	}

	if !r.poll(ctx, job.taskID, groupID) {
		r.abandon(ctx, handles)
		return
	}

	snap, err := r.groups.Snapshot(groupID)
	if err != nil {
		r.fail(job.taskID, err)
		return
	}
	if snap.CompletedFiles == 0 {
		r.fail(job.taskID, errors.Wrap(errs.UpstreamError, "no asset downloaded successfully"))
		return
	}

	if _, err := r.registry.Transition(job.taskID, model.StatusProcessing,
		task.WithMessage("assembling draft")); err != nil {
		return
	}

	assets, err := r.completedAssets(groupID)
	if err != nil {
		r.fail(job.taskID, err)
		return
	}
	draftPath, err := r.asm.Assemble(ctx, job.taskID, job.req.DraftName, assets)
	if err != nil {
		r.fail(job.taskID, errors.Wrap(err, "draft assembly failed"))
		return
	}
	if _, err := r.registry.Transition(job.taskID, model.StatusCompleted,
		task.WithDraftPath(draftPath), task.WithMessage("draft ready")); err != nil {
		utils.Log.Infof("task %s finished work but was already terminal: %v", job.taskID, err)
	}
}

// poll feeds downloader status into the correlator until every file settles.
// Returns false when the task went terminal (cancelled) or the context died.
func (r *Runner) poll(ctx context.Context, taskID, groupID string) bool {
	interval := r.cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		if t, err := r.registry.Get(taskID); err != nil || t.Status.Terminal() {
			return false
		}
		files, err := r.groups.ListFiles(groupID)
		if err != nil {
			return false
		}
		for _, f := range files {
			if f.State == model.FileComplete || f.State == model.FileError || f.State == model.FileRemoved {
				continue
			}
			st, err := r.dl.TellStatus(ctx, f.Handle)
			if err != nil {
				utils.Log.Warnf("task %s: status poll for %s failed: %v", taskID, f.Handle, err)
				continue
			}
			if err := r.groups.Observe(groupID, st); err != nil {
				utils.Log.Debugf("task %s: %v", taskID, err)
			}
		}
		if settled, err := r.groups.Settled(groupID); err != nil || settled {
			return err == nil
		}
	}
}

func (r *Runner) completedAssets(groupID string) ([]assembler.Asset, error) {
	files, err := r.groups.ListFiles(groupID)
	if err != nil {
		return nil, err
	}
	assets := make([]assembler.Asset, 0, len(files))
	for _, f := range files {
		if f.State == model.FileComplete {
			assets = append(assets, assembler.Asset{Path: f.Path, Size: f.Size})
		}
	}
	return assets, nil
}

func (r *Runner) fail(taskID string, cause error) {
	utils.Log.Errorf("task %s failed: %+v", taskID, cause)
	if _, err := r.registry.Transition(taskID, model.StatusFailed,
		task.WithErrorMessage(cause.Error())); err != nil {
		utils.Log.Debugf("task %s already terminal: %v", taskID, err)
	}
}

// abandon tells the downloader to drop leftover transfers. Best-effort; the
// downloader handles repeated removal idempotently.
func (r *Runner) abandon(ctx context.Context, handles []string) {
	for _, h := range handles {
		if err := r.dl.Remove(ctx, h); err != nil {
			utils.Log.Debugf("failed to remove transfer %s: %v", h, err)
		}
	}
}
