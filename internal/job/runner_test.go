package job

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftsync/draftsync/internal/assembler"
	"github.com/draftsync/draftsync/internal/conf"
	"github.com/draftsync/draftsync/internal/downloader"
	"github.com/draftsync/draftsync/internal/errs"
	"github.com/draftsync/draftsync/internal/group"
	"github.com/draftsync/draftsync/internal/model"
	"github.com/draftsync/draftsync/internal/task"
)

// scriptedDownloader serves a fixed sequence of status reports per handle,
// then sticks on the last one.
type scriptedDownloader struct {
	mu      sync.Mutex
	scripts map[string][]downloader.Status
	removed []string
}

func (d *scriptedDownloader) AddURI(ctx context.Context, uri, dir, filename string) (string, error) {
	return "h-" + filename, nil
}

func (d *scriptedDownloader) Pause(ctx context.Context, handle string) error   { return nil }
func (d *scriptedDownloader) Unpause(ctx context.Context, handle string) error { return nil }

func (d *scriptedDownloader) Remove(ctx context.Context, handle string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removed = append(d.removed, handle)
	return nil
}

func (d *scriptedDownloader) TellStatus(ctx context.Context, handle string) (downloader.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	script := d.scripts[handle]
	if len(script) == 0 {
		return downloader.Status{}, errors.New("unknown handle")
	}
	st := script[0]
	if len(script) > 1 {
		d.scripts[handle] = script[1:]
	}
	return st, nil
}

func newRunnerEnv(t *testing.T, dl downloader.Client) (*task.Registry, *group.Correlator, *Runner) {
	t.Helper()
	registry := task.NewRegistry()
	groups := group.NewCorrelator(dl, time.Minute, func(taskID string, snap model.ProgressSnapshot) {
		if _, err := registry.UpdateProgress(taskID, snap); err != nil && !errors.Is(err, errs.InvalidTransition) {
			t.Logf("progress update: %v", err)
		}
	})
	runner := NewRunner(registry, groups, dl, &assembler.LocalAssembler{DraftDir: t.TempDir()}, conf.TasksConfig{
		DownloadDir:  t.TempDir(),
		Workers:      1,
		PollInterval: 5 * time.Millisecond,
	})
	return registry, groups, runner
}

func waitStatus(t *testing.T, registry *task.Registry, id string, want model.TaskStatus) model.Task {
	t.Helper()
	var got model.Task
	require.Eventually(t, func() bool {
		current, err := registry.Get(id)
		if err != nil {
			return false
		}
		got = current
		return current.Status == want
	}, 5*time.Second, 5*time.Millisecond, "task never reached %s", want)
	return got
}

func TestRunnerHappyPath(t *testing.T) {
	dl := &scriptedDownloader{scripts: map[string][]downloader.Status{
		"h-a.mp4": {
			{Handle: "h-a.mp4", State: "active", TotalLength: 1000, CompletedLength: 400},
			{Handle: "h-a.mp4", State: "complete", TotalLength: 1000, CompletedLength: 1000},
		},
		"h-b.mp4": {
			{Handle: "h-b.mp4", State: "complete", TotalLength: 3000, CompletedLength: 3000},
		},
	}}
	registry, _, runner := newRunnerEnv(t, dl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	defer runner.Stop()

	created, err := runner.Submit(model.SubmitReq{
		DraftName: "demo",
		Assets: []model.AssetSpec{
			{URL: "http://example.com/a.mp4", Filename: "a.mp4", Size: 1000},
			{URL: "http://example.com/b.mp4", Filename: "b.mp4", Size: 3000},
		},
	})
	require.NoError(t, err)

	done := waitStatus(t, registry, created.ID, model.StatusCompleted)
	assert.NotEmpty(t, done.DraftPath)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, done.UpdatedAt, *done.CompletedAt)
	require.NotNil(t, done.Progress)
	assert.Equal(t, 2, done.Progress.CompletedFiles)

	// The draft manifest was actually written.
	_, err = os.Stat(done.DraftPath)
	assert.NoError(t, err)

	// Progress updates after the terminal transition are rejected.
	_, err = registry.UpdateProgress(created.ID, model.ProgressSnapshot{})
	assert.True(t, errors.Is(err, errs.InvalidTransition))
}

func TestRunnerAllFilesFailed(t *testing.T) {
	dl := &scriptedDownloader{scripts: map[string][]downloader.Status{
		"h-a.mp4": {
			{Handle: "h-a.mp4", State: "error", ErrorMessage: "404"},
		},
	}}
	registry, _, runner := newRunnerEnv(t, dl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	defer runner.Stop()

	created, err := runner.Submit(model.SubmitReq{
		Assets: []model.AssetSpec{{URL: "http://example.com/a.mp4", Filename: "a.mp4"}},
	})
	require.NoError(t, err)

	failed := waitStatus(t, registry, created.ID, model.StatusFailed)
	assert.NotEmpty(t, failed.ErrorMessage)
}

func TestRunnerCancellation(t *testing.T) {
	// The transfer never finishes on its own.
	dl := &scriptedDownloader{scripts: map[string][]downloader.Status{
		"h-a.mp4": {
			{Handle: "h-a.mp4", State: "active", TotalLength: 1000, CompletedLength: 10},
		},
	}}
	registry, groups, runner := newRunnerEnv(t, dl)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner.Start(ctx)
	defer runner.Stop()

	created, err := runner.Submit(model.SubmitReq{
		Assets: []model.AssetSpec{{URL: "http://example.com/a.mp4", Filename: "a.mp4"}},
	})
	require.NoError(t, err)
	waitStatus(t, registry, created.ID, model.StatusDownloading)

	cancelled, err := runner.Cancel(created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CompletedAt)

	// The worker abandons the group once it notices.
	require.Eventually(t, func() bool {
		_, ok := groups.GroupForTask(created.ID)
		return !ok
	}, 5*time.Second, 5*time.Millisecond)

	// Cancelling again is a state machine violation.
	_, err = runner.Cancel(created.ID)
	assert.True(t, errors.Is(err, errs.InvalidTransition))
}

func TestRunnerSubmitValidation(t *testing.T) {
	_, _, runner := newRunnerEnv(t, &scriptedDownloader{})
	_, err := runner.Submit(model.SubmitReq{})
	assert.Error(t, err)
	_, err = runner.Submit(model.SubmitReq{Assets: []model.AssetSpec{{URL: ""}}})
	assert.Error(t, err)
}

func TestRunnerSubmitRejectsWhenQueueFull(t *testing.T) {
	// Workers never started, so nothing drains the queue.
	registry, _, runner := newRunnerEnv(t, &scriptedDownloader{})
	req := model.SubmitReq{
		DraftName: "demo",
		Assets:    []model.AssetSpec{{URL: "http://example.com/a.mp4", Filename: "a.mp4"}},
	}
	for i := 0; i < jobQueueSize; i++ {
		_, err := runner.Submit(req)
		require.NoError(t, err)
	}

	_, err := runner.Submit(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue is full")

	// The rejected submission is visible as a failed task, not a zombie.
	var failed int
	for _, tsk := range registry.List() {
		if tsk.Status == model.StatusFailed {
			failed++
		}
	}
	assert.Equal(t, 1, failed)
}
