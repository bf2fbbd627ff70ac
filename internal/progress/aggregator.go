// Package progress folds per-file download events into full task snapshots.
package progress

import (
	"math"
	"sync"
	"time"

	"github.com/draftsync/draftsync/internal/model"
)

type fileStat struct {
	state      model.FileState
	size       int64
	downloaded int64
}

// Aggregator consumes per-file events for one download group and recomputes
// the whole ProgressSnapshot on every event. Recomputing from scratch (rather
// than patching counters) keeps the snapshot right even when events are lost
// or duplicated. Safe for concurrent use.
type Aggregator struct {
	mu    sync.Mutex
	files map[string]*fileStat
	meter speedMeter
	now   func() time.Time
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		files: make(map[string]*fileStat),
		now:   time.Now,
	}
}

// FileAdded registers a new transfer. size may be 0 when unknown.
func (a *Aggregator) FileAdded(handle string, size int64) model.ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.files[handle]; !ok {
		a.files[handle] = &fileStat{state: model.FileWaiting, size: size}
	}
	return a.compute()
}

// FileProgress records downloaded bytes for a transfer. Byte counters never
// move backwards: a stale or duplicated event is a no-op.
func (a *Aggregator) FileProgress(handle string, downloaded, size int64) model.ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.files[handle]
	if !ok {
		return a.compute()
	}
	if f.state == model.FileWaiting {
		f.state = model.FileActive
	}
	if size > f.size {
		f.size = size
	}
	if downloaded > f.downloaded {
		a.meter.observe(downloaded-f.downloaded, a.now())
		f.downloaded = downloaded
	}
	return a.compute()
}

// FileStateChanged applies a control-plane state (paused, waiting, active).
func (a *Aggregator) FileStateChanged(handle string, state model.FileState) model.ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.files[handle]; ok && f.state != model.FileComplete && f.state != model.FileError {
		f.state = state
	}
	return a.compute()
}

// FileCompleted marks a transfer finished; its counter jumps to its full size.
func (a *Aggregator) FileCompleted(handle string) model.ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.files[handle]; ok && f.state != model.FileComplete {
		f.state = model.FileComplete
		if f.size > f.downloaded {
			a.meter.observe(f.size-f.downloaded, a.now())
			f.downloaded = f.size
		}
	}
	return a.compute()
}

// FileFailed marks a transfer failed; bytes already counted stay counted.
func (a *Aggregator) FileFailed(handle string) model.ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	if f, ok := a.files[handle]; ok && f.state != model.FileComplete {
		f.state = model.FileError
	}
	return a.compute()
}

// FileRemoved drops a transfer from the totals entirely.
func (a *Aggregator) FileRemoved(handle string) model.ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.files, handle)
	return a.compute()
}

// Snapshot returns the current aggregate without applying an event.
func (a *Aggregator) Snapshot() model.ProgressSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.compute()
}

// compute rebuilds the snapshot from the file table. Linear in file count.
// Caller holds a.mu.
func (a *Aggregator) compute() model.ProgressSnapshot {
	var s model.ProgressSnapshot
	sized := true
	for _, f := range a.files {
		s.TotalFiles++
		s.TotalSize += f.size
		s.DownloadedSize += f.downloaded
		if f.size == 0 {
			sized = false
		}
		switch f.state {
		case model.FileComplete:
			s.CompletedFiles++
		case model.FileError:
			s.FailedFiles++
		default:
			s.ActiveFiles++
		}
	}
	switch {
	case s.TotalSize > 0:
		s.ProgressPercent = 100 * float64(s.DownloadedSize) / float64(s.TotalSize)
	case s.TotalFiles > 0:
		s.ProgressPercent = 100 * float64(s.CompletedFiles) / float64(s.TotalFiles)
	}
	s.ProgressPercent = math.Min(100, math.Max(0, s.ProgressPercent))
	s.DownloadSpeed = a.meter.rate(a.now())
	if s.DownloadSpeed > 0 && sized && s.TotalSize > 0 {
		eta := float64(s.TotalSize-s.DownloadedSize) / s.DownloadSpeed
		if eta >= 0 && !math.IsInf(eta, 0) && !math.IsNaN(eta) {
			s.EtaSeconds = &eta
		}
	}
	return s
}
