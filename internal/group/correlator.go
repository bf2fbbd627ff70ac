// Package group correlates low-level download handles under task-scoped
// groups and exposes the group-level control plane.
package group

import (
	"context"
	"sync"
	"time"

	"github.com/OpenListTeam/go-cache"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/draftsync/draftsync/internal/downloader"
	"github.com/draftsync/draftsync/internal/errs"
	"github.com/draftsync/draftsync/internal/model"
	"github.com/draftsync/draftsync/internal/progress"
	"github.com/draftsync/draftsync/pkg/utils"
)

// FileInfo is a read-only view of one file record inside a group.
type FileInfo struct {
	Handle     string          `json:"handle"`
	Path       string          `json:"path"`
	State      model.FileState `json:"state"`
	Size       int64           `json:"size"`
	Downloaded int64           `json:"downloaded"`
}

// GroupInfo is a read-only view of one group.
type GroupInfo struct {
	ID        string    `json:"group_id"`
	TaskID    string    `json:"task_id"`
	CreatedAt time.Time `json:"created_at"`
	Files     int       `json:"files"`
	Retained  bool      `json:"retained"`
}

type record struct {
	handle     string
	path       string
	state      model.FileState
	size       int64
	downloaded int64
}

// Group owns its file records exclusively; only derived copies leave it.
type Group struct {
	mu        sync.Mutex
	id        string
	taskID    string
	createdAt time.Time
	records   map[string]*record
	order     []string
	agg       *progress.Aggregator
}

// SnapshotFunc receives every recomputed group snapshot, keyed by task.
type SnapshotFunc func(taskID string, snap model.ProgressSnapshot)

// Correlator maps download handles to task-scoped groups. Groups of finished
// tasks are parked in a TTL cache instead of being torn down immediately, so
// the control-plane listing stays useful for a while after completion.
type Correlator struct {
	mu          sync.RWMutex
	groups      map[string]*Group
	byTask      map[string]string
	retainedIDs map[string]string // group id -> task id

	retained   cache.ICache[*Group]
	retention  time.Duration
	dl         downloader.Client
	onSnapshot SnapshotFunc
}

func NewCorrelator(dl downloader.Client, retention time.Duration, onSnapshot SnapshotFunc) *Correlator {
	return &Correlator{
		groups:      make(map[string]*Group),
		byTask:      make(map[string]string),
		retainedIDs: make(map[string]string),
		retained:    cache.NewMemCache(cache.WithShards[*Group](4)),
		retention:   retention,
		dl:          dl,
		onSnapshot:  onSnapshot,
	}
}

// CreateGroup registers a fresh group for taskID and returns its id.
func (c *Correlator) CreateGroup(taskID string) string {
	g := &Group{
		id:        uuid.NewString(),
		taskID:    taskID,
		createdAt: time.Now(),
		records:   make(map[string]*record),
		agg:       progress.NewAggregator(),
	}
	c.mu.Lock()
	c.groups[g.id] = g
	c.byTask[taskID] = g.id
	c.mu.Unlock()
	return g.id
}

// GroupForTask returns the live group id for a task.
func (c *Correlator) GroupForTask(taskID string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byTask[taskID]
	return id, ok
}

// AddFile attaches an already-started transfer handle to the group.
func (c *Correlator) AddFile(groupID, handle, path string, size int64) error {
	g, err := c.live(groupID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	if _, ok := g.records[handle]; !ok {
		g.records[handle] = &record{handle: handle, path: path, state: model.FileWaiting, size: size}
		g.order = append(g.order, handle)
	}
	g.mu.Unlock()
	c.emit(g, g.agg.FileAdded(handle, size))
	return nil
}

// Pause suspends one transfer. The handle must belong to the group.
func (c *Correlator) Pause(ctx context.Context, groupID, handle string) error {
	return c.control(ctx, groupID, handle, model.FilePaused, c.dl.Pause)
}

// Resume restarts one paused transfer.
func (c *Correlator) Resume(ctx context.Context, groupID, handle string) error {
	return c.control(ctx, groupID, handle, model.FileWaiting, c.dl.Unpause)
}

// Remove drops one transfer from the group and its aggregate counters.
func (c *Correlator) Remove(ctx context.Context, groupID, handle string) error {
	g, err := c.live(groupID)
	if err != nil {
		return err
	}
	if err := c.member(g, handle); err != nil {
		return err
	}
	if err := c.dl.Remove(ctx, handle); err != nil {
		return err
	}
	g.mu.Lock()
	if rec, ok := g.records[handle]; ok {
		rec.state = model.FileRemoved
	}
	g.mu.Unlock()
	c.emit(g, g.agg.FileRemoved(handle))
	return nil
}

func (c *Correlator) control(ctx context.Context, groupID, handle string, state model.FileState, op func(context.Context, string) error) error {
	g, err := c.live(groupID)
	if err != nil {
		return err
	}
	if err := c.member(g, handle); err != nil {
		return err
	}
	if err := op(ctx, handle); err != nil {
		return err
	}
	g.mu.Lock()
	if rec, ok := g.records[handle]; ok {
		rec.state = state
	}
	g.mu.Unlock()
	c.emit(g, g.agg.FileStateChanged(handle, state))
	return nil
}

// Observe folds a downloader status report into the group. Used by the poll
// loop; late reports for removed files are ignored.
func (c *Correlator) Observe(groupID string, st downloader.Status) error {
	g, err := c.live(groupID)
	if err != nil {
		return err
	}
	if err := c.member(g, st.Handle); err != nil {
		return err
	}
	g.mu.Lock()
	rec := g.records[st.Handle]
	stale := rec.state == model.FileRemoved
	if !stale {
		if st.TotalLength > rec.size {
			rec.size = st.TotalLength
		}
		if st.CompletedLength > rec.downloaded {
			rec.downloaded = st.CompletedLength
		}
		rec.state = model.FileState(st.State)
	}
	g.mu.Unlock()
	if stale {
		return nil
	}
	var snap model.ProgressSnapshot
	switch model.FileState(st.State) {
	case model.FileComplete:
		snap = g.agg.FileCompleted(st.Handle)
	case model.FileError:
		snap = g.agg.FileFailed(st.Handle)
	case model.FileRemoved:
		snap = g.agg.FileRemoved(st.Handle)
	default:
		snap = g.agg.FileProgress(st.Handle, st.CompletedLength, st.TotalLength)
	}
	c.emit(g, snap)
	return nil
}

// Snapshot returns a consistent point-in-time aggregate for the group,
// retained groups included.
func (c *Correlator) Snapshot(groupID string) (model.ProgressSnapshot, error) {
	g, err := c.find(groupID)
	if err != nil {
		return model.ProgressSnapshot{}, err
	}
	return g.agg.Snapshot(), nil
}

// Settled reports whether every non-removed file reached complete or error.
func (c *Correlator) Settled(groupID string) (bool, error) {
	g, err := c.find(groupID)
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, rec := range g.records {
		switch rec.state {
		case model.FileComplete, model.FileError, model.FileRemoved:
		default:
			return false, nil
		}
	}
	return true, nil
}

// ListFiles returns the group's file records in insertion order.
func (c *Correlator) ListFiles(groupID string) ([]FileInfo, error) {
	g, err := c.find(groupID)
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]FileInfo, 0, len(g.order))
	for _, h := range g.order {
		rec := g.records[h]
		out = append(out, FileInfo{
			Handle:     rec.handle,
			Path:       rec.path,
			State:      rec.state,
			Size:       rec.size,
			Downloaded: rec.downloaded,
		})
	}
	return out, nil
}

// ListGroups returns live groups first, then still-retained ones.
func (c *Correlator) ListGroups() []GroupInfo {
	c.mu.RLock()
	live := make([]*Group, 0, len(c.groups))
	for _, g := range c.groups {
		live = append(live, g)
	}
	retainedIDs := make([]string, 0, len(c.retainedIDs))
	for id := range c.retainedIDs {
		retainedIDs = append(retainedIDs, id)
	}
	c.mu.RUnlock()

	out := make([]GroupInfo, 0, len(live)+len(retainedIDs))
	for _, g := range live {
		out = append(out, c.info(g, false))
	}
	for _, id := range retainedIDs {
		g, ok := c.retained.Get(id)
		if !ok {
			c.forgetRetained(id)
			continue
		}
		out = append(out, c.info(g, true))
	}
	return out
}

// Release parks the task's group in the retention cache (or drops it when
// retention is zero). Called when the task leaves the downloading phase for
// good.
func (c *Correlator) Release(taskID string) {
	c.mu.Lock()
	id, ok := c.byTask[taskID]
	if !ok {
		c.mu.Unlock()
		return
	}
	g := c.groups[id]
	delete(c.groups, id)
	delete(c.byTask, taskID)
	if c.retention > 0 && g != nil {
		c.sweepRetainedLocked()
		c.retainedIDs[id] = taskID
		c.retained.Set(id, g, cache.WithEx[*Group](c.retention))
	}
	c.mu.Unlock()
}

// sweepRetainedLocked drops index entries whose cached group already expired,
// so never-queried groups do not pile up for the process lifetime.
func (c *Correlator) sweepRetainedLocked() {
	for id := range c.retainedIDs {
		if _, ok := c.retained.Get(id); !ok {
			delete(c.retainedIDs, id)
		}
	}
}

func (c *Correlator) info(g *Group, retained bool) GroupInfo {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GroupInfo{
		ID:        g.id,
		TaskID:    g.taskID,
		CreatedAt: g.createdAt,
		Files:     len(g.records),
		Retained:  retained,
	}
}

func (c *Correlator) live(groupID string) (*Group, error) {
	c.mu.RLock()
	g, ok := c.groups[groupID]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(errs.GroupNotFound, "id %s", groupID)
	}
	return g, nil
}

// find also looks in the retention cache, for read-only queries.
func (c *Correlator) find(groupID string) (*Group, error) {
	if g, err := c.live(groupID); err == nil {
		return g, nil
	}
	if g, ok := c.retained.Get(groupID); ok {
		return g, nil
	}
	c.forgetRetained(groupID)
	return nil, errors.Wrapf(errs.GroupNotFound, "id %s", groupID)
}

func (c *Correlator) member(g *Group, handle string) error {
	g.mu.Lock()
	_, ok := g.records[handle]
	g.mu.Unlock()
	if !ok {
		return errors.Wrapf(errs.ForeignHandle, "handle %s not in group %s", handle, g.id)
	}
	return nil
}

func (c *Correlator) forgetRetained(id string) {
	c.mu.Lock()
	delete(c.retainedIDs, id)
	c.mu.Unlock()
}

func (c *Correlator) emit(g *Group, snap model.ProgressSnapshot) {
	if c.onSnapshot == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			utils.Log.Errorf("snapshot callback panicked for task %s: %v", g.taskID, r)
		}
	}()
	c.onSnapshot(g.taskID, snap)
}
