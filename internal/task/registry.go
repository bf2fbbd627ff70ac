// Package task holds the authoritative task registry and its state machine.
package task

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/draftsync/draftsync/internal/errs"
	"github.com/draftsync/draftsync/internal/model"
)

// transitions is the full edge table of the task state machine. Anything not
// listed here is rejected; terminal states have no outgoing edges and pending
// is never a target after creation.
var transitions = map[model.TaskStatus][]model.TaskStatus{
	model.StatusPending:     {model.StatusDownloading, model.StatusFailed, model.StatusCancelled},
	model.StatusDownloading: {model.StatusProcessing, model.StatusFailed, model.StatusCancelled},
	model.StatusProcessing:  {model.StatusCompleted, model.StatusFailed, model.StatusCancelled},
}

// Publisher receives every task mutation, in per-task order.
type Publisher interface {
	Publish(t model.Task)
}

// Persister mirrors task snapshots to durable storage.
type Persister interface {
	SaveRecord(t model.Task)
}

// Registry is the single writer of task truth. Mutations on one task are
// serialized by a per-task mutex so UpdatedAt is a total order for that task;
// different tasks proceed fully in parallel.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*entry

	publisher Publisher
	persister Persister
	now       func() time.Time
}

type entry struct {
	mu sync.Mutex
	t  model.Task
}

type Option func(*Registry)

func WithPublisher(p Publisher) Option {
	return func(r *Registry) { r.publisher = p }
}

func WithPersister(p Persister) Option {
	return func(r *Registry) { r.persister = p }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tasks: make(map[string]*entry),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetPublisher wires the push side after construction; bootstrap needs the
// registry to exist before the multiplexer does.
func (r *Registry) SetPublisher(p Publisher) {
	r.mu.Lock()
	r.publisher = p
	r.mu.Unlock()
}

// Create allocates a new pending task.
func (r *Registry) Create(name string) model.Task {
	now := r.now()
	t := model.Task{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    model.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.mu.Lock()
	r.tasks[t.ID] = &entry{t: t}
	r.mu.Unlock()
	r.persist(t)
	return t
}

// Restore re-registers a task snapshot loaded from storage. Boot-time only;
// does not publish.
func (r *Registry) Restore(t model.Task) {
	if t.ID == "" {
		return
	}
	r.mu.Lock()
	if _, ok := r.tasks[t.ID]; !ok {
		r.tasks[t.ID] = &entry{t: t}
	}
	r.mu.Unlock()
}

// Get returns a copy of the task.
func (r *Registry) Get(id string) (model.Task, error) {
	e, err := r.entry(id)
	if err != nil {
		return model.Task{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.t.Clone(), nil
}

// List returns copies of all tasks, newest first.
func (r *Registry) List() []model.Task {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.tasks))
	for _, e := range r.tasks {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	out := make([]model.Task, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.t.Clone())
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// TransitionOption sets result fields alongside a status change.
type TransitionOption func(*model.Task)

func WithDraftPath(path string) TransitionOption {
	return func(t *model.Task) { t.DraftPath = path }
}

func WithErrorMessage(msg string) TransitionOption {
	return func(t *model.Task) { t.ErrorMessage = msg }
}

func WithMessage(msg string) TransitionOption {
	return func(t *model.Task) { t.Message = msg }
}

// Transition moves a task along one edge of the state machine. CompletedAt is
// set exactly once, on the transition into a terminal status, and equals that
// mutation's UpdatedAt.
func (r *Registry) Transition(id string, status model.TaskStatus, opts ...TransitionOption) (model.Task, error) {
	e, err := r.entry(id)
	if err != nil {
		return model.Task{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !allowed(e.t.Status, status) {
		return model.Task{}, errors.Wrapf(errs.InvalidTransition, "%s -> %s", e.t.Status, status)
	}
	for _, opt := range opts {
		opt(&e.t)
	}
	e.t.Status = status
	e.t.UpdatedAt = r.tick(e.t.UpdatedAt)
	if status.Terminal() && e.t.CompletedAt == nil {
		done := e.t.UpdatedAt
		e.t.CompletedAt = &done
	}
	t := e.t.Clone()
	r.publish(t)
	r.persist(t)
	return t, nil
}

// UpdateProgress replaces the task's progress snapshot. Rejected outside the
// downloading/processing phases, so late events for a finished or cancelled
// task change nothing.
func (r *Registry) UpdateProgress(id string, snap model.ProgressSnapshot) (model.Task, error) {
	e, err := r.entry(id)
	if err != nil {
		return model.Task{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.t.Status.Active() {
		return model.Task{}, errors.Wrapf(errs.InvalidTransition, "progress update in status %s", e.t.Status)
	}
	s := snap
	e.t.Progress = &s
	e.t.UpdatedAt = r.tick(e.t.UpdatedAt)
	t := e.t.Clone()
	r.publish(t)
	r.persist(t)
	return t, nil
}

func (r *Registry) entry(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.tasks[id]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(errs.TaskNotFound, "id %s", id)
	}
	return e, nil
}

// tick produces a timestamp strictly after prev even on coarse clocks.
func (r *Registry) tick(prev time.Time) time.Time {
	now := r.now()
	if !now.After(prev) {
		now = prev.Add(time.Nanosecond)
	}
	return now
}

// publish runs under the per-task mutex so delivery order matches UpdatedAt
// order. The publisher must not block.
func (r *Registry) publish(t model.Task) {
	r.mu.RLock()
	p := r.publisher
	r.mu.RUnlock()
	if p != nil {
		p.Publish(t)
	}
}

func (r *Registry) persist(t model.Task) {
	r.mu.RLock()
	p := r.persister
	r.mu.RUnlock()
	if p != nil {
		p.SaveRecord(t)
	}
}

func allowed(from, to model.TaskStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
