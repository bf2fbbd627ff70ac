// Package push fans task state changes out to subscribed connections.
package push

import (
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"

	"github.com/draftsync/draftsync/internal/errs"
	"github.com/draftsync/draftsync/internal/model"
	"github.com/draftsync/draftsync/pkg/utils"
)

// Conn is one live observer connection. Send must not block; an unreachable
// connection simply misses the event and resyncs on reconnect.
type Conn interface {
	ID() string
	Send(msg model.ServerMessage)
}

// TaskSource answers authoritative point lookups, i.e. the registry.
type TaskSource interface {
	Get(id string) (model.Task, error)
}

// Multiplexer tracks which connections care about which tasks and delivers
// every task mutation to each subscribed connection exactly once.
type Multiplexer struct {
	mu     sync.RWMutex
	byTask map[string]mapset.Set[string]
	byConn map[string]mapset.Set[string]
	conns  map[string]Conn

	// last holds the most recently published snapshot per task. It
	// distinguishes progress-only pushes from status changes, and it lets a
	// subscribe racing a publish hand out a snapshot at least as new as
	// anything already delivered to the connection.
	last map[string]model.Task

	source TaskSource
}

func NewMultiplexer(source TaskSource) *Multiplexer {
	return &Multiplexer{
		byTask: make(map[string]mapset.Set[string]),
		byConn: make(map[string]mapset.Set[string]),
		conns:  make(map[string]Conn),
		last:   make(map[string]model.Task),
		source: source,
	}
}

// Subscribe registers interest and delivers the authoritative current state
// to the connection as a task_subscribed event, so the observer never starts
// from an empty view. Registration happens before the source lookup: an
// update racing the subscribe is either reflected in the delivered snapshot
// or pushed to the connection afterwards, never silently lost. The snapshot
// is sent under the subscription lock, so no event older than it can follow.
func (m *Multiplexer) Subscribe(conn Conn, taskID string) (model.Task, error) {
	m.mu.Lock()
	m.conns[conn.ID()] = conn
	if _, ok := m.byTask[taskID]; !ok {
		m.byTask[taskID] = mapset.NewThreadUnsafeSet[string]()
	}
	m.byTask[taskID].Add(conn.ID())
	if _, ok := m.byConn[conn.ID()]; !ok {
		m.byConn[conn.ID()] = mapset.NewThreadUnsafeSet[string]()
	}
	m.byConn[conn.ID()].Add(taskID)
	m.mu.Unlock()

	t, err := m.source.Get(taskID)
	if err != nil {
		m.Unsubscribe(conn.ID(), taskID)
		return model.Task{}, errors.Wrapf(errs.SubscribeFailed, "task %s: %v", taskID, err)
	}

	m.mu.Lock()
	if lt, ok := m.last[taskID]; ok && lt.UpdatedAt.After(t.UpdatedAt) {
		// A newer update was already delivered between registration and the
		// lookup; the subscribed snapshot must not regress behind it.
		t = lt
	}
	conn.Send(model.NewServerMessage(model.EventTaskSubscribed, t))
	if t.Status.Terminal() {
		m.removeLocked(conn.ID(), taskID)
	}
	m.mu.Unlock()
	return t, nil
}

// Unsubscribe drops one (connection, task) pair.
func (m *Multiplexer) Unsubscribe(connID, taskID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(connID, taskID)
}

func (m *Multiplexer) removeLocked(connID, taskID string) {
	if set, ok := m.byTask[taskID]; ok {
		set.Remove(connID)
		if set.Cardinality() == 0 {
			delete(m.byTask, taskID)
		}
	}
	if set, ok := m.byConn[connID]; ok {
		set.Remove(taskID)
	}
}

// OnConnectionClosed removes every subscription of the connection atomically.
func (m *Multiplexer) OnConnectionClosed(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tasks, ok := m.byConn[connID]; ok {
		for taskID := range tasks.Iter() {
			if set, ok := m.byTask[taskID]; ok {
				set.Remove(connID)
				if set.Cardinality() == 0 {
					delete(m.byTask, taskID)
				}
			}
		}
	}
	delete(m.byConn, connID)
	delete(m.conns, connID)
}

// SubscriberCount reports how many connections watch the task.
func (m *Multiplexer) SubscriberCount(taskID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if set, ok := m.byTask[taskID]; ok {
		return set.Cardinality()
	}
	return 0
}

// Publish delivers the updated task to every subscribed connection. Sends
// happen under the subscription lock so delivery interleaves atomically with
// Subscribe; they stay fire-and-forget because Send must not block. After a
// terminal event the task's subscriptions are dropped; observers stop
// expecting events for it.
func (m *Multiplexer) Publish(t model.Task) {
	m.mu.Lock()
	event := m.eventForLocked(t)
	m.last[t.ID] = t
	var delivered int
	if set, ok := m.byTask[t.ID]; ok {
		msg := model.NewServerMessage(event, t)
		for connID := range set.Iter() {
			if c, ok := m.conns[connID]; ok {
				c.Send(msg)
				delivered++
			}
		}
	}
	if t.Status.Terminal() {
		m.dropTaskLocked(t.ID)
	}
	m.mu.Unlock()

	if delivered > 0 {
		utils.Log.Debugf("published %s for task %s to %d connection(s)", event, t.ID, delivered)
	}
}

func (m *Multiplexer) eventForLocked(t model.Task) string {
	if e := model.TerminalEvent(t.Status); e != "" {
		return e
	}
	if prev, ok := m.last[t.ID]; ok && prev.Status == t.Status {
		return model.EventTaskProgress
	}
	return model.EventTaskStatusChanged
}

// dropTaskLocked clears the task's subscriptions but keeps its last snapshot,
// so a subscribe racing the terminal publish still sees the terminal state.
func (m *Multiplexer) dropTaskLocked(taskID string) {
	if set, ok := m.byTask[taskID]; ok {
		for connID := range set.Iter() {
			if conns, ok := m.byConn[connID]; ok {
				conns.Remove(taskID)
			}
		}
	}
	delete(m.byTask, taskID)
}
