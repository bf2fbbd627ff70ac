package syncclient

import (
	"github.com/draftsync/draftsync/internal/model"
)

// EventType tags the union of events an observer can receive.
type EventType string

const (
	EventSubscribed    EventType = "subscribed"
	EventProgress      EventType = "progress"
	EventStatusChanged EventType = "status_changed"
	EventCompleted     EventType = "completed"
	EventFailed        EventType = "failed"
	EventCancelled     EventType = "cancelled"
	EventError         EventType = "error"
)

// Event is one tagged update for a task. For EventError only TaskID and Err
// are meaningful; every other type carries a full task snapshot.
type Event struct {
	Type   EventType
	TaskID string
	Task   model.Task
	Err    string
}

// Terminal reports whether no further events should be expected for the task.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventFailed || e.Type == EventCancelled
}

// eventFromMessage translates a wire message into a tagged event.
func eventFromMessage(msg model.ServerMessage) (Event, bool) {
	ev := Event{TaskID: msg.TaskID, Task: msg.Task(), Err: msg.Error}
	switch msg.Event {
	case model.EventTaskSubscribed:
		ev.Type = EventSubscribed
	case model.EventTaskProgress:
		ev.Type = EventProgress
	case model.EventTaskStatusChanged:
		ev.Type = EventStatusChanged
	case model.EventTaskCompleted:
		ev.Type = EventCompleted
	case model.EventTaskFailed:
		ev.Type = EventFailed
	case model.EventTaskCancelled:
		ev.Type = EventCancelled
	case model.EventSubscribeError:
		ev.Type = EventError
	default:
		return Event{}, false
	}
	return ev, true
}

// Reduce folds one event into the locally held snapshot and returns the
// snapshot to keep plus whether it changed. Pure: no transport, no clock.
//
// Snapshots are replaced wholesale, never merged field by field. A snapshot
// whose UpdatedAt is not newer than the local one is discarded, which makes
// the reduction idempotent and safe under duplicated or reordered delivery.
// An initial (re)subscribe snapshot is authoritative and always wins,
// overriding anything accumulated before a disconnect.
func Reduce(local *model.Task, ev Event) (*model.Task, bool) {
	switch ev.Type {
	case EventError:
		return local, false
	case EventSubscribed:
		t := ev.Task.Clone()
		return &t, true
	default:
		if local != nil && !ev.Task.UpdatedAt.After(local.UpdatedAt) {
			return local, false
		}
		t := ev.Task.Clone()
		return &t, true
	}
}
