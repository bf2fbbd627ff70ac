package db

import (
	"github.com/draftsync/draftsync/internal/model"
	"github.com/draftsync/draftsync/pkg/utils"
)

// TaskPersister mirrors registry mutations into the database off the hot
// path. SaveRecord never blocks the registry: when the queue is full the
// snapshot is dropped and a later mutation catches the row up.
type TaskPersister struct {
	queue chan model.TaskRecord
	done  chan struct{}
}

func NewTaskPersister() *TaskPersister {
	p := &TaskPersister{
		queue: make(chan model.TaskRecord, 256),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *TaskPersister) SaveRecord(t model.Task) {
	select {
	case p.queue <- RecordFromTask(t):
	default:
		utils.Log.Debugf("task persist queue full, dropping snapshot for %s", t.ID)
	}
}

func (p *TaskPersister) run() {
	defer close(p.done)
	for rec := range p.queue {
		if err := UpsertTaskRecord(rec); err != nil {
			utils.Log.Warnf("failed to persist task record %s: %+v", rec.TaskID, err)
		}
	}
}

// Shutdown drains the queue and stops the writer.
func (p *TaskPersister) Shutdown() {
	close(p.queue)
	<-p.done
}
