package syncclient

import (
	"time"
)

// Watcher batches rapid event bursts for UI-facing consumers: events are
// buffered and flushed either when the buffer fills or on a periodic timer,
// so a chatty download does not repaint the screen per byte. It sits entirely
// outside the reconciliation contract; the Client's local view is already
// updated when events arrive here.
type Watcher struct {
	batches chan []Event
	done    chan struct{}
}

// NewWatcher starts consuming events. flushEvery must be positive; maxBatch
// bounds the buffer.
func NewWatcher(events <-chan Event, flushEvery time.Duration, maxBatch int) *Watcher {
	if flushEvery <= 0 {
		flushEvery = 200 * time.Millisecond
	}
	if maxBatch < 1 {
		maxBatch = 32
	}
	w := &Watcher{
		batches: make(chan []Event, 4),
		done:    make(chan struct{}),
	}
	go w.run(events, flushEvery, maxBatch)
	return w
}

// Batches delivers the flushed event groups. Closed when the source closes.
func (w *Watcher) Batches() <-chan []Event {
	return w.batches
}

func (w *Watcher) run(events <-chan Event, flushEvery time.Duration, maxBatch int) {
	defer close(w.batches)
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	buf := make([]Event, 0, maxBatch)
	flush := func() {
		if len(buf) == 0 {
			return
		}
		out := make([]Event, len(buf))
		copy(out, buf)
		buf = buf[:0]
		select {
		case w.batches <- out:
		case <-w.done:
		}
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				flush()
				return
			}
			buf = append(buf, ev)
			if len(buf) >= maxBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			return
		}
	}
}

// Stop abandons the watcher without waiting for a final flush.
func (w *Watcher) Stop() {
	close(w.done)
}
