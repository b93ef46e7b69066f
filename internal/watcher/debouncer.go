package watcher

import (
	"log/slog"
	"sync"
	"time"
)

// Debouncer coalesces rapid file events so a burst of saves produces one
// index update. Each path has its own quiet window; a steadily changing
// file never postpones the flush of other files. Events for the same path
// within the window merge by these rules:
//   - CREATE + MODIFY = CREATE (file is still new)
//   - CREATE + DELETE = nothing (file never really existed)
//   - MODIFY + DELETE = DELETE (file is gone)
//   - DELETE + CREATE = MODIFY (file was replaced)
type Debouncer struct {
	window  time.Duration
	pending map[string]*pendingEvent
	mu      sync.Mutex
	output  chan []FileEvent
	timer   *time.Timer
	stopped bool
}

type pendingEvent struct {
	event    FileEvent
	firstOp  Operation
	deadline time.Time
}

// flushSlack lets entries whose deadlines fall within a few milliseconds of
// each other flush as one batch instead of splitting on timer resolution.
const flushSlack = 5 * time.Millisecond

// NewDebouncer creates a debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]*pendingEvent),
		output:  make(chan []FileEvent, 10),
	}
}

// Add submits an event for coalescing. Each event refreshes its own
// path's deadline, so a steady stream of events for a path keeps
// extending that path's quiet period without delaying others.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	deadline := time.Now().Add(d.window)
	if existing, ok := d.pending[event.Path]; ok {
		coalesced := coalesce(existing, event)
		if coalesced == nil {
			delete(d.pending, event.Path)
		} else {
			existing.event = *coalesced
			existing.deadline = deadline
		}
	} else {
		d.pending[event.Path] = &pendingEvent{
			event:    event,
			firstOp:  event.Operation,
			deadline: deadline,
		}
	}

	d.scheduleFlush()
}

// coalesce merges a new event into the pending one. Returns nil when the
// pair cancels out.
func coalesce(existing *pendingEvent, next FileEvent) *FileEvent {
	switch existing.firstOp {
	case OpCreate:
		switch next.Operation {
		case OpModify:
			return &existing.event
		case OpDelete:
			return nil
		default:
			return &next
		}

	case OpDelete:
		if next.Operation == OpCreate {
			result := next
			result.Operation = OpModify
			return &result
		}
		return &next

	default:
		return &next
	}
}

// scheduleFlush arms the timer for the earliest pending deadline. Caller
// holds the mutex.
func (d *Debouncer) scheduleFlush() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if len(d.pending) == 0 {
		return
	}

	earliest := time.Time{}
	for _, pe := range d.pending {
		if earliest.IsZero() || pe.deadline.Before(earliest) {
			earliest = pe.deadline
		}
	}
	wait := time.Until(earliest)
	if wait < 0 {
		wait = 0
	}
	d.timer = time.AfterFunc(wait, d.flush)
}

// flush emits every entry whose own window has elapsed, then re-arms for
// whatever is still settling.
func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}

	// Entries within the slack of the firing deadline flush together so
	// a multi-file save lands as one batch.
	cutoff := time.Now().Add(flushSlack)
	var events []FileEvent
	for path, pe := range d.pending {
		if pe.deadline.After(cutoff) {
			continue
		}
		events = append(events, pe.event)
		delete(d.pending, path)
	}

	if len(events) > 0 {
		select {
		case d.output <- events:
		default:
			slog.Warn("debouncer output full, dropping batch",
				slog.Int("batch_size", len(events)))
		}
	}

	d.scheduleFlush()
}

// Output returns the channel of debounced event batches.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Stop stops the debouncer and closes the output channel. Safe to call
// multiple times.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
