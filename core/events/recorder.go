package events

import "sync"

// RecordedEvent pairs an emitted event with its position in the append-only
// history kept by the Recorder.
type RecordedEvent struct {
	Sequence int64
	Event    Event
}

// Recorder is an append-only, in-memory event sink. It backs the RPC event
// query and doubles as a fan-out point for additional subscribers.
type Recorder struct {
	mu       sync.RWMutex
	next     int64
	history  []RecordedEvent
	forward  []Emitter
	capacity int
}

// NewRecorder creates a recorder retaining up to capacity events. A zero or
// negative capacity keeps the full history.
func NewRecorder(capacity int) *Recorder {
	return &Recorder{next: 1, capacity: capacity}
}

// Subscribe registers an additional emitter that receives every event after
// it has been recorded.
func (r *Recorder) Subscribe(emitter Emitter) {
	if emitter == nil {
		return
	}
	r.mu.Lock()
	r.forward = append(r.forward, emitter)
	r.mu.Unlock()
}

// Emit appends the event to the history and forwards it to subscribers.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	recorded := RecordedEvent{Sequence: r.next, Event: evt}
	r.next++
	r.history = append(r.history, recorded)
	if r.capacity > 0 && len(r.history) > r.capacity {
		r.history = r.history[len(r.history)-r.capacity:]
	}
	subscribers := append([]Emitter(nil), r.forward...)
	r.mu.Unlock()

	for _, sub := range subscribers {
		sub.Emit(evt)
	}
}

// List returns up to limit retained events whose type carries the supplied
// prefix, oldest first. A zero or negative limit returns everything retained.
func (r *Recorder) List(prefix string, limit int) []RecordedEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RecordedEvent, 0, len(r.history))
	for _, rec := range r.history {
		if prefix != "" && !hasPrefix(rec.Event.EventType(), prefix) {
			continue
		}
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
