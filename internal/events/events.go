package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Type enumerates the progress event kinds a run emits.
type Type string

const (
	TypeProgress            Type = "progress"
	TypeClarificationNeeded Type = "clarification_needed"
	TypeCompleted           Type = "completed"
	TypeError               Type = "error"
)

// Event is one ordered progress event. Seq is assigned at publish time.
type Event struct {
	RunID     string    `json:"run_id"`
	Type      Type      `json:"type"`
	Phase     string    `json:"phase,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Marshal returns JSON for event payloads in streams or logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Stream is an in-memory pub/sub for one run's events, with a ring buffer for
// replay. It is constructed per consumer wiring, never held as process-global
// state, so nothing about a run survives the run boundary.
type Stream struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
	ring        *ring
}

// NewStream creates a stream retaining up to capacity events for replay.
func NewStream(capacity int) *Stream {
	if capacity <= 0 {
		capacity = 256
	}
	return &Stream{
		subscribers: make(map[chan Event]struct{}),
		ring:        newRing(capacity),
	}
}

// Subscribe adds a subscriber channel; the caller must drain it and call
// Unsubscribe when done.
func (s *Stream) Subscribe(buffer int) chan Event {
	ch := make(chan Event, buffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (s *Stream) Unsubscribe(ch chan Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
	}
}

// Publish assigns the next sequence number and delivers the event to all
// subscribers without blocking; slow subscribers drop events.
func (s *Stream) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	s.mu.Lock()
	evt.Seq = s.ring.nextSeq
	s.ring.nextSeq++
	s.ring.push(evt)
	subs := make([]chan Event, 0, len(s.subscribers))
	for ch := range s.subscribers {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ReplaySince returns buffered events with Seq > since, best-effort within
// ring capacity.
func (s *Stream) ReplaySince(since uint64) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ring.since(since)
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		e := r.buf[(r.start+i)%len(r.buf)]
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out
}
