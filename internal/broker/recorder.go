// ABOUTME: Recording Conn implementation for tests of broker consumers
// ABOUTME: Captures every delivered event and can be told to fail sends

package broker

import (
	"errors"
	"sync"
)

// ErrRecorderClosed is returned by a Recorder after Fail has been called.
var ErrRecorderClosed = errors.New("recorder closed")

// Recorder is a Conn that stores every event it receives.
type Recorder struct {
	id string

	mu     sync.Mutex
	events []Event
	failed bool
}

// NewRecorder creates a Recorder with the given connection id.
func NewRecorder(id string) *Recorder {
	return &Recorder{id: id}
}

// ID returns the connection id.
func (r *Recorder) ID() string {
	return r.id
}

// Send records the event, or fails once Fail has been called.
func (r *Recorder) Send(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.failed {
		return ErrRecorderClosed
	}
	r.events = append(r.events, event)
	return nil
}

// Fail makes every later Send return ErrRecorderClosed.
func (r *Recorder) Fail() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = true
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Named returns recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Reset discards recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
