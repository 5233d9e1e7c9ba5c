package testutil

import (
	"sync"

	"github.com/ajitpratap0/dbpool/pkg/pool"
)

// Event is one dispatched pool event as seen by a Recorder.
type Event struct {
	Name     string
	RecordID string
	Conn     pool.Conn
	Reason   error
}

// Recorder captures every event fired on a listener registry.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder registers a Recorder on l for all events.
func NewRecorder(l *pool.Listeners) *Recorder {
	r := &Recorder{}
	for _, name := range []string{
		pool.EventConnect, pool.EventFirstConnect, pool.EventCheckin,
		pool.EventReset, pool.EventClose, pool.EventDetach,
	} {
		name := name
		_ = l.On(name, func(conn pool.Conn, rec *pool.Record) error {
			r.add(Event{Name: name, RecordID: rec.ID(), Conn: conn})
			return nil
		})
	}
	l.OnCheckout(func(conn pool.Conn, rec *pool.Record, _ *pool.Fairy) error {
		r.add(Event{Name: pool.EventCheckout, RecordID: rec.ID(), Conn: conn})
		return nil
	})
	l.OnInvalidate(func(conn pool.Conn, rec *pool.Record, reason error) error {
		r.add(Event{Name: pool.EventInvalidate, RecordID: rec.ID(), Conn: conn, Reason: reason})
		return nil
	})
	l.OnSoftInvalidate(func(conn pool.Conn, rec *pool.Record, reason error) error {
		r.add(Event{Name: pool.EventSoftInvalidate, RecordID: rec.ID(), Conn: conn, Reason: reason})
		return nil
	})
	l.OnCloseDetached(func(conn pool.Conn) error {
		r.add(Event{Name: pool.EventCloseDetached, Conn: conn})
		return nil
	})
	return r
}

func (r *Recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many events with the given name were recorded.
func (r *Recorder) Count(name string) int {
	return len(r.Named(name))
}

// Names returns the event names in dispatch order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Name
	}
	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
