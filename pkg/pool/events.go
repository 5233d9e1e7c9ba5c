package pool

import (
	"sync"

	"github.com/ajitpratap0/dbpool/pkg/errors"
)

// Event names accepted by Listeners.On.
const (
	EventConnect        = "connect"
	EventFirstConnect   = "first_connect"
	EventCheckout       = "checkout"
	EventCheckin        = "checkin"
	EventReset          = "reset"
	EventInvalidate     = "invalidate"
	EventSoftInvalidate = "soft_invalidate"
	EventClose          = "close"
	EventDetach         = "detach"
	EventCloseDetached  = "close_detached"
)

// ConnectionFunc handles connect, first_connect, checkin, reset, close and
// detach events.
type ConnectionFunc func(conn Conn, rec *Record) error

// CheckoutFunc handles checkout events. Returning an error marks the
// candidate connection unusable: the pool discards it and retries.
type CheckoutFunc func(conn Conn, rec *Record, f *Fairy) error

// InvalidateFunc handles invalidate and soft_invalidate events.
type InvalidateFunc func(conn Conn, rec *Record, reason error) error

// CloseDetachedFunc handles close_detached events.
type CloseDetachedFunc func(conn Conn) error

// Global holds listeners applied to every pool. A pool dispatches to its own
// listeners first, then to Global, each in registration order.
var Global = NewListeners()

// Listeners is one tier of the event registry.
type Listeners struct {
	mu            sync.RWMutex
	conn          map[string][]ConnectionFunc
	checkout      []CheckoutFunc
	invalidate    map[string][]InvalidateFunc
	closeDetached []CloseDetachedFunc
}

// NewListeners creates an empty registry.
func NewListeners() *Listeners {
	return &Listeners{
		conn:       make(map[string][]ConnectionFunc),
		invalidate: make(map[string][]InvalidateFunc),
	}
}

func (l *Listeners) addConn(name string, fn ConnectionFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn[name] = append(l.conn[name], fn)
}

func (l *Listeners) addInvalidate(name string, fn InvalidateFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invalidate[name] = append(l.invalidate[name], fn)
}

// OnConnect is called once per physical connection, right after it is opened.
func (l *Listeners) OnConnect(fn ConnectionFunc) { l.addConn(EventConnect, fn) }

// OnFirstConnect is called for the first connection a pool ever opens.
func (l *Listeners) OnFirstConnect(fn ConnectionFunc) { l.addConn(EventFirstConnect, fn) }

// OnCheckin is called when a connection is returned, after reset.
func (l *Listeners) OnCheckin(fn ConnectionFunc) { l.addConn(EventCheckin, fn) }

// OnReset is called after reset-on-return succeeded.
func (l *Listeners) OnReset(fn ConnectionFunc) { l.addConn(EventReset, fn) }

// OnClose is called right before a physical connection is closed by the pool.
func (l *Listeners) OnClose(fn ConnectionFunc) { l.addConn(EventClose, fn) }

// OnDetach is called when a Fairy takes permanent ownership of its connection.
func (l *Listeners) OnDetach(fn ConnectionFunc) { l.addConn(EventDetach, fn) }

// OnCheckout is called when a connection is handed to a caller.
func (l *Listeners) OnCheckout(fn CheckoutFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checkout = append(l.checkout, fn)
}

// OnInvalidate is called when a connection is invalidated.
func (l *Listeners) OnInvalidate(fn InvalidateFunc) { l.addInvalidate(EventInvalidate, fn) }

// OnSoftInvalidate is called when a connection is marked for recycling.
func (l *Listeners) OnSoftInvalidate(fn InvalidateFunc) { l.addInvalidate(EventSoftInvalidate, fn) }

// OnCloseDetached is called when a detached connection is closed through its Fairy.
func (l *Listeners) OnCloseDetached(fn CloseDetachedFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeDetached = append(l.closeDetached, fn)
}

// On registers fn for the named event. fn must have the event's fixed
// signature, either as the named func type or an equivalent func literal.
func (l *Listeners) On(name string, fn interface{}) error {
	switch name {
	case EventConnect, EventFirstConnect, EventCheckin, EventReset, EventClose, EventDetach:
		switch f := fn.(type) {
		case ConnectionFunc:
			l.addConn(name, f)
		case func(Conn, *Record) error:
			l.addConn(name, f)
		default:
			return badSignature(name, fn)
		}
	case EventCheckout:
		switch f := fn.(type) {
		case CheckoutFunc:
			l.OnCheckout(f)
		case func(Conn, *Record, *Fairy) error:
			l.OnCheckout(f)
		default:
			return badSignature(name, fn)
		}
	case EventInvalidate, EventSoftInvalidate:
		switch f := fn.(type) {
		case InvalidateFunc:
			l.addInvalidate(name, f)
		case func(Conn, *Record, error) error:
			l.addInvalidate(name, f)
		default:
			return badSignature(name, fn)
		}
	case EventCloseDetached:
		switch f := fn.(type) {
		case CloseDetachedFunc:
			l.OnCloseDetached(f)
		case func(Conn) error:
			l.OnCloseDetached(f)
		default:
			return badSignature(name, fn)
		}
	default:
		return errors.Newf(errors.ErrorTypeInvalidRequest, "unknown event %q", name)
	}
	return nil
}

func badSignature(name string, fn interface{}) error {
	return errors.Newf(errors.ErrorTypeInvalidRequest, "listener of type %T does not match event %q", fn, name)
}

// Len returns the number of listeners registered for name.
func (l *Listeners) Len(name string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	switch name {
	case EventCheckout:
		return len(l.checkout)
	case EventCloseDetached:
		return len(l.closeDetached)
	case EventInvalidate, EventSoftInvalidate:
		return len(l.invalidate[name])
	default:
		return len(l.conn[name])
	}
}

// Clone returns an independent copy holding the same listeners.
func (l *Listeners) Clone() *Listeners {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c := NewListeners()
	for k, v := range l.conn {
		c.conn[k] = append([]ConnectionFunc(nil), v...)
	}
	for k, v := range l.invalidate {
		c.invalidate[k] = append([]InvalidateFunc(nil), v...)
	}
	c.checkout = append([]CheckoutFunc(nil), l.checkout...)
	c.closeDetached = append([]CloseDetachedFunc(nil), l.closeDetached...)
	return c
}

// Reset removes every listener.
func (l *Listeners) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.conn = make(map[string][]ConnectionFunc)
	l.invalidate = make(map[string][]InvalidateFunc)
	l.checkout = nil
	l.closeDetached = nil
}

// dispatcher merges a pool's own listeners with Global at fire time.
type dispatcher struct {
	instance *Listeners
}

func (d dispatcher) tiers() [2]*Listeners {
	return [2]*Listeners{d.instance, Global}
}

// fireConn stops at the first listener error.
func (d dispatcher) fireConn(name string, conn Conn, rec *Record) error {
	for _, l := range d.tiers() {
		l.mu.RLock()
		fns := l.conn[name]
		l.mu.RUnlock()
		for _, fn := range fns {
			if err := fn(conn, rec); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d dispatcher) fireCheckout(conn Conn, rec *Record, f *Fairy) error {
	for _, l := range d.tiers() {
		l.mu.RLock()
		fns := l.checkout
		l.mu.RUnlock()
		for _, fn := range fns {
			if err := fn(conn, rec, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d dispatcher) fireInvalidate(name string, conn Conn, rec *Record, reason error) error {
	for _, l := range d.tiers() {
		l.mu.RLock()
		fns := l.invalidate[name]
		l.mu.RUnlock()
		for _, fn := range fns {
			if err := fn(conn, rec, reason); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d dispatcher) fireCloseDetached(conn Conn) error {
	for _, l := range d.tiers() {
		l.mu.RLock()
		fns := l.closeDetached
		l.mu.RUnlock()
		for _, fn := range fns {
			if err := fn(conn); err != nil {
				return err
			}
		}
	}
	return nil
}
