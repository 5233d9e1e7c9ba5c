package pool

import (
	"context"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/dbpool/pkg/errors"
)

// State is the lifecycle state of a Fairy.
type State int

const (
	// StateActive: the caller owns the connection
	StateActive State = iota
	// StateResetPending: Close is running reset-on-return
	StateResetPending
	// StateReturned: the record went back to the pool
	StateReturned
	// StateDetached: the caller owns the physical connection outside the pool
	StateDetached
	// StateClosed: the connection was closed without being recycled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateResetPending:
		return "reset_pending"
	case StateReturned:
		return "returned"
	case StateDetached:
		return "detached"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Fairy is one caller's checkout of a pooled connection. It is not safe to
// share a Fairy between goroutines that use the connection concurrently, but
// Close, Invalidate and Detach may race with each other safely.
//
// A Fairy that becomes unreachable while still active is returned to the
// pool by a finalizer. Callers should not rely on that: always Close.
type Fairy struct {
	id     uint64
	pool   *Pool
	record *Record
	conn   Conn

	// mu is taken before Pool.mu
	mu    sync.Mutex
	state State
	agent ResetAgent
	info  map[string]interface{}
}

func notActive(op string, s State) error {
	return errors.Newf(errors.ErrorTypeInvalidRequest, "cannot %s: connection is %s", op, s).
		WithDetail("state", s.String())
}

// ID returns the checkout identifier recorded on the Record while held.
func (f *Fairy) ID() uint64 { return f.id }

// State returns the current lifecycle state.
func (f *Fairy) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Record returns the Connection Record this Fairy was issued for.
func (f *Fairy) Record() *Record { return f.record }

// Conn returns the physical connection. It fails once the Fairy is no longer
// active or its record was invalidated out from under it.
func (f *Fairy) Conn() (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateActive {
		return nil, notActive("use connection", f.state)
	}
	if !f.pool.owns(f.record, f.id) {
		return nil, errors.New(errors.ErrorTypeInvalidRequest, "connection was invalidated").
			WithDetail("record_id", f.record.id)
	}
	return f.conn, nil
}

// Info returns the record's info map while active, or the copy taken at
// detach time once detached.
func (f *Fairy) Info() map[string]interface{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == StateDetached || f.info != nil {
		return f.info
	}
	return f.record.info
}

// SetResetAgent installs the transaction object to finalize on Close. A nil
// agent reverts to the connection's own Transactor capability.
func (f *Fairy) SetResetAgent(agent ResetAgent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateActive {
		return notActive("set reset agent", f.state)
	}
	f.agent = agent
	return nil
}

// Close returns the connection to the pool, bounded by the pool's reset timeout.
func (f *Fairy) Close() error {
	return f.CloseContext(context.Background())
}

// CloseContext returns the connection to the pool. A detached Fairy closes
// its physical connection instead and fires close_detached.
func (f *Fairy) CloseContext(ctx context.Context) error {
	f.mu.Lock()
	switch f.state {
	case StateActive:
	case StateDetached:
		f.state = StateClosed
		f.mu.Unlock()
		return f.pool.closeDetached(f.conn)
	default:
		s := f.state
		f.mu.Unlock()
		return notActive("close", s)
	}
	f.state = StateResetPending
	agent := f.agent
	f.mu.Unlock()
	runtime.SetFinalizer(f, nil)

	returned, err := f.pool.release(ctx, f.record, f.id, agent)

	f.mu.Lock()
	if returned {
		f.state = StateReturned
	} else {
		f.state = StateClosed
	}
	f.mu.Unlock()
	return err
}

// Detach removes the connection from pool management and hands it to the
// caller. Capacity is freed immediately; the pool never closes the returned
// connection. Close on a detached Fairy closes it.
func (f *Fairy) Detach() (Conn, error) {
	f.mu.Lock()
	if f.state != StateActive {
		s := f.state
		f.mu.Unlock()
		return nil, notActive("detach", s)
	}
	if err := f.pool.detach(f.record, f.id); err != nil {
		f.mu.Unlock()
		return nil, err
	}
	f.state = StateDetached
	f.info = make(map[string]interface{}, len(f.record.info))
	for k, v := range f.record.info {
		f.info[k] = v
	}
	f.mu.Unlock()
	runtime.SetFinalizer(f, nil)

	return f.conn, f.pool.events.fireConn(EventDetach, f.conn, f.record)
}

// Invalidate closes the physical connection and drops it from the pool.
// A reason flagged with errors.Disconnection(..., true) also invalidates
// every connection of the same generation.
func (f *Fairy) Invalidate(reason error) error {
	f.mu.Lock()
	if f.state != StateActive {
		s := f.state
		f.mu.Unlock()
		return notActive("invalidate", s)
	}
	f.state = StateClosed
	f.mu.Unlock()
	runtime.SetFinalizer(f, nil)

	return f.pool.invalidate(f.record, f.id, reason)
}

// SoftInvalidate keeps the connection usable for the current holder and
// recycles it when it is returned.
func (f *Fairy) SoftInvalidate(reason error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != StateActive {
		return notActive("soft invalidate", f.state)
	}
	return f.pool.softInvalidate(f.record, f.id, reason)
}

// finalizeFairy runs on the runtime's finalizer goroutine, which must not
// block on pool I/O.
func finalizeFairy(f *Fairy) {
	go f.pool.reclaim(f)
}

func (p *Pool) reclaim(f *Fairy) {
	f.mu.Lock()
	if f.state != StateActive {
		f.mu.Unlock()
		return
	}
	f.state = StateResetPending
	f.mu.Unlock()

	p.stats.abandoned.Add(1)
	p.logger.Warn("connection was not closed, returning it to the pool",
		zap.String("record_id", f.record.id),
		zap.Uint64("fairy_id", f.id))

	returned, err := p.release(context.Background(), f.record, f.id, nil)
	if err != nil {
		p.logger.Error("failed to return abandoned connection",
			zap.String("record_id", f.record.id),
			zap.Error(err))
	}

	f.mu.Lock()
	if returned {
		f.state = StateReturned
	} else {
		f.state = StateClosed
	}
	f.mu.Unlock()
}
