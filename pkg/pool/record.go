package pool

import (
	"time"

	"github.com/google/uuid"
)

// recordState tracks where a Record is. Guarded by Pool.mu.
type recordState int

const (
	// recInFlight: held by a goroutine inside Acquire or release, in neither idle nor a Fairy
	recInFlight recordState = iota
	recIdle
	recOut
	recGone
)

// Record wraps one physical connection and its metadata for the whole life
// of that connection. A replacement connection always gets a new Record, so
// Info never outlives the handle it describes.
type Record struct {
	id         string
	pool       *Pool
	conn       Conn
	generation uint64
	createdAt  time.Time
	info       map[string]interface{}

	// guarded by pool.mu
	state         recordState
	fairyID       uint64
	useCount      int64
	lastCheckout  time.Time
	returnedAt    time.Time
	softInvalidAt time.Time
	invalidated   bool
	invalidReason error
}

func newRecord(p *Pool, conn Conn, gen uint64, createdAt time.Time) *Record {
	return &Record{
		id:         uuid.NewString(),
		pool:       p,
		conn:       conn,
		generation: gen,
		createdAt:  createdAt,
		info:       make(map[string]interface{}),
		state:      recInFlight,
	}
}

// ID returns the record's unique identifier.
func (r *Record) ID() string { return r.id }

// Generation returns the pool generation the connection was created in.
func (r *Record) Generation() uint64 { return r.generation }

// CreatedAt returns when the physical connection was opened.
func (r *Record) CreatedAt() time.Time { return r.createdAt }

// Info is caller-owned data attached to the connection. It survives
// checkout/checkin cycles and is not protected by the pool lock: only the
// current holder may touch it.
func (r *Record) Info() map[string]interface{} { return r.info }

// InUse reports whether a Fairy currently holds the record.
func (r *Record) InUse() bool {
	r.pool.mu.Lock()
	defer r.pool.mu.Unlock()
	return r.state == recOut
}

// UseCount returns how many times the record has been checked out.
func (r *Record) UseCount() int64 {
	r.pool.mu.Lock()
	defer r.pool.mu.Unlock()
	return r.useCount
}

// Invalidate closes the record's connection and removes it from the pool,
// whether it is idle or checked out. A Fairy holding it becomes unusable.
func (r *Record) Invalidate(reason error) error {
	return r.pool.invalidateRecord(r, reason)
}

// staleReason returns why the record must not be reused, or "" if it may.
func (r *Record) staleReason(current uint64, recycle time.Duration, now time.Time) string {
	switch {
	case r.invalidated:
		return "invalidated"
	case r.generation < current:
		return "pool invalidated"
	case recycle > 0 && now.Sub(r.createdAt) > recycle:
		return "exceeded recycle age"
	case !r.softInvalidAt.IsZero():
		return "soft invalidated"
	}
	return ""
}
