package pool

import (
	"fmt"
	"sync/atomic"
	"time"
)

// counters are updated without the pool lock.
type counters struct {
	created     atomic.Int64
	reused      atomic.Int64
	recycled    atomic.Int64
	invalidated atomic.Int64
	detached    atomic.Int64
	abandoned   atomic.Int64
	exhausted   atomic.Int64
	waitCount   atomic.Int64
	waitNanos   atomic.Int64
}

// Stats is a point-in-time snapshot of a pool.
type Stats struct {
	Name        string `json:"name"`
	Size        int    `json:"size"`
	MaxOverflow int    `json:"max_overflow"`
	Idle        int    `json:"idle"`
	CheckedOut  int    `json:"checked_out"`
	// Overflow is the number of open connections beyond Size; negative while
	// the pool has not yet grown to Size.
	Overflow   int    `json:"overflow"`
	Generation uint64 `json:"generation"`

	Created      int64         `json:"created"`
	Reused       int64         `json:"reused"`
	Recycled     int64         `json:"recycled"`
	Invalidated  int64         `json:"invalidated"`
	Detached     int64         `json:"detached"`
	Abandoned    int64         `json:"abandoned"`
	Exhausted    int64         `json:"exhausted"`
	WaitCount    int64         `json:"wait_count"`
	WaitDuration time.Duration `json:"wait_duration"`
}

// String renders the one-line status used in logs.
func (s Stats) String() string {
	return fmt.Sprintf("Pool size: %d  Connections in pool: %d Current Overflow: %d Current Checked out connections: %d",
		s.Size, s.Idle, s.Overflow, s.CheckedOut)
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	idle := len(p.idle)
	out := p.checkedOut
	p.mu.Unlock()

	return Stats{
		Name:         p.cfg.Name,
		Size:         p.cfg.Size,
		MaxOverflow:  p.cfg.MaxOverflow,
		Idle:         idle,
		CheckedOut:   out,
		Overflow:     idle + out - p.cfg.Size,
		Generation:   p.gen.current(),
		Created:      p.stats.created.Load(),
		Reused:       p.stats.reused.Load(),
		Recycled:     p.stats.recycled.Load(),
		Invalidated:  p.stats.invalidated.Load(),
		Detached:     p.stats.detached.Load(),
		Abandoned:    p.stats.abandoned.Load(),
		Exhausted:    p.stats.exhausted.Load(),
		WaitCount:    p.stats.waitCount.Load(),
		WaitDuration: time.Duration(p.stats.waitNanos.Load()),
	}
}

// Status is Stats().String().
func (p *Pool) Status() string {
	return p.Stats().String()
}
