package pool

import "sync/atomic"

// generation is the pool-wide epoch counter. Reads are lock-free; writes
// happen under Pool.mu so that advancing and popping idle records are
// ordered.
type generation struct {
	v atomic.Uint64
}

func (g *generation) current() uint64 {
	return g.v.Load()
}

// advance unconditionally starts a new epoch.
func (g *generation) advance() uint64 {
	return g.v.Add(1)
}

// advanceFrom starts a new epoch only if from is still the current one, so
// that many stale connections reporting the same outage bump it once.
func (g *generation) advanceFrom(from uint64) bool {
	if g.v.Load() != from {
		return false
	}
	g.v.Add(1)
	return true
}
