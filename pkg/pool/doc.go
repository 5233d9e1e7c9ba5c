// Package pool implements a database connection pool.
//
// A Pool lends physical connections opened by a Creator to concurrent
// callers. Each checkout is represented by a Fairy, which owns one Record
// (the connection plus its metadata) until it is closed, detached or
// invalidated.
//
// Connections are retired lazily. Every Record is stamped with the pool
// generation current when it was opened; RecreatePool advances the
// generation, and a record from an older generation is closed the next time
// it is popped from the idle queue or returned, instead of being handed out
// again. The same per-touch check applies to the recycle age and to soft
// invalidation.
//
// Capacity is size + max_overflow checkouts. When it is reached, Acquire
// waits up to the configured timeout and fails with a pool_exhausted error.
// When pre-ping is enabled an idle connection that fails its liveness check
// is discarded, the generation advances so its idle siblings are closed
// unpinged, and a fresh connection is created within the same Acquire call.
//
// Basic usage:
//
//	p, err := pool.New(cfg, creator, pool.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer p.Dispose()
//
//	f, err := p.Acquire(ctx)
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//
//	conn, err := f.Conn()
//
// Events are dispatched to the pool's own listeners (Events) and then to
// Global, each in registration order, without holding the pool lock.
package pool
