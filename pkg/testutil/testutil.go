// Package testutil provides fakes and helpers for testing code built on
// the connection pool.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/dbpool/pkg/errors"
	"github.com/ajitpratap0/dbpool/pkg/pool"
)

// TestLogger creates a test logger that writes to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext creates a test context with a 30-second timeout.
// The caller must call the returned cancel function to avoid leaks.
func TestContext(_ *testing.T) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// FakeConn is an in-memory connection implementing Pinger, Validator and
// Transactor.
type FakeConn struct {
	ID int64

	dead      atomic.Bool
	closed    atomic.Bool
	closes    atomic.Int64
	pings     atomic.Int64
	rollbacks atomic.Int64
	commits   atomic.Int64

	mu          sync.Mutex
	pingErr     error
	rollbackErr error
	commitErr   error
	closeErr    error
}

var (
	_ pool.Conn       = (*FakeConn)(nil)
	_ pool.Pinger     = (*FakeConn)(nil)
	_ pool.Validator  = (*FakeConn)(nil)
	_ pool.Transactor = (*FakeConn)(nil)
)

// Close marks the connection closed.
func (c *FakeConn) Close() error {
	c.closes.Add(1)
	c.closed.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Ping fails once the connection is killed or closed.
func (c *FakeConn) Ping(ctx context.Context) error {
	c.pings.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.dead.Load() || c.closed.Load() {
		return errors.Disconnection(nil, "fake connection is dead", false)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

// IsValid reports whether the connection is neither killed nor closed.
func (c *FakeConn) IsValid() bool {
	return !c.dead.Load() && !c.closed.Load()
}

// Rollback counts the call and returns the configured error.
func (c *FakeConn) Rollback(context.Context) error {
	c.rollbacks.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rollbackErr
}

// Commit counts the call and returns the configured error.
func (c *FakeConn) Commit(context.Context) error {
	c.commits.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commitErr
}

// Kill simulates the server dropping the connection.
func (c *FakeConn) Kill() { c.dead.Store(true) }

// FailPing makes subsequent pings on a live connection return err.
func (c *FakeConn) FailPing(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = err
}

// FailRollback makes subsequent rollbacks return err.
func (c *FakeConn) FailRollback(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rollbackErr = err
}

// FailCommit makes subsequent commits return err.
func (c *FakeConn) FailCommit(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commitErr = err
}

// FailClose makes subsequent closes return err.
func (c *FakeConn) FailClose(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeErr = err
}

// Closed reports whether Close was called.
func (c *FakeConn) Closed() bool { return c.closed.Load() }

// Closes returns how many times Close was called.
func (c *FakeConn) Closes() int64 { return c.closes.Load() }

// Pings returns how many times Ping was called.
func (c *FakeConn) Pings() int64 { return c.pings.Load() }

// Rollbacks returns how many times Rollback was called.
func (c *FakeConn) Rollbacks() int64 { return c.rollbacks.Load() }

// Commits returns how many times Commit was called.
func (c *FakeConn) Commits() int64 { return c.commits.Load() }

// FakeCreator hands out FakeConns and can be scripted to fail or block.
type FakeCreator struct {
	mu       sync.Mutex
	conns    []*FakeConn
	failures []error
	delay    time.Duration
	nextID   int64
}

// NewFakeCreator creates a creator that always succeeds.
func NewFakeCreator() *FakeCreator {
	return &FakeCreator{}
}

// Create implements pool.Creator.
func (c *FakeCreator) Create(ctx context.Context) (pool.Conn, error) {
	c.mu.Lock()
	delay := c.delay
	var failure error
	if len(c.failures) > 0 {
		failure = c.failures[0]
		c.failures = c.failures[1:]
	}
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failure != nil {
		return nil, failure
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	conn := &FakeConn{ID: c.nextID}
	c.conns = append(c.conns, conn)
	return conn, nil
}

// Creator returns Create as a pool.Creator.
func (c *FakeCreator) Creator() pool.Creator { return c.Create }

// FailNext makes the next calls fail with errs, in order.
func (c *FakeCreator) FailNext(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, errs...)
}

// SetDelay makes every Create call block for d.
func (c *FakeCreator) SetDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delay = d
}

// Conns returns every connection created so far, in creation order.
func (c *FakeCreator) Conns() []*FakeConn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*FakeConn(nil), c.conns...)
}

// Created returns the number of successful Create calls.
func (c *FakeCreator) Created() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.conns)
}

// FakeAgent is a pool.ResetAgent standing in for an external transaction.
type FakeAgent struct {
	active    atomic.Bool
	rollbacks atomic.Int64
	commits   atomic.Int64
	err       error
}

var _ pool.ResetAgent = (*FakeAgent)(nil)

// NewFakeAgent creates an active agent whose rollback/commit return err.
func NewFakeAgent(err error) *FakeAgent {
	a := &FakeAgent{err: err}
	a.active.Store(true)
	return a
}

// IsActive implements pool.ResetAgent.
func (a *FakeAgent) IsActive() bool { return a.active.Load() }

// End marks the transaction finished.
func (a *FakeAgent) End() { a.active.Store(false) }

// Rollback implements pool.ResetAgent.
func (a *FakeAgent) Rollback(context.Context) error {
	a.rollbacks.Add(1)
	a.active.Store(false)
	return a.err
}

// Commit implements pool.ResetAgent.
func (a *FakeAgent) Commit(context.Context) error {
	a.commits.Add(1)
	a.active.Store(false)
	return a.err
}

// Rollbacks returns how many times Rollback was called.
func (a *FakeAgent) Rollbacks() int64 { return a.rollbacks.Load() }

// Commits returns how many times Commit was called.
func (a *FakeAgent) Commits() int64 { return a.commits.Load() }
