// Package sqlconn adapts database/sql/driver connectors to the pool. It
// covers the MySQL, SQLite and Snowflake drivers and any other driver.Driver
// registered by the caller.
package sqlconn

import (
	"context"
	"database/sql/driver"
	"io"
	"sync"

	"github.com/ajitpratap0/dbpool/pkg/errors"
	"github.com/ajitpratap0/dbpool/pkg/pool"
)

// Conn is a pooled driver.Conn. It tracks the transaction opened through
// Begin so the pool can end it on return.
type Conn struct {
	raw driver.Conn

	mu  sync.Mutex
	tx  driver.Tx
	bad bool
}

var (
	_ pool.Pinger     = (*Conn)(nil)
	_ pool.Validator  = (*Conn)(nil)
	_ pool.Transactor = (*Conn)(nil)
)

// Raw returns the driver connection.
func (c *Conn) Raw() driver.Conn { return c.raw }

// Close closes the driver connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// Ping checks the connection. Drivers without driver.Pinger are reset
// through driver.SessionResetter when available.
func (c *Conn) Ping(ctx context.Context) error {
	if p, ok := c.raw.(driver.Pinger); ok {
		return c.mark(p.Ping(ctx))
	}
	if r, ok := c.raw.(driver.SessionResetter); ok {
		return c.mark(r.ResetSession(ctx))
	}
	return nil
}

// IsValid reports false once the driver has returned driver.ErrBadConn or
// reports itself invalid.
func (c *Conn) IsValid() bool {
	c.mu.Lock()
	bad := c.bad
	c.mu.Unlock()
	if bad {
		return false
	}
	if v, ok := c.raw.(driver.Validator); ok {
		return v.IsValid()
	}
	return true
}

func (c *Conn) mark(err error) error {
	if errors.Is(err, driver.ErrBadConn) {
		c.mu.Lock()
		c.bad = true
		c.mu.Unlock()
	}
	return err
}

// Begin starts a transaction that Commit or Rollback will end.
func (c *Conn) Begin(ctx context.Context, opts driver.TxOptions) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tx != nil {
		return errors.New(errors.ErrorTypeInvalidRequest, "transaction already open")
	}

	var (
		tx  driver.Tx
		err error
	)
	if b, ok := c.raw.(driver.ConnBeginTx); ok {
		tx, err = b.BeginTx(ctx, opts)
	} else {
		//nolint:staticcheck // fallback for drivers without BeginTx
		tx, err = c.raw.Begin()
	}
	if err != nil {
		if errors.Is(err, driver.ErrBadConn) {
			c.bad = true
		}
		return err
	}
	c.tx = tx
	return nil
}

// InTransaction reports whether Begin was called without a matching end.
func (c *Conn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tx != nil
}

// Rollback rolls back the open transaction, if any.
func (c *Conn) Rollback(ctx context.Context) error {
	return c.end(ctx, func(tx driver.Tx) error { return tx.Rollback() })
}

// Commit commits the open transaction, if any.
func (c *Conn) Commit(ctx context.Context) error {
	return c.end(ctx, func(tx driver.Tx) error { return tx.Commit() })
}

func (c *Conn) end(ctx context.Context, fn func(driver.Tx) error) error {
	c.mu.Lock()
	tx := c.tx
	c.tx = nil
	c.mu.Unlock()

	if tx != nil {
		if err := c.mark(fn(tx)); err != nil {
			return err
		}
	}
	if r, ok := c.raw.(driver.SessionResetter); ok {
		return c.mark(r.ResetSession(ctx))
	}
	return nil
}

// Exec runs a statement and returns the number of affected rows.
func (c *Conn) Exec(ctx context.Context, query string, args ...driver.NamedValue) (int64, error) {
	execer, ok := c.raw.(driver.ExecerContext)
	if !ok {
		return 0, errors.New(errors.ErrorTypeInvalidRequest, "driver does not support ExecContext")
	}
	res, err := execer.ExecContext(ctx, query, args)
	if err != nil {
		return 0, c.mark(err)
	}
	return res.RowsAffected()
}

// QueryRow runs a query and returns the first row, or nil when it is empty.
func (c *Conn) QueryRow(ctx context.Context, query string, args ...driver.NamedValue) ([]driver.Value, error) {
	queryer, ok := c.raw.(driver.QueryerContext)
	if !ok {
		return nil, errors.New(errors.ErrorTypeInvalidRequest, "driver does not support QueryContext")
	}
	rows, err := queryer.QueryContext(ctx, query, args)
	if err != nil {
		return nil, c.mark(err)
	}
	defer rows.Close()

	dest := make([]driver.Value, len(rows.Columns()))
	if err := rows.Next(dest); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, c.mark(err)
	}
	return dest, nil
}

// Args converts positional values into driver.NamedValue arguments.
func Args(values ...driver.Value) []driver.NamedValue {
	args := make([]driver.NamedValue, len(values))
	for i, v := range values {
		args[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
	}
	return args
}
