// Package pgxconn pools native pgx/v5 PostgreSQL connections.
package pgxconn

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ajitpratap0/dbpool/pkg/errors"
	"github.com/ajitpratap0/dbpool/pkg/pool"
)

// CloseTimeout bounds the Terminate message sent when a connection is closed.
const CloseTimeout = 5 * time.Second

// Transaction status bytes reported by the server in ReadyForQuery.
const (
	txIdle   = 'I'
	txActive = 'T'
	txFailed = 'E'
)

// Conn is a pooled *pgx.Conn.
type Conn struct {
	conn *pgx.Conn
}

var (
	_ pool.Pinger     = (*Conn)(nil)
	_ pool.Validator  = (*Conn)(nil)
	_ pool.Transactor = (*Conn)(nil)
)

// Raw returns the pgx connection for running queries.
func (c *Conn) Raw() *pgx.Conn { return c.conn }

// Close terminates the session.
func (c *Conn) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), CloseTimeout)
	defer cancel()
	return c.conn.Close(ctx)
}

// Ping runs an empty statement on the server.
func (c *Conn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// IsValid reports whether the underlying socket is still open.
func (c *Conn) IsValid() bool {
	return !c.conn.IsClosed()
}

// InTransaction reports whether the server has an open or failed transaction.
func (c *Conn) InTransaction() bool {
	s := c.conn.PgConn().TxStatus()
	return s == txActive || s == txFailed
}

// Rollback ends any open transaction.
func (c *Conn) Rollback(ctx context.Context) error {
	if !c.InTransaction() {
		return nil
	}
	_, err := c.conn.Exec(ctx, "ROLLBACK")
	return err
}

// Commit commits any open transaction. A failed transaction is rolled back
// by the server and reported as an error.
func (c *Conn) Commit(ctx context.Context) error {
	switch c.conn.PgConn().TxStatus() {
	case txIdle:
		return nil
	case txFailed:
		if _, err := c.conn.Exec(ctx, "ROLLBACK"); err != nil {
			return err
		}
		return errors.New(errors.ErrorTypeResetFailure, "transaction was aborted and has been rolled back")
	}
	_, err := c.conn.Exec(ctx, "COMMIT")
	return err
}

// NewCreator parses dsn once and returns a Creator that opens a pgx
// connection per call.
func NewCreator(dsn string) (pool.Creator, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid postgres dsn")
	}
	return Creator(cfg), nil
}

// Creator returns a Creator for an already parsed config.
func Creator(cfg *pgx.ConnConfig) pool.Creator {
	return func(ctx context.Context) (pool.Conn, error) {
		conn, err := pgx.ConnectConfig(ctx, cfg.Copy())
		if err != nil {
			return nil, err
		}
		return &Conn{conn: conn}, nil
	}
}

// Detector adds PostgreSQL connection exception and shutdown SQLSTATEs to
// pool.DefaultDetector.
type Detector struct {
	pool.DefaultDetector
}

var _ pool.Detector = Detector{}

// IsDisconnect implements pool.Detector.
func (d Detector) IsDisconnect(err error) bool {
	if d.DefaultDetector.IsDisconnect(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return IsDisconnectCode(pgErr.Code)
	}
	return pgconn.Timeout(err)
}

// IsDisconnectCode reports whether a SQLSTATE ends the session: class 08
// (connection exception), admin or crash shutdown, and idle session timeouts.
func IsDisconnectCode(code string) bool {
	if len(code) == 5 && code[:2] == "08" {
		return true
	}
	switch code {
	case "57P01", // admin_shutdown
		"57P02", // crash_shutdown
		"57P03", // cannot_connect_now
		"57P05", // idle_session_timeout
		"25P03": // idle_in_transaction_session_timeout
		return true
	}
	return false
}
