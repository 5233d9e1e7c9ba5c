package pool

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/dbpool/pkg/config"
	"github.com/ajitpratap0/dbpool/pkg/errors"
)

// Conn is a physical connection produced by a Creator. The pool only needs
// to close it; liveness probing and transaction cleanup are optional
// capabilities discovered through Pinger, Validator and Transactor.
type Conn interface {
	Close() error
}

// Pinger is implemented by connections that can run a lightweight liveness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Validator is implemented by connections that track their own health.
type Validator interface {
	IsValid() bool
}

// Transactor is implemented by connections whose open transaction can be
// ended during reset-on-return.
type Transactor interface {
	Rollback(ctx context.Context) error
	Commit(ctx context.Context) error
}

// Creator opens a new physical connection. It is called without the pool
// lock held and may block on network I/O.
type Creator func(ctx context.Context) (Conn, error)

// ResetAgent is the transaction object that finalizes the work done on a
// checked-out connection before it is recycled. When set on a Fairy and
// still active, it is used instead of the connection's own Transactor.
type ResetAgent interface {
	Transactor
	IsActive() bool
}

// ResetMode is the cleanup applied to a connection when it is returned.
type ResetMode int

const (
	// ResetRollback rolls back any open transaction (default)
	ResetRollback ResetMode = iota
	// ResetCommit commits any open transaction
	ResetCommit
	// ResetNone leaves the connection untouched
	ResetNone
)

// String returns the configuration spelling of the mode.
func (m ResetMode) String() string {
	switch m {
	case ResetRollback:
		return config.ResetRollback
	case ResetCommit:
		return config.ResetCommit
	case ResetNone:
		return config.ResetNone
	default:
		return fmt.Sprintf("ResetMode(%d)", int(m))
	}
}

// ParseResetMode parses rollback, commit or none. The empty string means rollback.
func ParseResetMode(s string) (ResetMode, error) {
	switch s {
	case config.ResetRollback, "":
		return ResetRollback, nil
	case config.ResetCommit:
		return ResetCommit, nil
	case config.ResetNone:
		return ResetNone, nil
	default:
		return ResetRollback, errors.Newf(errors.ErrorTypeConfig, "unknown reset_on_return %q", s)
	}
}
