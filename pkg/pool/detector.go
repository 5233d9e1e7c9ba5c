package pool

import (
	"context"
	"database/sql/driver"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/ajitpratap0/dbpool/pkg/errors"
)

// Detector classifies driver errors and pings idle connections. Driver
// integrations supply their own; DefaultDetector covers the generic cases.
type Detector interface {
	// IsDisconnect reports whether err means the connection is dead.
	IsDisconnect(err error) bool
	// Ping reports whether conn is still usable.
	Ping(ctx context.Context, conn Conn) bool
}

// DefaultDetector recognizes driver.ErrBadConn, EOF, closed or reset
// sockets, network errors and Disconnection errors. It pings through the
// Validator and Pinger capabilities; a connection with neither is assumed
// alive.
type DefaultDetector struct {
	// PingTimeout bounds a single Ping call; zero uses the caller's context.
	PingTimeout time.Duration
}

var _ Detector = DefaultDetector{}

// IsDisconnect implements Detector.
func (d DefaultDetector) IsDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.IsDisconnection(err) {
		return true
	}
	for _, target := range []error{
		driver.ErrBadConn,
		io.EOF,
		io.ErrUnexpectedEOF,
		net.ErrClosed,
		syscall.ECONNRESET,
		syscall.ECONNABORTED,
		syscall.EPIPE,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Ping implements Detector.
func (d DefaultDetector) Ping(ctx context.Context, conn Conn) bool {
	if v, ok := conn.(Validator); ok && !v.IsValid() {
		return false
	}
	p, ok := conn.(Pinger)
	if !ok {
		return true
	}
	if d.PingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.PingTimeout)
		defer cancel()
	}
	return p.Ping(ctx) == nil
}
