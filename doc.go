// Package dbpool is a database connection pool: it keeps a bounded set of
// physical connections open, hands them out as checkout handles, returns
// them after a rollback and discards them when the database goes away.
//
// # Architecture
//
// The pool is built around a few cooperating pieces:
//
// 1. Connection records: one per physical connection, carrying its creation
// time, generation, invalidation state and a user info map.
//
// 2. Checkout handles (pool.Fairy): the only way callers touch a connection.
// Closing the handle resets the connection and returns it; a handle that is
// dropped without Close is reclaimed by a finalizer.
//
// 3. Generations: a pool-wide counter. Disconnect errors and RecreatePool
// advance it, and every connection stamped with an older generation is
// closed lazily the next time it is touched.
//
// 4. Events: connect, first_connect, checkout, checkin, reset, invalidate,
// soft_invalidate, close, detach and close_detached listeners, per pool and
// global.
//
// # Quick Start
//
//	import (
//	    "context"
//	    "github.com/ajitpratap0/dbpool/pkg/config"
//	    "github.com/ajitpratap0/dbpool/pkg/drivers/pgxconn"
//	    "github.com/ajitpratap0/dbpool/pkg/pool"
//	)
//
//	cfg := config.NewPoolConfig("orders")
//	cfg.Size = 10
//	cfg.PrePing = true
//
//	creator, _ := pgxconn.NewCreator("postgres://app@db/orders")
//	p, _ := pool.New(cfg, creator, pool.WithDetector(pgxconn.Detector{}))
//	defer p.Dispose()
//
//	f, err := p.Acquire(context.Background())
//	if err != nil {
//	    return err
//	}
//	defer f.Close()
//	c, err := f.Conn()
//	if err != nil {
//	    return err
//	}
//	conn := c.(*pgxconn.Conn).Raw()
//
// # Key Packages
//
//	pkg/pool          - Pool, checkout handles, records, events, disconnect detection
//	pkg/creator       - Connect middleware: retry, circuit breaker, rate limit, tracing
//	pkg/drivers       - pgx, go-mysql and database/sql driver integrations
//	pkg/config        - Pool configuration, YAML and viper loading
//	pkg/errors        - Structured error types
//	pkg/logger        - Structured logging
//	pkg/metrics       - Prometheus collectors
//	pkg/observability - OpenTelemetry tracer provider
//	cmd/poolctl       - Validate configs, benchmark and serve pool status
//
// # Configuration
//
// Every key of config.PoolConfig can be set from YAML, JSON or TOML and
// overridden with a DBPOOL_ environment variable:
//
//	DBPOOL_SIZE=10 DBPOOL_DRIVER_NAME=pgx DBPOOL_DRIVER_DSN=postgres://db/app poolctl bench
package dbpool
