package pool

import (
	"context"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/ajitpratap0/dbpool/pkg/config"
	"github.com/ajitpratap0/dbpool/pkg/errors"
)

const tracerName = "github.com/ajitpratap0/dbpool/pkg/pool"

// nowFunc is replaced in tests that exercise recycle expiry.
var nowFunc = time.Now

// Pool lends physical connections to concurrent callers. All shared state
// lives behind mu, which is never held across connection I/O or listener
// calls.
type Pool struct {
	cfg      config.PoolConfig
	creator  Creator
	detector Detector
	reset    ResetMode

	baseLogger *zap.Logger
	logger     *zap.Logger
	listeners  *Listeners
	events     dispatcher
	tracer     trace.Tracer

	gen generation
	// sem holds one unit per outstanding or in-progress checkout; nil when
	// overflow is unlimited
	sem *semaphore.Weighted

	closeCtx    context.Context
	closeCancel context.CancelFunc

	mu               sync.Mutex
	idle             []*Record
	checkedOut       int
	nextFairyID      uint64
	firstConnectDone bool
	disposed         bool

	stats counters
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger. The pool adds component and pool fields.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.baseLogger = logger
		}
	}
}

// WithDetector sets the disconnect detector used for pre-ping and HandleError.
func WithDetector(d Detector) Option {
	return func(p *Pool) {
		if d != nil {
			p.detector = d
		}
	}
}

// WithListeners sets the instance-level listener registry.
func WithListeners(l *Listeners) Option {
	return func(p *Pool) {
		if l != nil {
			p.listeners = l
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pool) {
		if t != nil {
			p.tracer = t
		}
	}
}

// New creates a pool. cfg is copied; a nil cfg uses config defaults.
func New(cfg *config.PoolConfig, creator Creator, opts ...Option) (*Pool, error) {
	if creator == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "creator is required")
	}
	if cfg == nil {
		cfg = config.NewPoolConfig("default")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mode, err := ParseResetMode(cfg.ResetOnReturn)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:        *cfg,
		creator:    creator,
		detector:   DefaultDetector{},
		reset:      mode,
		baseLogger: zap.NewNop(),
		listeners:  NewListeners(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.events = dispatcher{instance: p.listeners}
	p.logger = p.baseLogger.With(
		zap.String("component", "pool"),
		zap.String("pool", cfg.Name),
	)
	if c := cfg.Capacity(); c > 0 {
		p.sem = semaphore.NewWeighted(int64(c))
	}
	p.closeCtx, p.closeCancel = context.WithCancel(context.Background())

	p.logger.Debug("pool created",
		zap.Int("size", cfg.Size),
		zap.Int("max_overflow", cfg.MaxOverflow),
		zap.Duration("timeout", cfg.Timeout),
		zap.String("reset_on_return", mode.String()))
	return p, nil
}

// Name returns the configured pool name.
func (p *Pool) Name() string { return p.cfg.Name }

// Config returns a copy of the pool configuration.
func (p *Pool) Config() config.PoolConfig { return p.cfg }

// Events returns the instance-level listener registry.
func (p *Pool) Events() *Listeners { return p.listeners }

// Generation returns the current pool generation.
func (p *Pool) Generation() uint64 { return p.gen.current() }

// Acquire checks out a connection. It returns a usable Fairy, a
// pool_exhausted error when no capacity frees up within the configured
// timeout, or the last disconnection error when every attempt found a dead
// connection.
func (p *Pool) Acquire(ctx context.Context) (*Fairy, error) {
	ctx, span := p.tracer.Start(ctx, "pool.acquire",
		trace.WithAttributes(attribute.String("pool.name", p.cfg.Name)))
	defer span.End()

	f, err := p.acquire(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("pool.record_id", f.record.id),
		attribute.Int64("pool.generation", int64(f.record.generation)),
	)
	return f, nil
}

func (p *Pool) acquire(ctx context.Context) (*Fairy, error) {
	if err := p.reserve(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	forceConnect := false
	for attempt := 1; attempt <= p.cfg.CheckoutAttempts; attempt++ {
		var (
			rec   *Record
			fresh bool
			err   error
		)
		if forceConnect {
			rec, err = p.connect(ctx)
			fresh = true
		} else {
			rec, fresh, err = p.obtain(ctx)
		}
		if err != nil {
			p.unreserve()
			return nil, err
		}

		// A failed ping means the server dropped its sessions: every idle
		// record of this generation is suspect, so start a new generation
		// and reconnect instead of pinging the rest one by one.
		if !fresh && p.cfg.PrePing && !p.detector.Ping(ctx, rec.conn) {
			lastErr = errors.Disconnection(nil, "pre-ping failed", true).
				WithDetail("record_id", rec.id)
			p.logger.Info("discarding connection that failed pre-ping",
				zap.String("record_id", rec.id),
				zap.Int("attempt", attempt))
			if err := p.discard(rec, lastErr); err != nil {
				p.unreserve()
				return nil, err
			}
			p.invalidatePoolFrom(rec.generation)
			forceConnect = true
			continue
		}

		f, ok := p.bind(rec)
		if !ok {
			lastErr = errors.Disconnection(rec.invalidReason, "connection invalidated during checkout", false).
				WithDetail("record_id", rec.id)
			if err := p.closeRecord(rec); err != nil {
				p.unreserve()
				return nil, err
			}
			continue
		}

		if err := p.events.fireCheckout(rec.conn, rec, f); err != nil {
			lastErr = asDisconnection(err)
			p.logger.Info("checkout listener rejected connection",
				zap.String("record_id", rec.id),
				zap.Int("attempt", attempt),
				zap.Error(err))
			p.unbind(f)
			if err := p.discard(rec, lastErr); err != nil {
				p.unreserve()
				return nil, err
			}
			if errors.InvalidatesPool(lastErr) {
				p.invalidatePoolFrom(rec.generation)
			}
			continue
		}

		runtime.SetFinalizer(f, finalizeFairy)
		p.logger.Debug("connection checked out",
			zap.String("record_id", rec.id),
			zap.Uint64("fairy_id", f.id),
			zap.Bool("fresh", fresh))
		return f, nil
	}

	p.unreserve()
	return nil, lastErr
}

// asDisconnection converts a checkout listener error into the disconnection
// surfaced once attempts run out.
func asDisconnection(err error) error {
	if errors.IsDisconnection(err) {
		return err
	}
	return errors.Disconnection(err, "checkout listener rejected connection", false)
}

// reserve claims one unit of checkout capacity, waiting up to the configured
// timeout. Failure leaves the pool untouched.
func (p *Pool) reserve(ctx context.Context) error {
	if p.isDisposed() {
		return errDisposed()
	}
	if p.sem == nil {
		return nil
	}
	if p.sem.TryAcquire(1) {
		return p.checkDisposedAfterReserve()
	}
	if p.cfg.Timeout <= 0 {
		return p.exhausted(0)
	}

	p.stats.waitCount.Add(1)
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(p.closeCtx, cancel)
	defer stop()

	err := p.sem.Acquire(waitCtx, 1)
	waited := time.Since(start)
	p.stats.waitNanos.Add(int64(waited))
	if err == nil {
		return p.checkDisposedAfterReserve()
	}

	switch {
	case p.closeCtx.Err() != nil:
		return errDisposed()
	case ctx.Err() != nil:
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "acquire cancelled").
			WithDetail("pool", p.cfg.Name)
	default:
		return p.exhausted(waited)
	}
}

func (p *Pool) checkDisposedAfterReserve() error {
	if p.isDisposed() {
		p.unreserve()
		return errDisposed()
	}
	return nil
}

func (p *Pool) exhausted(waited time.Duration) error {
	p.stats.exhausted.Add(1)
	p.mu.Lock()
	out := p.checkedOut
	p.mu.Unlock()
	p.logger.Debug("pool exhausted",
		zap.Int("checked_out", out),
		zap.Duration("waited", waited))
	return errors.Newf(errors.ErrorTypePoolExhausted,
		"pool limit of size %d overflow %d reached, connection timed out, timeout %s",
		p.cfg.Size, p.cfg.MaxOverflow, p.cfg.Timeout).
		WithDetail("pool", p.cfg.Name).
		WithDetail("checked_out", out)
}

func (p *Pool) unreserve() {
	if p.sem != nil {
		p.sem.Release(1)
	}
}

func errDisposed() error {
	return errors.New(errors.ErrorTypeInvalidRequest, "pool is disposed")
}

func (p *Pool) isDisposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

// obtain pops a reusable idle record, closing stale ones on the way, or
// opens a new connection. fresh reports whether the record was just created.
func (p *Pool) obtain(ctx context.Context) (rec *Record, fresh bool, err error) {
	for {
		p.mu.Lock()
		if p.disposed {
			p.mu.Unlock()
			return nil, false, errDisposed()
		}
		rec = p.popIdle()
		if rec == nil {
			p.mu.Unlock()
			break
		}
		reason := rec.staleReason(p.gen.current(), p.cfg.Recycle, nowFunc())
		if reason == "" {
			rec.state = recInFlight
			p.mu.Unlock()
			p.stats.reused.Add(1)
			return rec, false, nil
		}
		rec.state = recGone
		p.mu.Unlock()

		p.stats.recycled.Add(1)
		p.logger.Info("discarding stale connection",
			zap.String("record_id", rec.id),
			zap.String("reason", reason),
			zap.Uint64("generation", rec.generation))
		if err := p.closeRecord(rec); err != nil {
			return nil, false, err
		}
	}

	rec, err = p.connect(ctx)
	return rec, true, err
}

func (p *Pool) popIdle() *Record {
	n := len(p.idle)
	if n == 0 {
		return nil
	}
	var rec *Record
	if p.cfg.IsLIFO() {
		rec = p.idle[n-1]
		p.idle[n-1] = nil
		p.idle = p.idle[:n-1]
	} else {
		rec = p.idle[0]
		p.idle[0] = nil
		p.idle = p.idle[1:]
	}
	return rec
}

func (p *Pool) removeIdle(rec *Record) {
	for i, r := range p.idle {
		if r == rec {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			return
		}
	}
}

// connect opens a new physical connection stamped with the generation
// current when the attempt started.
func (p *Pool) connect(ctx context.Context) (*Record, error) {
	gen := p.gen.current()
	start := nowFunc()
	conn, err := p.creator(ctx)
	if err != nil {
		p.logger.Warn("failed to create connection", zap.Error(err))
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create connection").
			WithDetail("pool", p.cfg.Name)
	}
	rec := newRecord(p, conn, gen, start)
	p.stats.created.Add(1)

	p.mu.Lock()
	first := !p.firstConnectDone
	p.firstConnectDone = true
	p.mu.Unlock()

	if first {
		if err := p.events.fireConn(EventFirstConnect, conn, rec); err != nil {
			p.mu.Lock()
			p.firstConnectDone = false
			p.mu.Unlock()
			rec.state = recGone
			return nil, errors.Join(err, p.closeRecord(rec))
		}
	}
	if err := p.events.fireConn(EventConnect, conn, rec); err != nil {
		rec.state = recGone
		return nil, errors.Join(err, p.closeRecord(rec))
	}

	p.logger.Debug("connection created",
		zap.String("record_id", rec.id),
		zap.Uint64("generation", gen))
	return rec, nil
}

// bind issues a Fairy for an in-flight record. It fails if the record was
// invalidated while in flight.
func (p *Pool) bind(rec *Record) (*Fairy, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if rec.invalidated {
		rec.state = recGone
		return nil, false
	}
	p.nextFairyID++
	rec.fairyID = p.nextFairyID
	rec.state = recOut
	rec.useCount++
	rec.lastCheckout = nowFunc()
	p.checkedOut++
	return &Fairy{
		id:     rec.fairyID,
		pool:   p,
		record: rec,
		conn:   rec.conn,
		state:  StateActive,
	}, true
}

// unbind takes a rejected Fairy's record back without releasing capacity.
func (p *Pool) unbind(f *Fairy) {
	f.mu.Lock()
	f.state = StateClosed
	f.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if f.record.fairyID == f.id && f.record.state == recOut {
		f.record.fairyID = 0
		f.record.state = recInFlight
		p.checkedOut--
	}
}

func (p *Pool) owns(rec *Record, fairyID uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return rec.state == recOut && rec.fairyID == fairyID
}

// discard invalidates an in-flight record that never reached a caller.
func (p *Pool) discard(rec *Record, reason error) error {
	p.mu.Lock()
	rec.state = recGone
	rec.invalidated = true
	rec.invalidReason = reason
	p.mu.Unlock()
	p.stats.invalidated.Add(1)

	return errors.Join(
		p.events.fireInvalidate(EventInvalidate, rec.conn, rec, reason),
		p.closeRecord(rec),
	)
}

// closeRecord fires close and closes the physical connection. Driver close
// errors are logged; listener errors are returned.
func (p *Pool) closeRecord(rec *Record) error {
	err := p.events.fireConn(EventClose, rec.conn, rec)
	if cerr := rec.conn.Close(); cerr != nil {
		p.logger.Warn("error closing connection",
			zap.String("record_id", rec.id),
			zap.Error(cerr))
	}
	return err
}

// release returns a checked-out record. returned is false when the record
// was closed because reset failed or it was no longer owned by fairyID.
func (p *Pool) release(ctx context.Context, rec *Record, fairyID uint64, agent ResetAgent) (returned bool, err error) {
	p.mu.Lock()
	if rec.state != recOut || rec.fairyID != fairyID {
		p.mu.Unlock()
		return false, nil
	}
	rec.state = recInFlight
	rec.fairyID = 0
	p.mu.Unlock()

	if rerr := p.resetConn(ctx, rec, agent); rerr != nil {
		resetErr := errors.Wrap(rerr, errors.ErrorTypeResetFailure, "reset on return failed").
			WithDetail("record_id", rec.id).
			WithDetail("reset_on_return", p.reset.String())
		p.logger.Warn("reset on return failed, invalidating connection",
			zap.String("record_id", rec.id),
			zap.Error(rerr))

		p.mu.Lock()
		rec.state = recGone
		rec.invalidated = true
		rec.invalidReason = resetErr
		p.checkedOut--
		p.mu.Unlock()
		p.unreserve()
		p.stats.invalidated.Add(1)

		return false, joinOnto(resetErr,
			p.events.fireInvalidate(EventInvalidate, rec.conn, rec, resetErr),
			p.closeRecord(rec))
	}

	var errs []error
	if err := p.events.fireConn(EventReset, rec.conn, rec); err != nil {
		errs = append(errs, err)
	}
	if err := p.events.fireConn(EventCheckin, rec.conn, rec); err != nil {
		errs = append(errs, err)
	}

	now := nowFunc()
	p.mu.Lock()
	p.checkedOut--
	reason := rec.staleReason(p.gen.current(), p.cfg.Recycle, now)
	switch {
	case reason != "":
	case p.disposed:
		reason = "pool disposed"
	case len(p.idle) >= p.cfg.Size:
		reason = "pool full"
	}
	if reason == "" {
		rec.state = recIdle
		rec.returnedAt = now
		p.idle = append(p.idle, rec)
	} else {
		rec.state = recGone
	}
	p.mu.Unlock()
	p.unreserve()

	if reason != "" {
		switch reason {
		case "pool full", "pool disposed", "invalidated":
		default:
			p.stats.recycled.Add(1)
		}
		p.logger.Debug("closing returned connection",
			zap.String("record_id", rec.id),
			zap.String("reason", reason))
		if err := p.closeRecord(rec); err != nil {
			errs = append(errs, err)
		}
	} else {
		p.logger.Debug("connection checked in", zap.String("record_id", rec.id))
	}
	return true, errors.Join(errs...)
}

// joinOnto keeps primary as the returned error when nothing else failed.
func joinOnto(primary error, others ...error) error {
	for _, e := range others {
		if e != nil {
			return errors.Join(append([]error{primary}, others...)...)
		}
	}
	return primary
}

func (p *Pool) resetConn(ctx context.Context, rec *Record, agent ResetAgent) error {
	if p.reset == ResetNone {
		return nil
	}
	var tx Transactor
	if agent != nil {
		if !agent.IsActive() {
			return nil
		}
		tx = agent
	} else if t, ok := rec.conn.(Transactor); ok {
		tx = t
	} else {
		return nil
	}

	if p.cfg.ResetTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.ResetTimeout)
		defer cancel()
	}
	if p.reset == ResetCommit {
		return tx.Commit(ctx)
	}
	return tx.Rollback(ctx)
}

// invalidate closes rec. fairyID restricts it to the given holder; zero
// accepts any state.
func (p *Pool) invalidate(rec *Record, fairyID uint64, reason error) error {
	p.mu.Lock()
	if fairyID != 0 && (rec.state != recOut || rec.fairyID != fairyID) {
		p.mu.Unlock()
		return nil
	}
	wasOut := false
	switch rec.state {
	case recGone:
		p.mu.Unlock()
		return nil
	case recInFlight:
		// the goroutine holding it closes it
		if rec.invalidated {
			p.mu.Unlock()
			return nil
		}
		rec.invalidated = true
		rec.invalidReason = reason
		p.mu.Unlock()
		p.stats.invalidated.Add(1)
		err := p.events.fireInvalidate(EventInvalidate, rec.conn, rec, reason)
		if errors.InvalidatesPool(reason) {
			p.invalidatePoolFrom(rec.generation)
		}
		return err
	case recIdle:
		p.removeIdle(rec)
	case recOut:
		rec.fairyID = 0
		p.checkedOut--
		wasOut = true
	}
	rec.state = recGone
	rec.invalidated = true
	rec.invalidReason = reason
	p.mu.Unlock()
	if wasOut {
		p.unreserve()
	}
	p.stats.invalidated.Add(1)

	p.logger.Info("connection invalidated",
		zap.String("record_id", rec.id),
		zap.Error(reason))

	err := errors.Join(
		p.events.fireInvalidate(EventInvalidate, rec.conn, rec, reason),
		p.closeRecord(rec),
	)
	if errors.InvalidatesPool(reason) {
		p.invalidatePoolFrom(rec.generation)
	}
	return err
}

func (p *Pool) invalidateRecord(rec *Record, reason error) error {
	return p.invalidate(rec, 0, reason)
}

func (p *Pool) softInvalidate(rec *Record, fairyID uint64, reason error) error {
	p.mu.Lock()
	if rec.state != recOut || rec.fairyID != fairyID {
		p.mu.Unlock()
		return errors.New(errors.ErrorTypeInvalidRequest, "connection was invalidated")
	}
	if rec.softInvalidAt.IsZero() {
		rec.softInvalidAt = nowFunc()
	}
	p.mu.Unlock()

	p.logger.Info("connection soft invalidated",
		zap.String("record_id", rec.id),
		zap.Error(reason))
	return p.events.fireInvalidate(EventSoftInvalidate, rec.conn, rec, reason)
}

func (p *Pool) detach(rec *Record, fairyID uint64) error {
	p.mu.Lock()
	if rec.state != recOut || rec.fairyID != fairyID {
		p.mu.Unlock()
		return errors.New(errors.ErrorTypeInvalidRequest, "connection was invalidated")
	}
	rec.state = recGone
	rec.fairyID = 0
	p.checkedOut--
	p.mu.Unlock()
	p.unreserve()
	p.stats.detached.Add(1)

	p.logger.Debug("connection detached", zap.String("record_id", rec.id))
	return nil
}

func (p *Pool) closeDetached(conn Conn) error {
	err := p.events.fireCloseDetached(conn)
	if cerr := conn.Close(); cerr != nil {
		p.logger.Warn("error closing detached connection", zap.Error(cerr))
	}
	return err
}

// Invalidate closes the Fairy's connection and drops it from the pool.
func (p *Pool) Invalidate(f *Fairy, reason error) error {
	return f.Invalidate(reason)
}

// RecreatePool starts a new generation. Existing connections are not
// touched; each is closed the next time it is popped or returned.
func (p *Pool) RecreatePool() uint64 {
	p.mu.Lock()
	g := p.gen.advance()
	p.mu.Unlock()
	p.logger.Info("pool invalidated", zap.Uint64("generation", g))
	return g
}

// invalidatePoolFrom advances the generation only if from is still current.
func (p *Pool) invalidatePoolFrom(from uint64) {
	p.mu.Lock()
	advanced := p.gen.advanceFrom(from)
	p.mu.Unlock()
	if advanced {
		p.logger.Info("pool invalidated by disconnect", zap.Uint64("generation", from+1))
	}
}

// HandleError is the hook for code that ran a statement on f's connection.
// If the detector classifies err as a disconnect, f is invalidated and a
// disconnection error wrapping err is returned; otherwise err is returned
// unchanged.
func (p *Pool) HandleError(f *Fairy, err error) error {
	if err == nil || !p.detector.IsDisconnect(err) {
		return err
	}
	derr := errors.Disconnection(err, "connection lost",
		p.cfg.InvalidatePoolOnDisconnect || errors.InvalidatesPool(err)).
		WithDetail("record_id", f.record.id)
	if ierr := f.Invalidate(derr); ierr != nil && !errors.IsInvalidRequest(ierr) {
		return errors.Join(derr, ierr)
	}
	return derr
}

// Dispose closes every idle connection and stops the pool. Waiting Acquire
// calls fail; outstanding Fairies may still be closed and their connections
// are closed rather than recycled.
func (p *Pool) Dispose() error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.disposed = true
	idle := p.idle
	p.idle = nil
	for _, rec := range idle {
		rec.state = recGone
	}
	out := p.checkedOut
	p.mu.Unlock()
	p.closeCancel()

	var errs []error
	for _, rec := range idle {
		if err := p.closeRecord(rec); err != nil {
			errs = append(errs, err)
		}
	}
	p.logger.Info("pool disposed",
		zap.Int("closed", len(idle)),
		zap.Int("checked_out", out))
	return errors.Join(errs...)
}

// Recreate returns a new, empty pool with the same configuration, creator,
// detector and instance listeners. The receiver is left untouched.
func (p *Pool) Recreate() (*Pool, error) {
	cfg := p.cfg
	p.logger.Info("pool recreating")
	return New(&cfg, p.creator,
		WithLogger(p.baseLogger),
		WithDetector(p.detector),
		WithListeners(p.listeners.Clone()),
		WithTracer(p.tracer),
	)
}
