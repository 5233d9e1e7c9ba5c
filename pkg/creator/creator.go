// Package creator provides middleware around a pool.Creator: connect rate
// limiting, a circuit breaker, retry with exponential backoff and tracing.
//
// FromConfig assembles the chain described by a config.ConnectConfig:
//
//	base := pgxconn.Creator(dsn)
//	c := creator.FromConfig(cfg.Connect, base, logger)
//	p, err := pool.New(cfg, c)
package creator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/dbpool/pkg/config"
	"github.com/ajitpratap0/dbpool/pkg/errors"
	"github.com/ajitpratap0/dbpool/pkg/pool"
)

// Middleware decorates a Creator.
type Middleware func(pool.Creator) pool.Creator

// Chain applies mws to c so that the first middleware is outermost.
func Chain(c pool.Creator, mws ...Middleware) pool.Creator {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}

// WithRateLimit blocks each connect until the limiter admits it.
func WithRateLimit(limiter *rate.Limiter) Middleware {
	return func(next pool.Creator) pool.Creator {
		return func(ctx context.Context) (pool.Conn, error) {
			if err := limiter.Wait(ctx); err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "connect rate limit wait failed")
			}
			return next(ctx)
		}
	}
}

// ErrBreakerOpen is the message of the error returned while the breaker rejects connects.
const ErrBreakerOpen = "circuit breaker is open"

// WithBreaker fails connects fast while cb is open.
func WithBreaker(cb *CircuitBreaker) Middleware {
	return func(next pool.Creator) pool.Creator {
		return func(ctx context.Context) (pool.Conn, error) {
			if !cb.Allow() {
				return nil, errors.New(errors.ErrorTypeConnection, ErrBreakerOpen).
					WithDetail("breaker_state", cb.State().String())
			}
			conn, err := next(ctx)
			if err != nil {
				cb.RecordFailure()
				return nil, err
			}
			cb.RecordSuccess()
			return conn, nil
		}
	}
}

// RetryPolicy bounds WithRetry.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (r RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if r.InitialInterval > 0 {
		b.InitialInterval = r.InitialInterval
	}
	if r.MaxInterval > 0 {
		b.MaxInterval = r.MaxInterval
	}
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(r.MaxRetries)), ctx)
}

// WithRetry retries failed connects with exponential backoff. An open
// breaker or a cancelled context stops retrying.
func WithRetry(policy RetryPolicy, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next pool.Creator) pool.Creator {
		return func(ctx context.Context) (pool.Conn, error) {
			var conn pool.Conn
			attempt := 0
			op := func() error {
				attempt++
				c, err := next(ctx)
				if err != nil {
					if ctx.Err() != nil || isBreakerOpen(err) {
						return backoff.Permanent(err)
					}
					return err
				}
				conn = c
				return nil
			}
			notify := func(err error, wait time.Duration) {
				logger.Debug("connect failed, retrying",
					zap.Int("attempt", attempt),
					zap.Duration("backoff", wait),
					zap.Error(err))
			}
			if err := backoff.RetryNotify(op, policy.backOff(ctx), notify); err != nil {
				return nil, err
			}
			return conn, nil
		}
	}
}

func isBreakerOpen(err error) bool {
	var e *errors.Error
	return errors.As(err, &e) && e.Message == ErrBreakerOpen
}

// WithTracing wraps each connect in a span. A nil tracer uses the global provider.
func WithTracing(tracer trace.Tracer, poolName string) Middleware {
	if tracer == nil {
		tracer = otel.Tracer("github.com/ajitpratap0/dbpool/pkg/creator")
	}
	return func(next pool.Creator) pool.Creator {
		return func(ctx context.Context) (pool.Conn, error) {
			ctx, span := tracer.Start(ctx, "pool.connect",
				trace.WithAttributes(attribute.String("pool.name", poolName)))
			defer span.End()

			conn, err := next(ctx)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return conn, err
		}
	}
}

// FromConfig wraps base with the middleware enabled in cfg: retry outermost,
// then the breaker, then the rate limiter, so every retry is both limited
// and counted by the breaker.
func FromConfig(cfg config.ConnectConfig, base pool.Creator, logger *zap.Logger) pool.Creator {
	var mws []Middleware
	if cfg.Retries > 0 {
		mws = append(mws, WithRetry(RetryPolicy{
			MaxRetries:      cfg.Retries,
			InitialInterval: cfg.RetryInitialInterval,
			MaxInterval:     cfg.RetryMaxInterval,
		}, logger))
	}
	if cfg.IsBreakerEnabled() {
		mws = append(mws, WithBreaker(NewCircuitBreaker(BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			SuccessThreshold: cfg.BreakerSuccessThreshold,
			Timeout:          cfg.BreakerTimeout,
		}, logger)))
	}
	if cfg.IsRateLimited() {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		mws = append(mws, WithRateLimit(rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), burst)))
	}
	return Chain(base, mws...)
}
