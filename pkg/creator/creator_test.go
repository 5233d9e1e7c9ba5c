package creator

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ajitpratap0/dbpool/pkg/config"
	"github.com/ajitpratap0/dbpool/pkg/errors"
	"github.com/ajitpratap0/dbpool/pkg/pool"
	"github.com/ajitpratap0/dbpool/pkg/testutil"
)

var errRefused = stderrors.New("connection refused")

func TestCircuitBreakerTransitions(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{
		FailureThreshold: 2,
		SuccessThreshold: 1,
		Timeout:          50 * time.Millisecond,
	}, testutil.TestLogger(t))

	assert.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateClosed, cb.State())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.Allow())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "only one trial connect while half-open")

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())

	snap := cb.Snapshot()
	assert.Equal(t, "closed", snap.State)
	assert.Equal(t, int64(2), snap.Rejected)
}

func TestCircuitBreakerReopensOnHalfOpenFailure(t *testing.T) {
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, Timeout: 10 * time.Millisecond}, nil)
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)
	require.True(t, cb.Allow())
	cb.RecordFailure()
	assert.Equal(t, StateOpen, cb.State())
}

func TestWithBreaker(t *testing.T) {
	fake := testutil.NewFakeCreator()
	fake.FailNext(errRefused, errRefused)
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 2, Timeout: time.Hour}, nil)
	c := WithBreaker(cb)(fake.Creator())

	for i := 0; i < 2; i++ {
		_, err := c(context.Background())
		assert.ErrorIs(t, err, errRefused)
	}

	_, err := c(context.Background())
	require.Error(t, err)
	assert.True(t, isBreakerOpen(err))
	assert.Equal(t, 0, fake.Created())
}

func TestWithRetry(t *testing.T) {
	fake := testutil.NewFakeCreator()
	fake.FailNext(errRefused, errRefused)
	c := WithRetry(RetryPolicy{MaxRetries: 3, InitialInterval: time.Millisecond}, nil)(fake.Creator())

	conn, err := c(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, conn)
	assert.Equal(t, 1, fake.Created())
}

func TestWithRetryGivesUp(t *testing.T) {
	fake := testutil.NewFakeCreator()
	fake.FailNext(errRefused, errRefused, errRefused)
	c := WithRetry(RetryPolicy{MaxRetries: 1, InitialInterval: time.Millisecond}, nil)(fake.Creator())

	_, err := c(context.Background())
	assert.ErrorIs(t, err, errRefused)

	// one failure is left in the script
	_, err = fake.Create(context.Background())
	assert.ErrorIs(t, err, errRefused)
}

func TestWithRetryStopsOnOpenBreaker(t *testing.T) {
	fake := testutil.NewFakeCreator()
	fake.FailNext(errRefused, errRefused, errRefused, errRefused)
	cb := NewCircuitBreaker(BreakerConfig{FailureThreshold: 1, Timeout: time.Hour}, nil)

	calls := 0
	counting := func(next pool.Creator) pool.Creator {
		return func(ctx context.Context) (pool.Conn, error) {
			calls++
			return next(ctx)
		}
	}
	c := Chain(fake.Creator(),
		WithRetry(RetryPolicy{MaxRetries: 5, InitialInterval: time.Millisecond}, nil),
		counting,
		WithBreaker(cb),
	)

	_, err := c(context.Background())
	require.Error(t, err)
	assert.True(t, isBreakerOpen(err))
	assert.Equal(t, 2, calls, "first call fails and opens the breaker, second is rejected")
}

func TestWithRateLimitHonoursContext(t *testing.T) {
	fake := testutil.NewFakeCreator()
	c := WithRateLimit(rate.NewLimiter(rate.Every(time.Hour), 1))(fake.Creator())

	_, err := c(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
	assert.Equal(t, 1, fake.Created())
}

func TestFromConfigWithPool(t *testing.T) {
	fake := testutil.NewFakeCreator()
	fake.FailNext(errRefused)

	cfg := config.NewPoolConfig("creator")
	cfg.Connect.Retries = 2
	cfg.Connect.RetryInitialInterval = time.Millisecond
	cfg.Connect.BreakerFailureThreshold = 5
	cfg.Connect.RateLimitPerSec = 1000
	cfg.Connect.RateBurst = 10

	p, err := pool.New(cfg, FromConfig(cfg.Connect, fake.Creator(), nil))
	require.NoError(t, err)
	defer p.Dispose()

	f, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, fake.Created())
	require.NoError(t, f.Close())
}

func TestFromConfigNoMiddleware(t *testing.T) {
	fake := testutil.NewFakeCreator()
	fake.FailNext(errRefused)
	c := FromConfig(config.ConnectConfig{}, fake.Creator(), nil)

	_, err := c(context.Background())
	assert.ErrorIs(t, err, errRefused)
}
