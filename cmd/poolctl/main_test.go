package main

import (
	"bytes"
	"context"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ajitpratap0/dbpool/pkg/config"
	"github.com/ajitpratap0/dbpool/pkg/errors"
	"github.com/ajitpratap0/dbpool/pkg/pool"
	"github.com/ajitpratap0/dbpool/pkg/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func sqliteConfig(t *testing.T, name string) *config.PoolConfig {
	t.Helper()
	cfg := config.NewPoolConfig(name)
	cfg.Size = 2
	cfg.MaxOverflow = 0
	cfg.Timeout = 50 * time.Millisecond
	cfg.Logging.Level = "error"
	cfg.Driver = config.DriverConfig{Name: "sqlite", DSN: filepath.Join(t.TempDir(), name+".db")}
	return cfg
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "poolctl v"+version)
}

func TestValidateJSON(t *testing.T) {
	path := writeFile(t, "pool.yaml", `
name: orders
size: 7
max_overflow: 3
timeout: 2s
driver:
  name: pgx
  dsn: postgres://app:secret@db/orders
`)
	out, err := execute(t, "validate", "-c", path, "-o", "json")
	require.NoError(t, err)

	var cfg config.PoolConfig
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, "orders", cfg.Name)
	assert.Equal(t, 7, cfg.Size)
	assert.Equal(t, 2*time.Second, cfg.Timeout)
	assert.Equal(t, "********", cfg.Driver.DSN)
	assert.NotContains(t, out, "secret")
}

func TestValidateFlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "pool.yaml", "size: 1\n")
	out, err := execute(t, "validate", "-c", path, "--driver", "sqlite", "--dsn", "file:x.db")
	require.NoError(t, err)
	assert.Contains(t, out, "name: sqlite")
}

func TestValidateRejectsInvalidConfig(t *testing.T) {
	path := writeFile(t, "pool.yaml", "size: -1\nuse_fifo: true\nuse_lifo: true\n")
	_, err := execute(t, "validate", "-c", path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "mutually exclusive")
}

func TestValidateUnknownFormat(t *testing.T) {
	_, err := execute(t, "validate", "-o", "xml")
	assert.Error(t, err)
}

func TestOpenPoolUnknownDriver(t *testing.T) {
	cfg := sqliteConfig(t, "unknown")
	cfg.Driver.Name = "oracle"
	_, err := openPool(context.Background(), cfg, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRunBench(t *testing.T) {
	cfg := sqliteConfig(t, "bench")
	rp, err := openPool(context.Background(), cfg, prometheus.NewRegistry())
	require.NoError(t, err)
	defer rp.close(context.Background())

	report, err := runBench(context.Background(), rp.pool, benchOptions{
		Clients:  4,
		Duration: 300 * time.Millisecond,
		Hold:     5 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Positive(t, report.Acquired)
	assert.Zero(t, report.Failed)
	assert.LessOrEqual(t, report.Stats.Created, int64(2))
	assert.LessOrEqual(t, report.P50, report.P99)
	if report.Process != nil {
		assert.Positive(t, report.Process.RSSBytes)
	}

	_, err = runBench(context.Background(), rp.pool, benchOptions{})
	assert.Error(t, err)
}

func TestServeMuxAndStatus(t *testing.T) {
	cfg := sqliteConfig(t, "serve")
	reg := prometheus.NewRegistry()
	rp, err := openPool(context.Background(), cfg, reg)
	require.NoError(t, err)
	defer rp.close(context.Background())
	require.NotNil(t, rp.collector)

	srv := httptest.NewServer(newServeMux(rp.pool, reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	stats, err := fetchStatus(context.Background(), srv.URL, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Idle)
	assert.Equal(t, int64(1), stats.Created)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	var body bytes.Buffer
	_, _ = body.ReadFrom(resp.Body)
	resp.Body.Close()
	assert.Contains(t, body.String(), `dbpool_idle_connections{pool="serve"} 1`)

	out, err := execute(t, "status", "--addr", srv.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "Connections in pool: 1")
}

func TestFetchStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := fetchStatus(context.Background(), srv.URL, time.Second)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConnection))
}

func TestBenchReportJSON(t *testing.T) {
	r := BenchReport{Acquired: 3, P50: time.Millisecond}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"acquired":3`)
}

func TestListenLimitsConnections(t *testing.T) {
	ln, err := listen("127.0.0.1:0", 1)
	require.NoError(t, err)
	defer ln.Close()
	assert.NotEmpty(t, ln.Addr().String())

	_, err = listen("256.0.0.1:0", 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func fakePool(t *testing.T) *pool.Pool {
	t.Helper()
	cfg := config.NewPoolConfig(t.Name())
	cfg.Timeout = 100 * time.Millisecond
	p, err := pool.New(cfg, testutil.NewFakeCreator().Creator(), pool.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Dispose() })
	return p
}

func TestExerciseReturnsConnection(t *testing.T) {
	p := fakePool(t)
	f, err := p.Acquire(context.Background())
	require.NoError(t, err)

	require.NoError(t, exercise(context.Background(), p, f, time.Millisecond))
	assert.Equal(t, pool.StateReturned, f.State())
	assert.Equal(t, 0, p.Stats().CheckedOut)
	assert.Equal(t, 1, p.Stats().Idle)
}

func TestExercisePingFailures(t *testing.T) {
	errBusy := stderrors.New("server busy")

	t.Run("non-disconnect error returns the connection", func(t *testing.T) {
		p := fakePool(t)
		f, err := p.Acquire(context.Background())
		require.NoError(t, err)
		conn, err := f.Conn()
		require.NoError(t, err)
		conn.(*testutil.FakeConn).FailPing(errBusy)

		err = exercise(context.Background(), p, f, time.Millisecond)
		assert.ErrorIs(t, err, errBusy)
		assert.Equal(t, pool.StateReturned, f.State())
		stats := p.Stats()
		assert.Equal(t, 0, stats.CheckedOut, "checkout must not leak")
		assert.Equal(t, 1, stats.Idle)
		assert.Zero(t, stats.Invalidated)
	})

	t.Run("disconnect invalidates the connection", func(t *testing.T) {
		p := fakePool(t)
		f, err := p.Acquire(context.Background())
		require.NoError(t, err)
		conn, err := f.Conn()
		require.NoError(t, err)
		fc := conn.(*testutil.FakeConn)
		fc.Kill()

		err = exercise(context.Background(), p, f, time.Millisecond)
		assert.True(t, errors.IsDisconnection(err))
		assert.Equal(t, pool.StateClosed, f.State())
		assert.True(t, fc.Closed())
		stats := p.Stats()
		assert.Equal(t, 0, stats.CheckedOut)
		assert.Equal(t, 0, stats.Idle)
		assert.Equal(t, int64(1), stats.Invalidated)
	})
}
