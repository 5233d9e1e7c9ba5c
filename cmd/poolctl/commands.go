package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/dbpool/pkg/config"
	"github.com/ajitpratap0/dbpool/pkg/errors"
	"github.com/ajitpratap0/dbpool/pkg/logger"
	"github.com/ajitpratap0/dbpool/pkg/metrics"
	"github.com/ajitpratap0/dbpool/pkg/pool"
)

func newValidateCmd(g *globalFlags, v *viper.Viper) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a pool configuration and print the effective settings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, v)
			if err != nil {
				return err
			}
			return writeConfig(cmd.OutOrStdout(), cfg, format)
		},
	}
	cmd.Flags().StringVarP(&format, "output", "o", "yaml", "Output format (yaml, json)")
	return cmd
}

func writeConfig(w io.Writer, cfg *config.PoolConfig, format string) error {
	redacted := *cfg
	if redacted.Driver.DSN != "" {
		redacted.Driver.DSN = "********"
	}
	switch format {
	case "json":
		data, err := json.MarshalIndent(&redacted, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(&redacted); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.Newf(errors.ErrorTypeConfig, "unknown output format %q", format)
	}
}

// benchOptions controls a bench run.
type benchOptions struct {
	Clients  int
	Duration time.Duration
	Hold     time.Duration
}

// BenchReport summarizes a bench run.
type BenchReport struct {
	Acquired  int64         `json:"acquired"`
	Exhausted int64         `json:"exhausted"`
	Failed    int64         `json:"failed"`
	P50       time.Duration `json:"p50"`
	P95       time.Duration `json:"p95"`
	P99       time.Duration `json:"p99"`
	Stats     pool.Stats    `json:"stats"`
	// Process is sampled after the run while the pool is still open
	Process *ProcessUsage `json:"process,omitempty"`
}

func newBenchCmd(g *globalFlags, v *viper.Viper) *cobra.Command {
	opts := benchOptions{}
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Hammer a pool with concurrent checkouts and report latency",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, v)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rp, err := openPool(ctx, cfg, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer rp.close(context.Background())

			report, err := runBench(ctx, rp.pool, opts)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.Clients, "clients", 10, "Number of concurrent clients")
	cmd.Flags().DurationVar(&opts.Duration, "duration", 10*time.Second, "How long to run")
	cmd.Flags().DurationVar(&opts.Hold, "hold", time.Millisecond, "How long each client holds a connection")
	return cmd
}

func runBench(ctx context.Context, p *pool.Pool, opts benchOptions) (*BenchReport, error) {
	if opts.Clients < 1 {
		return nil, errors.New(errors.ErrorTypeConfig, "clients must be >= 1")
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Duration)
	defer cancel()

	var acquired, exhausted, failed atomic.Int64
	latency := metrics.NewLatencyTracker(100000)
	ctx = logger.ContextWithPool(ctx, p.Name())

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < opts.Clients; i++ {
		g.Go(func() error {
			for ctx.Err() == nil {
				timer := metrics.NewTimer("acquire")
				f, err := p.Acquire(ctx)
				d := timer.Stop()
				metrics.ObserveAcquire(p.Name(), d, err)
				switch {
				case err == nil:
				case ctx.Err() != nil:
					return nil
				case errors.IsExhausted(err):
					exhausted.Add(1)
					continue
				default:
					failed.Add(1)
					continue
				}
				acquired.Add(1)
				latency.Record(d)

				if err := exercise(ctx, p, f, opts.Hold); err != nil && ctx.Err() == nil {
					failed.Add(1)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &BenchReport{
		Acquired:  acquired.Load(),
		Exhausted: exhausted.Load(),
		Failed:    failed.Load(),
		P50:       latency.GetPercentile(50),
		P95:       latency.GetPercentile(95),
		P99:       latency.GetPercentile(99),
		Stats:     p.Stats(),
	}
	if usage, err := sampleProcess(); err == nil {
		report.Process = usage
	}
	return report, nil
}

// exercise pings a checked-out connection, holds it for hold and returns it.
// A failed ping goes through HandleError; the handle is closed unless that
// already invalidated it.
func exercise(ctx context.Context, p *pool.Pool, f *pool.Fairy, hold time.Duration) error {
	log := logger.WithContext(logger.ContextWithConnection(ctx, f.Record().ID()))
	conn, err := f.Conn()
	if err != nil {
		return err
	}
	if pinger, ok := conn.(pool.Pinger); ok {
		if err := pinger.Ping(ctx); err != nil {
			herr := p.HandleError(f, err)
			invalidated := f.State() != pool.StateActive
			log.Debug("ping failed", zap.Error(err), zap.Bool("invalidated", invalidated))
			if !invalidated {
				if cerr := f.Close(); cerr != nil {
					return errors.Join(herr, cerr)
				}
			}
			return herr
		}
	}
	select {
	case <-time.After(hold):
	case <-ctx.Done():
	}
	return f.Close()
}

func newServeCmd(g *globalFlags, v *viper.Viper) *cobra.Command {
	var addr string
	var maxConns int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Open a pool and serve /metrics, /status and /healthz until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(g, v)
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Observability.MetricsAddr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rp, err := openPool(ctx, cfg, prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			defer rp.close(context.Background())

			ln, err := listen(addr, maxConns)
			if err != nil {
				return err
			}
			srv := &http.Server{
				Handler:           newServeMux(rp.pool, prometheus.DefaultGatherer),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errc := make(chan error, 1)
			go func() { errc <- srv.Serve(ln) }()
			rp.log.Info("serving pool status",
				zap.String("addr", ln.Addr().String()),
				zap.Int("max_conns", maxConns))

			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to observability.metrics_addr)")
	cmd.Flags().IntVar(&maxConns, "max-conns", 64, "Maximum concurrent HTTP connections (0 = unlimited)")
	return cmd
}

// listen opens addr and caps concurrent connections so /healthz checks
// cannot queue unbounded Acquire calls.
func listen(addr string, maxConns int) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to listen").WithDetail("addr", addr)
	}
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

// requestContext tags r's context with the pool name and a request id for
// logger.WithContext. X-Request-ID is honoured when present.
func requestContext(r *http.Request, p *pool.Pool) context.Context {
	id := r.Header.Get("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	return logger.ContextWithRequest(logger.ContextWithPool(r.Context(), p.Name()), id)
}

func newServeMux(p *pool.Pool, gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(p.Stats()); err != nil {
			logger.WithContext(requestContext(r, p)).Warn("failed to write status", zap.Error(err))
		}
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(requestContext(r, p), 5*time.Second)
		defer cancel()
		f, err := p.Acquire(ctx)
		if err != nil {
			logger.WithContext(ctx).Warn("health check failed", zap.Error(err))
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		log := logger.WithContext(logger.ContextWithConnection(ctx, f.Record().ID()))
		if err := f.Close(); err != nil {
			log.Warn("health check return failed", zap.Error(err))
		}
		log.Debug("health check passed")
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func newStatusCmd() *cobra.Command {
	var addr string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print the status of a pool served by poolctl serve",
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := fetchStatus(cmd.Context(), addr, timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), stats.String())
			fmt.Fprintf(cmd.OutOrStdout(), "Generation: %d  Created: %d  Invalidated: %d  Exhausted: %d\n",
				stats.Generation, stats.Created, stats.Invalidated, stats.Exhausted)
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:9090", "Base URL of poolctl serve")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Request timeout")
	return cmd
}

func fetchStatus(ctx context.Context, addr string, timeout time.Duration) (*pool.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, addr+"/status", nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid status address")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "status request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf(errors.ErrorTypeConnection, "status request returned %s", resp.Status)
	}
	var stats pool.Stats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to decode status")
	}
	return &stats, nil
}
