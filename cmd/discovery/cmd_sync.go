package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/yairfalse/discovery/internal/daemon"
	"github.com/yairfalse/discovery/internal/job"
	"github.com/yairfalse/discovery/internal/telemetry"
)

var (
	syncInterval    time.Duration
	syncMetricsAddr string
)

// syncCmd represents the sync command
var syncCmd = &cobra.Command{
	Use:   "sync <job>",
	Short: "Run a sync job",
	Long: `Run one sync job: reset its snapshot tables, run its sources in order,
then publish every report configured under sheets.reports.

Jobs:
  aws        AWS organization accounts and EC2 instances + Qualys AWS assets
  openstack  OpenStack projects and servers + Qualys OpenStack assets
  nmap       Network scan of every configured datacenter range`,
	Example: `  discovery sync aws -c aws.yaml                          # Run once
  discovery sync nmap -c nmap.yaml --interval 6h          # Re-run every 6 hours
  discovery sync openstack --interval 1h --metrics-addr :9090`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().DurationVar(&syncInterval, "interval", 0, "Re-run the job on this interval (0 runs once)")
	syncCmd.Flags().StringVar(&syncMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
}

// tracedJob wraps every cycle in a span.
type tracedJob struct {
	runner   *job.Runner
	provider *telemetry.Provider
}

func (j tracedJob) Name() string { return j.runner.Name() }

func (j tracedJob) Run(ctx context.Context) error {
	ctx, span := j.provider.StartSpan(ctx, "sync")
	defer span.End()
	span.SetAttributes(attribute.String("job", j.runner.Name()))

	err := j.runner.Run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func runSync(cmd *cobra.Command, args []string) error {
	name := args[0]
	if _, err := job.Lookup(name); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	provider, err := telemetry.NewProvider(ctx, cfg.OTEL, telemetry.Options{Prometheus: syncMetricsAddr != ""})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()
	metrics := provider.Metrics()

	registerSources(cfg, metrics)

	publisher, err := openPublisher(ctx, cfg, metrics)
	if err != nil {
		return fmt.Errorf("open spreadsheet: %w", err)
	}

	runner, err := job.New(name, job.Config{
		StorageDir: cfg.StorageDir,
		Targets:    targets(cfg),
		Publisher:  publisher,
		Rows:       metrics,
		Durations:  metrics,
	})
	if err != nil {
		return err
	}
	j := tracedJob{runner: runner, provider: provider}

	log.Info().
		Str("job", name).
		Dur("interval", syncInterval).
		Str("metrics_addr", syncMetricsAddr).
		Msg("Discovery starting")

	if syncInterval == 0 && syncMetricsAddr == "" {
		return j.Run(ctx)
	}
	return runGroup(ctx, provider, j)
}

// runGroup runs the job (once or on a schedule) next to the optional
// metrics server until one of them stops or a signal arrives.
func runGroup(ctx context.Context, provider *telemetry.Provider, j tracedJob) error {
	var g run.Group

	g.Add(run.SignalHandler(ctx, os.Interrupt, syscall.SIGTERM))

	var handler http.Handler
	jobCtx, cancel := context.WithCancel(ctx)
	if syncInterval > 0 {
		dm, err := daemon.NewMetrics(provider.Meter())
		if err != nil {
			cancel()
			return fmt.Errorf("create daemon metrics: %w", err)
		}
		d, err := daemon.NewDaemon(j, daemon.Config{Interval: syncInterval}, dm)
		if err != nil {
			cancel()
			return err
		}
		handler = d.Handler()
		g.Add(func() error {
			return d.Start(jobCtx)
		}, func(error) {
			cancel()
		})
	} else {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		handler = mux
		g.Add(func() error {
			return j.Run(jobCtx)
		}, func(error) {
			cancel()
		})
	}

	if syncMetricsAddr != "" {
		srv := &http.Server{
			Addr:              syncMetricsAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Add(func() error {
			log.Info().Str("addr", syncMetricsAddr).Msg("Starting metrics server")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		}, func(error) {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		})
	}

	err := g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		log.Info().Str("signal", sig.Signal.String()).Msg("Shutting down")
		return nil
	}
	return err
}
