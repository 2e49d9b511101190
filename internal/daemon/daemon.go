// Package daemon re-runs a sync job on a fixed interval.
package daemon

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Job is one runnable sync cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Config holds daemon configuration
type Config struct {
	Interval time.Duration
}

// Daemon manages the sync schedule
type Daemon struct {
	job       Job
	interval  time.Duration
	metrics   *Metrics
	startTime time.Time

	cycleCount   atomic.Int64
	failureCount atomic.Int64

	mu        sync.RWMutex
	lastError error
	lastRun   time.Time
}

// NewDaemon creates a new daemon instance. metrics may be nil.
func NewDaemon(job Job, config Config, metrics *Metrics) (*Daemon, error) {
	if config.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	return &Daemon{
		job:       job,
		interval:  config.Interval,
		metrics:   metrics,
		startTime: time.Now(),
	}, nil
}

// Start runs a cycle immediately, then once per interval until ctx is done.
// Cycle failures are logged and never stop the schedule.
func (d *Daemon) Start(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.runCycle(ctx)
		}
	}
}

func (d *Daemon) runCycle(ctx context.Context) {
	d.cycleCount.Add(1)
	start := time.Now()

	err := d.job.Run(ctx)
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		d.failureCount.Add(1)
		if ctx.Err() == nil {
			log.Error().Ctx(ctx).Err(err).Str("job", d.job.Name()).Msg("Sync cycle failed")
		}
	} else {
		log.Info().Ctx(ctx).Str("job", d.job.Name()).Dur("duration", elapsed).Msg("Sync cycle complete")
	}

	if d.metrics != nil {
		d.metrics.RecordCycle(ctx, d.job.Name(), status, elapsed)
	}

	d.mu.Lock()
	d.lastError = err
	d.lastRun = start
	d.mu.Unlock()
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	h := HealthStatus{
		Status:  "healthy",
		Uptime:  int64(time.Since(d.startTime).Seconds()),
		LastRun: d.lastRun,
	}
	if d.lastError != nil {
		h.Status = "degraded"
		h.LastError = d.lastError.Error()
	}
	return h
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status    string
	Uptime    int64
	LastRun   time.Time
	LastError string
}

// CycleCount returns total cycles run
func (d *Daemon) CycleCount() int64 {
	return d.cycleCount.Load()
}

// FailureCount returns cycles that ended with an error
func (d *Daemon) FailureCount() int64 {
	return d.failureCount.Load()
}

// Handler serves /metrics from the default Prometheus registry plus the
// /health and /-/healthy probes.
func (d *Daemon) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	health := func(w http.ResponseWriter, _ *http.Request) {
		h := d.Health()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(h.Status + "\n"))
	}
	mux.HandleFunc("/health", health)
	mux.HandleFunc("/-/healthy", health)
	return mux
}
