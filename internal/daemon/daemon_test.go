package daemon

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	runs atomic.Int64
	err  error
}

func (j *countingJob) Name() string { return "nmap" }

func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return j.err
}

func TestNewDaemon_RejectsZeroInterval(t *testing.T) {
	_, err := NewDaemon(&countingJob{}, Config{}, nil)
	require.Error(t, err)
}

// Test daemon runs a cycle before the first tick
func TestDaemon_RunsImmediately(t *testing.T) {
	job := &countingJob{}
	d, err := NewDaemon(job, Config{Interval: time.Hour}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	assert.Eventually(t, func() bool { return job.runs.Load() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Daemon did not shutdown within timeout")
	}
}

// Test the loop keeps running at interval
func TestDaemon_CycleLoop(t *testing.T) {
	job := &countingJob{}
	d, err := NewDaemon(job, Config{Interval: 20 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = d.Start(ctx)
	}()

	assert.Eventually(t, func() bool { return d.CycleCount() >= 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestDaemon_FailedCycleKeepsSchedule(t *testing.T) {
	job := &countingJob{err: errors.New("describe regions: throttled")}
	d, err := NewDaemon(job, Config{Interval: 20 * time.Millisecond}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = d.Start(ctx)
	}()

	assert.Eventually(t, func() bool { return d.FailureCount() >= 2 }, 2*time.Second, 10*time.Millisecond)

	h := d.Health()
	assert.Equal(t, "degraded", h.Status)
	assert.Contains(t, h.LastError, "throttled")
}

func TestDaemon_Health(t *testing.T) {
	d, err := NewDaemon(&countingJob{}, Config{Interval: time.Minute}, nil)
	require.NoError(t, err)

	health := d.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.GreaterOrEqual(t, health.Uptime, int64(0))
	assert.True(t, health.LastRun.IsZero())
}

func TestDaemon_HealthEndpoints(t *testing.T) {
	d, err := NewDaemon(&countingJob{}, Config{Interval: time.Minute}, nil)
	require.NoError(t, err)

	srv := httptest.NewServer(d.Handler())
	defer srv.Close()

	for _, path := range []string{"/health", "/-/healthy", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}
