// Package job runs one sync cycle: reset the snapshot tables, run every
// source of the job in order, then publish the configured reports.
package job

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/discovery/internal/report"
	"github.com/yairfalse/discovery/internal/sink"
	"github.com/yairfalse/discovery/internal/source"
	"github.com/yairfalse/discovery/internal/store"
)

// ErrUnknownJob is returned for a job name with no definition.
var ErrUnknownJob = errors.New("unknown job")

// Definition lists the sources a job runs, in order.
type Definition struct {
	Name    string
	Sources []string
}

var definitions = map[string]Definition{
	"aws":       {Name: "aws", Sources: []string{"aws", "qualys-aws"}},
	"openstack": {Name: "openstack", Sources: []string{"openstack", "qualys-openstack"}},
	"nmap":      {Name: "nmap", Sources: []string{"nmap"}},
}

// Lookup returns the definition of the named job.
func Lookup(name string) (Definition, error) {
	def, ok := definitions[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownJob, name)
	}
	return def, nil
}

// Names returns every job name, sorted.
func Names() []string {
	names := make([]string, 0, len(definitions))
	for name := range definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StoragePath returns the database file of job under dir, or an in-memory
// location when dir is empty.
func StoragePath(dir, job string) string {
	if dir == "" {
		return store.MemoryPath
	}
	return filepath.Join(dir, "data-"+job+".db")
}

// DurationRecorder is notified after every source sync.
type DurationRecorder interface {
	RecordSyncDuration(ctx context.Context, job, source string, d time.Duration, status string)
}

// Builder creates a named source over st.
type Builder func(ctx context.Context, name string, st *store.Store) (source.Source, error)

// Config holds everything a job run needs besides its sources.
type Config struct {
	StorageDir string
	Targets    []sink.Target

	// Publisher may be nil when no reports are configured.
	Publisher *sink.Publisher

	Rows      store.RowRecorder
	Durations DurationRecorder

	// Build defaults to source.Build.
	Build Builder
}

// Runner executes one job.
type Runner struct {
	def Definition
	cfg Config
}

// New checks the job name and every report id before any sync work.
func New(name string, cfg Config) (*Runner, error) {
	def, err := Lookup(name)
	if err != nil {
		return nil, err
	}

	known := make(map[string]bool)
	for _, id := range report.IDs() {
		known[id] = true
	}
	for _, t := range cfg.Targets {
		if !known[t.ReportID] {
			return nil, fmt.Errorf("sheet %q: %w: %q", t.Sheet, report.ErrUnknownReport, t.ReportID)
		}
	}
	if len(cfg.Targets) > 0 && cfg.Publisher == nil {
		return nil, fmt.Errorf("job %s: reports configured without a publisher", name)
	}

	if cfg.Build == nil {
		cfg.Build = source.Build
	}
	return &Runner{def: def, cfg: cfg}, nil
}

// Name returns the job name.
func (r *Runner) Name() string { return r.def.Name }

// Run performs one full cycle against a fresh snapshot.
func (r *Runner) Run(ctx context.Context) error {
	st, err := store.Open(StoragePath(r.cfg.StorageDir, r.def.Name))
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn().Ctx(ctx).Err(err).Msg("Failed to close store")
		}
	}()
	if r.cfg.Rows != nil {
		st.WithRecorder(r.cfg.Rows)
	}

	log.Info().Ctx(ctx).Str("job", r.def.Name).Str("storage", st.Path()).Msg("Starting sync")

	sources := make([]source.Source, 0, len(r.def.Sources))
	for _, name := range r.def.Sources {
		src, err := r.cfg.Build(ctx, name, st)
		if err != nil {
			return err
		}
		sources = append(sources, src)
	}

	schemas := schemasOf(sources)
	for _, schema := range schemas {
		if err := st.Reset(ctx, schema); err != nil {
			return fmt.Errorf("reset storage: %w", err)
		}
	}

	for _, src := range sources {
		if err := r.sync(ctx, src); err != nil {
			return err
		}
	}

	logCounts(ctx, st, schemas)

	return r.publish(ctx, st)
}

func (r *Runner) sync(ctx context.Context, src source.Source) error {
	start := time.Now()
	err := src.Sync(ctx)
	d := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
	}
	if r.cfg.Durations != nil {
		r.cfg.Durations.RecordSyncDuration(ctx, r.def.Name, src.Name(), d, status)
	}
	if err != nil {
		return fmt.Errorf("sync %s: %w", src.Name(), err)
	}

	log.Info().Ctx(ctx).
		Str("job", r.def.Name).
		Str("source", src.Name()).
		Dur("duration", d).
		Msg("Source synced")
	return nil
}

func (r *Runner) publish(ctx context.Context, st *store.Store) error {
	if len(r.cfg.Targets) == 0 {
		return nil
	}

	reports := report.New(st)
	for _, t := range r.cfg.Targets {
		fn, err := reports.Lookup(t.ReportID)
		if err != nil {
			return err
		}
		table, err := fn(ctx)
		if err != nil {
			return fmt.Errorf("build report %s: %w", t.ReportID, err)
		}
		if err := r.cfg.Publisher.Publish(ctx, t, table); err != nil {
			return fmt.Errorf("publish %s: %w", t.Sheet, err)
		}
	}
	return nil
}

// schemasOf returns each distinct schema once, in source order.
func schemasOf(sources []source.Source) []store.Schema {
	seen := make(map[store.Schema]bool)
	var out []store.Schema
	for _, src := range sources {
		s := src.Schema()
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func logCounts(ctx context.Context, st *store.Store, schemas []store.Schema) {
	for _, schema := range schemas {
		for _, table := range store.Tables(schema) {
			n, err := st.Count(ctx, table)
			if err != nil {
				log.Warn().Ctx(ctx).Err(err).Str("table", table).Msg("Failed to count rows")
				continue
			}
			log.Info().Ctx(ctx).Str("table", table).Int64("rows", n).Msg("Table synced")
		}
	}
}
