// Package source defines the adapters that fill the store from one
// external system each.
package source

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/yairfalse/discovery/internal/store"
)

// Source fetches from one external system and writes normalized rows.
// Sync returns only fatal errors; unit failures are logged and skipped.
type Source interface {
	// Name returns the source identifier (e.g., "aws", "qualys-aws").
	Name() string

	// Schema names the tables the source writes.
	Schema() store.Schema

	Sync(ctx context.Context) error
}

// Factory builds a source writing into st.
type Factory func(ctx context.Context, st *store.Store) (Source, error)

var (
	registry = make(map[string]Factory)
	mu       sync.RWMutex
)

// Register adds a factory under name, replacing any previous one.
func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	registry[name] = f
}

// Build creates the source registered under name.
func Build(ctx context.Context, name string, st *store.Store) (Source, error) {
	mu.RLock()
	f, ok := registry[name]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown source %q", name)
	}

	s, err := f(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("build source %s: %w", name, err)
	}
	return s, nil
}

// Names returns all registered source names, sorted.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clear removes all factories. Used for testing.
func Clear() {
	mu.Lock()
	defer mu.Unlock()
	registry = make(map[string]Factory)
}

// FailureRecorder is notified whenever a unit (account, region, cluster,
// project, datacenter, subnet) is skipped after a recoverable error.
type FailureRecorder interface {
	RecordUnitFailure(ctx context.Context, source, unit string)
}

// RecordFailure forwards to r when it is set.
func RecordFailure(ctx context.Context, r FailureRecorder, source, unit string) {
	if r != nil {
		r.RecordUnitFailure(ctx, source, unit)
	}
}
