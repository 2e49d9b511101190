package job

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/yairfalse/discovery/internal/report"
	"github.com/yairfalse/discovery/internal/sink"
	"github.com/yairfalse/discovery/internal/source"
	"github.com/yairfalse/discovery/internal/store"
	"github.com/yairfalse/discovery/internal/telemetry"
)

type fakeSource struct {
	name   string
	schema store.Schema
	sync   func(ctx context.Context) error
}

func (s *fakeSource) Name() string                   { return s.name }
func (s *fakeSource) Schema() store.Schema           { return s.schema }
func (s *fakeSource) Sync(ctx context.Context) error { return s.sync(ctx) }

type fakeWorksheet struct {
	title string
	cells []sink.Cell
}

func (w *fakeWorksheet) Title() string                                     { return w.title }
func (w *fakeWorksheet) BatchClear(context.Context, ...string) error       { return nil }
func (w *fakeWorksheet) Format(context.Context, string, sink.Format) error { return nil }
func (w *fakeWorksheet) UpdateCells(_ context.Context, cells []sink.Cell) error {
	w.cells = append(w.cells, cells...)
	return nil
}

type fakeBook map[string]*fakeWorksheet

func (b fakeBook) Worksheet(_ context.Context, title string) (sink.Worksheet, error) {
	ws, ok := b[title]
	if !ok {
		return nil, errors.New("no such worksheet")
	}
	return ws, nil
}

type durations struct {
	mu      sync.Mutex
	entries []string
}

func (d *durations) RecordSyncDuration(_ context.Context, job, src string, _ time.Duration, status string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = append(d.entries, job+"/"+src+"/"+status)
}

// awsBuilder returns sources that record their run order and write one account.
func awsBuilder(order *[]string, fail error) Builder {
	return func(_ context.Context, name string, st *store.Store) (source.Source, error) {
		switch name {
		case "aws":
			return &fakeSource{name: name, schema: store.SchemaAWS, sync: func(ctx context.Context) error {
				*order = append(*order, name)
				if fail != nil {
					return fail
				}
				return st.InsertAccount(ctx, store.Account{AccountID: "111", Name: "prod"})
			}}, nil
		case "qualys-aws":
			return &fakeSource{name: name, schema: store.SchemaQualys, sync: func(context.Context) error {
				*order = append(*order, name)
				return nil
			}}, nil
		}
		return nil, errors.New("unexpected source " + name)
	}
}

func TestLookup(t *testing.T) {
	def, err := Lookup("openstack")
	require.NoError(t, err)
	assert.Equal(t, []string{"openstack", "qualys-openstack"}, def.Sources)

	_, err = Lookup("gcp")
	require.ErrorIs(t, err, ErrUnknownJob)

	assert.Equal(t, []string{"aws", "nmap", "openstack"}, Names())
}

func TestStoragePath(t *testing.T) {
	assert.Equal(t, store.MemoryPath, StoragePath("", "aws"))
	assert.Equal(t, filepath.Join("/var/lib/discovery", "data-nmap.db"), StoragePath("/var/lib/discovery", "nmap"))
}

func TestNew_UnknownReportRejected(t *testing.T) {
	built := false
	_, err := New("aws", Config{
		Targets:   []sink.Target{{Sheet: "Accounts", ReportID: "gcp_report"}},
		Publisher: sink.NewPublisher(fakeBook{}, sink.Options{}),
		Build: func(context.Context, string, *store.Store) (source.Source, error) {
			built = true
			return nil, nil
		},
	})
	require.ErrorIs(t, err, report.ErrUnknownReport)
	assert.False(t, built)
}

func TestNew_TargetsNeedPublisher(t *testing.T) {
	_, err := New("aws", Config{
		Targets: []sink.Target{{Sheet: "Accounts", ReportID: "aws_accounts_report"}},
	})
	require.Error(t, err)
}

func TestNew_UnknownJob(t *testing.T) {
	_, err := New("gcp", Config{})
	require.ErrorIs(t, err, ErrUnknownJob)
}

func TestRun_SyncsInOrderAndPublishes(t *testing.T) {
	var order []string
	ws := &fakeWorksheet{title: "Accounts"}
	rec := &durations{}
	dir := t.TempDir()

	r, err := New("aws", Config{
		StorageDir: dir,
		Targets: []sink.Target{{
			Sheet:       "Accounts",
			ReportID:    "aws_accounts_report",
			HeaderRange: "A1:H1",
			BodyRange:   "A2:H10",
		}},
		Publisher: sink.NewPublisher(fakeBook{"Accounts": ws}, sink.Options{}),
		Durations: rec,
		Build:     awsBuilder(&order, nil),
	})
	require.NoError(t, err)
	assert.Equal(t, "aws", r.Name())

	require.NoError(t, r.Run(context.Background()))

	assert.Equal(t, []string{"aws", "qualys-aws"}, order)
	assert.Equal(t, []string{"aws/aws/ok", "aws/qualys-aws/ok"}, rec.entries)
	assert.FileExists(t, filepath.Join(dir, "data-aws.db"))

	// 8 header cells followed by one 8-column body row
	require.Len(t, ws.cells, 16)
	assert.Equal(t, sink.Cell{Row: 1, Col: 1, Value: "AccountId"}, ws.cells[0])
	assert.Equal(t, sink.Cell{Row: 2, Col: 1, Value: "111"}, ws.cells[8])
	assert.Equal(t, sink.Cell{Row: 2, Col: 2, Value: "prod"}, ws.cells[9])
}

func TestRun_RebuildsSnapshotEachCycle(t *testing.T) {
	var order []string
	dir := t.TempDir()

	r, err := New("aws", Config{StorageDir: dir, Build: awsBuilder(&order, nil)})
	require.NoError(t, err)

	require.NoError(t, r.Run(context.Background()))
	require.NoError(t, r.Run(context.Background()))

	st, err := store.Open(StoragePath(dir, "aws"))
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	n, err := st.Count(context.Background(), "aws_accounts")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestRun_FatalSourceStopsJob(t *testing.T) {
	var order []string
	ws := &fakeWorksheet{title: "Accounts"}
	rec := &durations{}
	boom := errors.New("list accounts failed")

	r, err := New("aws", Config{
		Targets: []sink.Target{{
			Sheet: "Accounts", ReportID: "aws_accounts_report",
			HeaderRange: "A1:H1", BodyRange: "A2:H10",
		}},
		Publisher: sink.NewPublisher(fakeBook{"Accounts": ws}, sink.Options{}),
		Durations: rec,
		Build:     awsBuilder(&order, boom),
	})
	require.NoError(t, err)

	err = r.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "sync aws")

	assert.Equal(t, []string{"aws"}, order)
	assert.Equal(t, []string{"aws/aws/error"}, rec.entries)
	assert.Empty(t, ws.cells)
}

func TestRun_BuildFailure(t *testing.T) {
	r, err := New("nmap", Config{
		Build: func(context.Context, string, *store.Store) (source.Source, error) {
			return nil, errors.New("no scanner")
		},
	})
	require.NoError(t, err)
	require.Error(t, r.Run(context.Background()))
}

func TestRun_DefaultsToSourceRegistry(t *testing.T) {
	source.Clear()
	t.Cleanup(source.Clear)

	ran := false
	source.Register("nmap", func(_ context.Context, st *store.Store) (source.Source, error) {
		return &fakeSource{name: "nmap", schema: store.SchemaNmap, sync: func(ctx context.Context) error {
			ran = true
			return st.InsertScanResult(ctx, store.ScanResult{Datacenter: "dc1", PublicIP: "10.0.0.1", Ports: "22"})
		}}, nil
	})

	r, err := New("nmap", Config{})
	require.NoError(t, err)
	require.NoError(t, r.Run(context.Background()))
	assert.True(t, ran)
}

func TestRun_LogsCarryTraceContext(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf).Hook(telemetry.OTELHook{})
	t.Cleanup(func() { log.Logger = prev })

	tp := sdktrace.NewTracerProvider()
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	ctx, span := tp.Tracer("test").Start(context.Background(), "sync")
	defer span.End()

	var order []string
	r, err := New("aws", Config{Build: awsBuilder(&order, nil)})
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx))

	traceID := span.SpanContext().TraceID().String()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(t, lines)
	for _, msg := range []string{"Starting sync", "Source synced", "Table synced"} {
		found := false
		for _, line := range lines {
			if strings.Contains(line, msg) {
				found = true
				assert.Contains(t, line, `"trace_id":"`+traceID+`"`, msg)
			}
		}
		assert.True(t, found, msg)
	}
}
