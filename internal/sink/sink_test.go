package sink

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/discovery/internal/report"
)

type fakeWorksheet struct {
	title    string
	cleared  []string
	formats  map[string]Format
	updates  [][]Cell
	failures int
	clearErr error
}

func (w *fakeWorksheet) Title() string { return w.title }

func (w *fakeWorksheet) BatchClear(_ context.Context, ranges ...string) error {
	if w.clearErr != nil {
		return w.clearErr
	}
	w.cleared = append(w.cleared, ranges...)
	return nil
}

func (w *fakeWorksheet) Format(_ context.Context, rng string, f Format) error {
	if w.formats == nil {
		w.formats = map[string]Format{}
	}
	w.formats[rng] = f
	return nil
}

func (w *fakeWorksheet) UpdateCells(_ context.Context, cells []Cell) error {
	w.updates = append(w.updates, cells)
	if w.failures > 0 {
		w.failures--
		return errors.New("rate limited")
	}
	return nil
}

type fakeBook struct {
	sheets map[string]*fakeWorksheet
}

func (b *fakeBook) Worksheet(_ context.Context, title string) (Worksheet, error) {
	ws, ok := b.sheets[title]
	if !ok {
		return nil, errors.New("worksheet not found")
	}
	return ws, nil
}

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type statusRecorder struct {
	statuses []string
}

func (r *statusRecorder) RecordSinkUpdate(_ context.Context, _, status string) {
	r.statuses = append(r.statuses, status)
}

func newTestPublisher(ws *fakeWorksheet, opts Options) (*Publisher, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	p := NewPublisher(&fakeBook{sheets: map[string]*fakeWorksheet{ws.title: ws}}, opts)
	p.sleep = clock.Sleep
	p.now = clock.Now
	return p, clock
}

func bodyTable(width, rows int) report.Table {
	header := make(report.Row, width)
	for i := range header {
		header[i] = "h"
	}
	table := report.Table{header}
	for r := 0; r < rows; r++ {
		row := make(report.Row, width)
		for i := range row {
			row[i] = "v"
		}
		table = append(table, row)
	}
	return table
}

func TestPublish_ResetsAndFormatsRanges(t *testing.T) {
	ws := &fakeWorksheet{title: "Accounts"}
	p, _ := newTestPublisher(ws, Options{Delay: time.Second})

	target := Target{Sheet: "Accounts", ReportID: "aws_accounts_report", HeaderRange: "A1:B1", BodyRange: "A2:B10"}
	require.NoError(t, p.Publish(context.Background(), target, bodyTable(2, 2)))

	assert.Equal(t, []string{"A1:B1", "A2:B10"}, ws.cleared)
	assert.Equal(t, Format{Background: White, Bold: true}, ws.formats["A1:B1"])
	assert.Equal(t, Format{Background: White}, ws.formats["A2:B10"])

	require.Len(t, ws.updates, 2)
	assert.Len(t, ws.updates[0], 2)
	assert.Equal(t, Cell{Row: 1, Col: 1, Value: "h"}, ws.updates[0][0])
	assert.Len(t, ws.updates[1], 4)
	assert.Equal(t, Cell{Row: 3, Col: 2, Value: "v"}, ws.updates[1][3])
}

func TestPublish_ChunksWithDelayBeforeEach(t *testing.T) {
	ws := &fakeWorksheet{title: "Inventory"}
	p, clock := newTestPublisher(ws, Options{Delay: 5 * time.Second, ChunkSize: 1000})

	r, err := ParseRange("A2:A3000")
	require.NoError(t, err)
	values := make([]any, 2001)
	cells, err := r.Cells(values)
	require.NoError(t, err)

	for start := 0; start < len(cells); start += p.opts.ChunkSize {
		end := min(start+p.opts.ChunkSize, len(cells))
		require.NoError(t, p.apply(context.Background(), ws, cells[start:end]))
	}

	require.Len(t, ws.updates, 3)
	assert.Len(t, ws.updates[0], 1000)
	assert.Len(t, ws.updates[1], 1000)
	assert.Len(t, ws.updates[2], 1)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second}, clock.sleeps)
}

func TestPublish_BodyOf2001ValuesMakesThreeBodyUpdates(t *testing.T) {
	ws := &fakeWorksheet{title: "Inventory"}
	p, _ := newTestPublisher(ws, Options{Delay: 5 * time.Second, ChunkSize: 1000})

	table := report.Table{{"h"}}
	for i := 0; i < 2001; i++ {
		table = append(table, report.Row{i})
	}

	target := Target{Sheet: "Inventory", HeaderRange: "A1", BodyRange: "A2:A5000"}
	require.NoError(t, p.Publish(context.Background(), target, table))

	// one header update plus three body chunks
	require.Len(t, ws.updates, 4)
	assert.Len(t, ws.updates[3], 1)
	assert.Equal(t, 2000, ws.updates[3][0].Value)
}

func TestApply_RetriesOnceAfterWindow(t *testing.T) {
	ws := &fakeWorksheet{title: "Inventory", failures: 1}
	p, clock := newTestPublisher(ws, Options{Delay: 5 * time.Second, RetryWindow: 60 * time.Second})
	rec := &statusRecorder{}
	p.WithRecorder(rec)

	err := p.apply(context.Background(), ws, []Cell{{Row: 1, Col: 1, Value: "x"}})
	require.NoError(t, err)

	assert.Len(t, ws.updates, 2)
	assert.Equal(t, []time.Duration{5 * time.Second, 55 * time.Second, 5 * time.Second}, clock.sleeps)
	assert.Equal(t, []string{"retry", "ok"}, rec.statuses)
}

func TestApply_GivesUpAfterSecondFailure(t *testing.T) {
	ws := &fakeWorksheet{title: "Inventory", failures: 5}
	p, _ := newTestPublisher(ws, Options{Delay: 5 * time.Second})
	rec := &statusRecorder{}
	p.WithRecorder(rec)

	err := p.apply(context.Background(), ws, []Cell{{Row: 1, Col: 1, Value: "x"}})
	require.NoError(t, err)

	assert.Len(t, ws.updates, 2)
	assert.Equal(t, []string{"retry", "dropped"}, rec.statuses)
}

func TestPublish_FailedUpdatesDoNotFailPublish(t *testing.T) {
	ws := &fakeWorksheet{title: "Accounts", failures: 100}
	p, _ := newTestPublisher(ws, Options{Delay: time.Second})

	target := Target{Sheet: "Accounts", HeaderRange: "A1:B1", BodyRange: "A2:B10"}
	require.NoError(t, p.Publish(context.Background(), target, bodyTable(2, 3)))
	assert.Len(t, ws.updates, 4)
}

func TestPublish_RangeOverflow(t *testing.T) {
	ws := &fakeWorksheet{title: "Accounts"}
	p, _ := newTestPublisher(ws, Options{})

	target := Target{Sheet: "Accounts", HeaderRange: "A1:B1", BodyRange: "A2:B2"}
	err := p.Publish(context.Background(), target, bodyTable(2, 2))
	require.Error(t, err)
}

func TestPublish_ClearFailureIsReturned(t *testing.T) {
	ws := &fakeWorksheet{title: "Accounts", clearErr: errors.New("forbidden")}
	p, _ := newTestPublisher(ws, Options{})

	target := Target{Sheet: "Accounts", HeaderRange: "A1:B1", BodyRange: "A2:B2"}
	err := p.Publish(context.Background(), target, bodyTable(2, 1))
	require.Error(t, err)
	assert.Empty(t, ws.updates)
}

func TestPublish_UnknownWorksheet(t *testing.T) {
	p, _ := newTestPublisher(&fakeWorksheet{title: "Accounts"}, Options{})

	err := p.Publish(context.Background(), Target{Sheet: "Missing", HeaderRange: "A1", BodyRange: "A2"}, report.Table{{"h"}})
	require.Error(t, err)
}

func TestApply_ContextCancelled(t *testing.T) {
	ws := &fakeWorksheet{title: "Accounts"}
	p := NewPublisher(&fakeBook{}, Options{Delay: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.apply(ctx, ws, []Cell{{Row: 1, Col: 1}})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, ws.updates)
}
