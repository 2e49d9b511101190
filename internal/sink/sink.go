// Package sink publishes report tables into spreadsheet worksheets under
// the destination's rate limit.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/yairfalse/discovery/internal/report"
)

const (
	DefaultDelay       = 5 * time.Second
	DefaultRetryWindow = 60 * time.Second
	DefaultChunkSize   = 1000

	maxAttempts = 2
)

// Cell is one value addressed by 1-based row and column.
type Cell struct {
	Row   int
	Col   int
	Value any
}

// Color is an RGB color with components in [0, 1].
type Color struct {
	Red, Green, Blue float64
}

// White is the reset background of every published range.
var White = Color{Red: 1, Green: 1, Blue: 1}

// Format describes the cell format applied to a range.
type Format struct {
	Background Color
	Bold       bool
}

// Worksheet is one tab of a spreadsheet.
type Worksheet interface {
	Title() string
	BatchClear(ctx context.Context, ranges ...string) error
	Format(ctx context.Context, rng string, f Format) error
	UpdateCells(ctx context.Context, cells []Cell) error
}

// Spreadsheet resolves worksheets by title.
type Spreadsheet interface {
	Worksheet(ctx context.Context, title string) (Worksheet, error)
}

// UpdateRecorder is notified of every batch update outcome.
type UpdateRecorder interface {
	RecordSinkUpdate(ctx context.Context, sheet, status string)
}

// Target maps a report onto a worksheet.
type Target struct {
	Sheet       string
	ReportID    string
	HeaderRange string
	BodyRange   string
}

// Options tunes batching and rate limiting.
type Options struct {
	Delay       time.Duration
	RetryWindow time.Duration
	ChunkSize   int
}

func (o *Options) applyDefaults() {
	if o.Delay < 0 {
		o.Delay = 0
	}
	if o.RetryWindow == 0 {
		o.RetryWindow = DefaultRetryWindow
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
}

// Publisher writes report tables into a spreadsheet.
type Publisher struct {
	book     Spreadsheet
	opts     Options
	recorder UpdateRecorder

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewPublisher creates a publisher over book.
func NewPublisher(book Spreadsheet, opts Options) *Publisher {
	opts.applyDefaults()
	return &Publisher{
		book:  book,
		opts:  opts,
		sleep: sleepContext,
		now:   time.Now,
	}
}

// WithRecorder attaches a recorder for batch update outcomes.
func (p *Publisher) WithRecorder(r UpdateRecorder) *Publisher {
	p.recorder = r
	return p
}

// Publish resets the target's header and body ranges, then writes the
// header row and the flattened body rows. A batch update that fails twice
// is logged and dropped; everything else is returned.
func (p *Publisher) Publish(ctx context.Context, target Target, table report.Table) error {
	ws, err := p.book.Worksheet(ctx, target.Sheet)
	if err != nil {
		return fmt.Errorf("open worksheet %q: %w", target.Sheet, err)
	}

	log.Info().Ctx(ctx).
		Str("sheet", target.Sheet).
		Str("report_id", target.ReportID).
		Int("length", len(table)).
		Msg("Publishing report")

	if err := p.reset(ctx, ws, target); err != nil {
		return err
	}

	if err := p.updateRange(ctx, ws, target.HeaderRange, table.Header()); err != nil {
		return err
	}

	var body []any
	for _, row := range table.Body() {
		body = append(body, row...)
	}
	return p.updateRange(ctx, ws, target.BodyRange, body)
}

func (p *Publisher) reset(ctx context.Context, ws Worksheet, target Target) error {
	if err := ws.BatchClear(ctx, target.HeaderRange); err != nil {
		return fmt.Errorf("clear %s!%s: %w", ws.Title(), target.HeaderRange, err)
	}
	if err := ws.Format(ctx, target.HeaderRange, Format{Background: White, Bold: true}); err != nil {
		return fmt.Errorf("format %s!%s: %w", ws.Title(), target.HeaderRange, err)
	}

	if err := ws.BatchClear(ctx, target.BodyRange); err != nil {
		return fmt.Errorf("clear %s!%s: %w", ws.Title(), target.BodyRange, err)
	}
	if err := ws.Format(ctx, target.BodyRange, Format{Background: White}); err != nil {
		return fmt.Errorf("format %s!%s: %w", ws.Title(), target.BodyRange, err)
	}
	return nil
}

// updateRange writes values into rng in chunks of at most ChunkSize cells.
func (p *Publisher) updateRange(ctx context.Context, ws Worksheet, rng string, values []any) error {
	r, err := ParseRange(rng)
	if err != nil {
		return err
	}
	cells, err := r.Cells(values)
	if err != nil {
		return fmt.Errorf("update %s!%s: %w", ws.Title(), rng, err)
	}

	for start := 0; start < len(cells); start += p.opts.ChunkSize {
		end := min(start+p.opts.ChunkSize, len(cells))
		if err := p.apply(ctx, ws, cells[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// apply sends one batch, sleeping the configured delay before each attempt.
// After a failure it waits out the rest of the rate-limit window and tries
// once more. Only context cancellation is returned.
func (p *Publisher) apply(ctx context.Context, ws Worksheet, cells []Cell) error {
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		started := p.now()
		if err := p.sleep(ctx, p.opts.Delay); err != nil {
			return err
		}

		err := ws.UpdateCells(ctx, cells)
		if err == nil {
			p.record(ctx, ws.Title(), "ok")
			return nil
		}

		if attempt == maxAttempts {
			p.record(ctx, ws.Title(), "dropped")
			log.Error().Ctx(ctx).Err(err).
				Str("sheet", ws.Title()).
				Int("cells", len(cells)).
				Msg("Could not update cells")
			return nil
		}

		p.record(ctx, ws.Title(), "retry")
		log.Error().Ctx(ctx).Err(err).
			Str("sheet", ws.Title()).
			Msg("Could not update cells, sleeping and trying again")

		if wait := p.opts.RetryWindow - p.now().Sub(started); wait > 0 {
			if err := p.sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Publisher) record(ctx context.Context, sheet, status string) {
	if p.recorder != nil {
		p.recorder.RecordSinkUpdate(ctx, sheet, status)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
