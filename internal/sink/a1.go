package sink

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Range is a rectangular A1 cell range with 1-based, inclusive bounds.
type Range struct {
	StartRow, StartCol int
	EndRow, EndCol     int
}

// ParseRange parses "A1:X5000" or a single cell such as "B2".
func ParseRange(s string) (Range, error) {
	start, end, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		end = start
	}

	r1, c1, err := parseCell(start)
	if err != nil {
		return Range{}, fmt.Errorf("parse range %q: %w", s, err)
	}
	r2, c2, err := parseCell(end)
	if err != nil {
		return Range{}, fmt.Errorf("parse range %q: %w", s, err)
	}
	if r2 < r1 || c2 < c1 {
		return Range{}, fmt.Errorf("parse range %q: end before start", s)
	}

	return Range{StartRow: r1, StartCol: c1, EndRow: r2, EndCol: c2}, nil
}

// Width is the number of columns in the range.
func (r Range) Width() int { return r.EndCol - r.StartCol + 1 }

// Size is the number of cells in the range.
func (r Range) Size() int { return r.Width() * (r.EndRow - r.StartRow + 1) }

// Cells assigns values to the range in row-major order. Values beyond the
// end of the range are an error; cells past the last value are left alone.
func (r Range) Cells(values []any) ([]Cell, error) {
	if len(values) > r.Size() {
		return nil, fmt.Errorf("%d values do not fit in %d cells", len(values), r.Size())
	}

	cells := make([]Cell, len(values))
	width := r.Width()
	for i, v := range values {
		cells[i] = Cell{
			Row:   r.StartRow + i/width,
			Col:   r.StartCol + i%width,
			Value: v,
		}
	}
	return cells, nil
}

// CellName renders a 1-based row and column in A1 notation. Coordinates
// outside the grid render as "".
func CellName(row, col int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return ""
	}
	return name
}

// parseCell accepts relative and absolute references ("B2", "$B$2").
func parseCell(s string) (row, col int, err error) {
	col, row, err = excelize.CellNameToCoordinates(strings.ToUpper(s))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid cell %q: %w", s, err)
	}
	return row, col, nil
}
