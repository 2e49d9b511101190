// Package sheets implements the sink worksheet interface on Google Sheets.
package sheets

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"

	"github.com/yairfalse/discovery/internal/sink"
)

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9_-]+)`)

// Access holds the service account fields and the spreadsheet URL.
type Access struct {
	SheetURL          string
	ProjectID         string
	PrivateKeyID      string
	PrivateKey        string
	ClientEmail       string
	ClientID          string
	ClientX509CertURL string
}

// Book is an opened spreadsheet.
type Book struct {
	svc *gsheets.Service
	id  string
}

// Open authenticates with the service account in access and opens the
// spreadsheet it points to.
func Open(ctx context.Context, access Access, opts ...option.ClientOption) (*Book, error) {
	id, err := SpreadsheetID(access.SheetURL)
	if err != nil {
		return nil, err
	}

	if len(opts) == 0 {
		creds, err := ServiceAccountJSON(access)
		if err != nil {
			return nil, err
		}
		jwt, err := google.JWTConfigFromJSON(creds, gsheets.SpreadsheetsScope)
		if err != nil {
			return nil, fmt.Errorf("parse service account: %w", err)
		}
		opts = []option.ClientOption{option.WithTokenSource(jwt.TokenSource(ctx))}
	}

	svc, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Book{svc: svc, id: id}, nil
}

// ID returns the spreadsheet id.
func (b *Book) ID() string { return b.id }

// Worksheet resolves a tab by title.
func (b *Book) Worksheet(ctx context.Context, title string) (sink.Worksheet, error) {
	ss, err := b.svc.Spreadsheets.Get(b.id).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet %s: %w", b.id, err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == title {
			return &Worksheet{book: b, sheetID: s.Properties.SheetId, title: title}, nil
		}
	}
	return nil, fmt.Errorf("worksheet %q not found in %s", title, b.id)
}

// Worksheet is one tab of a Book.
type Worksheet struct {
	book    *Book
	sheetID int64
	title   string
}

// Title returns the tab title.
func (w *Worksheet) Title() string { return w.title }

// BatchClear clears the values of every range.
func (w *Worksheet) BatchClear(ctx context.Context, ranges ...string) error {
	req := &gsheets.BatchClearValuesRequest{}
	for _, r := range ranges {
		req.Ranges = append(req.Ranges, w.qualify(r))
	}
	_, err := w.book.svc.Spreadsheets.Values.BatchClear(w.book.id, req).Context(ctx).Do()
	return err
}

// Format applies f to every cell of rng.
func (w *Worksheet) Format(ctx context.Context, rng string, f sink.Format) error {
	grid, err := w.gridRange(rng)
	if err != nil {
		return err
	}

	cell := &gsheets.CellFormat{
		BackgroundColor: &gsheets.Color{
			Red:             f.Background.Red,
			Green:           f.Background.Green,
			Blue:            f.Background.Blue,
			ForceSendFields: []string{"Red", "Green", "Blue"},
		},
	}
	fields := "userEnteredFormat.backgroundColor"
	if f.Bold {
		cell.TextFormat = &gsheets.TextFormat{Bold: true}
		fields = "userEnteredFormat(backgroundColor,textFormat.bold)"
	}

	req := &gsheets.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheets.Request{{
			RepeatCell: &gsheets.RepeatCellRequest{
				Range:  grid,
				Cell:   &gsheets.CellData{UserEnteredFormat: cell},
				Fields: fields,
			},
		}},
	}
	_, err = w.book.svc.Spreadsheets.BatchUpdate(w.book.id, req).Context(ctx).Do()
	return err
}

// UpdateCells writes cells in one values batch update, one value range per
// run of adjacent cells on a row.
func (w *Worksheet) UpdateCells(ctx context.Context, cells []sink.Cell) error {
	req := &gsheets.BatchUpdateValuesRequest{ValueInputOption: "RAW"}
	for _, vr := range valueRanges(cells) {
		vr.Range = w.qualify(vr.Range)
		req.Data = append(req.Data, vr)
	}
	_, err := w.book.svc.Spreadsheets.Values.BatchUpdate(w.book.id, req).Context(ctx).Do()
	return err
}

func (w *Worksheet) qualify(rng string) string {
	return "'" + strings.ReplaceAll(w.title, "'", "''") + "'!" + rng
}

func (w *Worksheet) gridRange(rng string) (*gsheets.GridRange, error) {
	r, err := sink.ParseRange(rng)
	if err != nil {
		return nil, err
	}
	return &gsheets.GridRange{
		SheetId:          w.sheetID,
		StartRowIndex:    int64(r.StartRow - 1),
		EndRowIndex:      int64(r.EndRow),
		StartColumnIndex: int64(r.StartCol - 1),
		EndColumnIndex:   int64(r.EndCol),
		ForceSendFields:  []string{"SheetId", "StartRowIndex", "StartColumnIndex"},
	}, nil
}

func valueRanges(cells []sink.Cell) []*gsheets.ValueRange {
	var (
		out    []*gsheets.ValueRange
		row    []any
		first  sink.Cell
		expect sink.Cell
	)
	flush := func() {
		if len(row) == 0 {
			return
		}
		last := sink.CellName(first.Row, first.Col+len(row)-1)
		out = append(out, &gsheets.ValueRange{
			Range:  sink.CellName(first.Row, first.Col) + ":" + last,
			Values: [][]any{row},
		})
		row = nil
	}

	for _, c := range cells {
		if len(row) == 0 || c.Row != expect.Row || c.Col != expect.Col {
			flush()
			first = c
		}
		row = append(row, cellValue(c.Value))
		expect = sink.Cell{Row: c.Row, Col: c.Col + 1}
	}
	flush()
	return out
}

func cellValue(v any) any {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	default:
		return t
	}
}

// SpreadsheetID extracts the id from a spreadsheet URL.
func SpreadsheetID(url string) (string, error) {
	m := spreadsheetIDPattern.FindStringSubmatch(url)
	if m == nil {
		return "", fmt.Errorf("no spreadsheet id in %q", url)
	}
	return m[1], nil
}

// ServiceAccountJSON renders access as a service account key file. Escaped
// newlines in the private key are restored.
func ServiceAccountJSON(access Access) ([]byte, error) {
	key := map[string]string{
		"type":                        "service_account",
		"project_id":                  access.ProjectID,
		"private_key_id":              access.PrivateKeyID,
		"private_key":                 strings.ReplaceAll(access.PrivateKey, `\n`, "\n"),
		"client_email":                access.ClientEmail,
		"client_id":                   access.ClientID,
		"auth_uri":                    "https://accounts.google.com/o/oauth2/auth",
		"token_uri":                   "https://oauth2.googleapis.com/token",
		"auth_provider_x509_cert_url": "https://www.googleapis.com/oauth2/v1/certs",
		"client_x509_cert_url":        access.ClientX509CertURL,
	}
	b, err := json.Marshal(key)
	if err != nil {
		return nil, fmt.Errorf("encode service account: %w", err)
	}
	return b, nil
}
