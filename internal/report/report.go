// Package report runs the read-only reconciliation queries over a sync
// snapshot. Every report is a header row followed by the data rows.
package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/yairfalse/discovery/internal/store"
)

// ErrUnknownReport is returned by Lookup for an id with no query behind it.
var ErrUnknownReport = errors.New("unknown report")

// Row is one tuple of a report. NULL columns are nil, everything else is a string.
type Row []any

// Table is the header row followed by every data row.
type Table []Row

// Header returns the column names.
func (t Table) Header() Row {
	if len(t) == 0 {
		return nil
	}
	return t[0]
}

// Body returns the data rows without the header.
func (t Table) Body() []Row {
	if len(t) < 2 {
		return nil
	}
	return t[1:]
}

// Func produces one report.
type Func func(ctx context.Context) (Table, error)

// Reports queries a store snapshot.
type Reports struct {
	db *gorm.DB
}

// New creates the reports layer over s.
func New(s *store.Store) *Reports {
	return &Reports{db: s.DB()}
}

func (r *Reports) registry() map[string]Func {
	return map[string]Func{
		"aws_accounts_report":        r.AWSAccounts,
		"aws_inventory_report":       r.AWSInventory,
		"openstack_inventory_report": r.OpenStackInventory,
		"nmap_results_report":        r.NmapResults,
	}
}

// Lookup returns the report registered under id.
func (r *Reports) Lookup(id string) (Func, error) {
	fn, ok := r.registry()[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownReport, id)
	}
	return fn, nil
}

// IDs lists every registered report id in sorted order.
func IDs() []string {
	ids := make([]string, 0, 4)
	for id := range (&Reports{}).registry() {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AWSAccounts lists every account, highest account id first.
func (r *Reports) AWSAccounts(ctx context.Context) (Table, error) {
	return r.query(ctx, accountsHeader, accountsQuery)
}

// AWSInventory joins every instance entry to its account and, when one
// exists, to the external asset carrying the same instance id.
func (r *Reports) AWSInventory(ctx context.Context) (Table, error) {
	return r.query(ctx, awsInventoryHeader, awsInventoryQuery)
}

// OpenStackInventory joins servers to external assets whose address equals
// either server address. A server matching on both addresses appears twice.
func (r *Reports) OpenStackInventory(ctx context.Context) (Table, error) {
	return r.query(ctx, openStackInventoryHeader, openStackInventoryQuery)
}

// NmapResults lists the live hosts found by the network scan.
func (r *Reports) NmapResults(ctx context.Context) (Table, error) {
	return r.query(ctx, nmapResultsHeader, nmapResultsQuery)
}

func (r *Reports) query(ctx context.Context, header []string, query string) (Table, error) {
	rows, err := r.db.WithContext(ctx).Raw(query).Rows()
	if err != nil {
		return nil, fmt.Errorf("run report query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read report columns: %w", err)
	}
	if len(cols) != len(header) {
		return nil, fmt.Errorf("report has %d columns, header has %d", len(cols), len(header))
	}

	head := make(Row, len(header))
	for i, h := range header {
		head[i] = h
	}
	table := Table{head}

	values := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range values {
		dest[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan report row: %w", err)
		}
		row := make(Row, len(values))
		for i, v := range values {
			if v.Valid {
				row[i] = v.String
			}
		}
		table = append(table, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate report rows: %w", err)
	}

	return table, nil
}
