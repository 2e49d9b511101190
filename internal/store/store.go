// Package store holds the point-in-time relational snapshot written by the
// sources during one sync cycle. Tables are dropped and recreated at the
// start of every cycle; every insert commits on its own.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// MemoryPath opens an ephemeral database that lives as long as the Store.
const MemoryPath = ":memory:"

// ErrUnknownSchema is returned when resetting a schema that was never registered.
var ErrUnknownSchema = errors.New("unknown schema")

// Schema names the table set owned by one source.
type Schema string

const (
	SchemaAWS       Schema = "aws"
	SchemaOpenStack Schema = "openstack"
	SchemaNmap      Schema = "nmap"
	SchemaQualys    Schema = "qualys"
)

var schemas = map[Schema][]any{
	SchemaAWS:       {&Account{}, &Entry{}},
	SchemaOpenStack: {&Project{}, &Server{}},
	SchemaNmap:      {&ScanResult{}},
	SchemaQualys:    {&ExternalAsset{}},
}

// RowRecorder is notified after every committed insert.
type RowRecorder interface {
	RecordRowWritten(ctx context.Context, table string)
}

// Store is the single shared database handle of a job.
type Store struct {
	db       *gorm.DB
	path     string
	recorder RowRecorder
}

// Open opens (or creates) the SQLite database at path. An empty path or
// MemoryPath keeps the database in memory.
func Open(path string) (*Store, error) {
	if path == "" {
		path = MemoryPath
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	// An in-memory database exists per connection, so the pool is pinned
	// to one connection for every path.
	sqlDB.SetMaxOpenConns(1)

	return &Store{db: db, path: path}, nil
}

// WithRecorder attaches a recorder for committed rows.
func (s *Store) WithRecorder(r RowRecorder) *Store {
	s.recorder = r
	return s
}

// Path returns the database location.
func (s *Store) Path() string { return s.path }

// DB exposes the handle for read-only report queries.
func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Reset drops and recreates every table of the schema.
func (s *Store) Reset(ctx context.Context, schema Schema) error {
	models, ok := schemas[schema]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSchema, schema)
	}

	m := s.db.WithContext(ctx).Migrator()
	if err := m.DropTable(models...); err != nil {
		return fmt.Errorf("drop %s tables: %w", schema, err)
	}
	if err := m.CreateTable(models...); err != nil {
		return fmt.Errorf("create %s tables: %w", schema, err)
	}
	return nil
}

// Tables returns the table names owned by schema.
func Tables(schema Schema) []string {
	var names []string
	for _, m := range schemas[schema] {
		if t, ok := m.(interface{ TableName() string }); ok {
			names = append(names, t.TableName())
		}
	}
	return names
}

// Count returns the number of rows in table.
func (s *Store) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *Store) insert(ctx context.Context, table string, row any) error {
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("insert into %s: %w", table, err)
	}
	if s.recorder != nil {
		s.recorder.RecordRowWritten(ctx, table)
	}
	return nil
}

// InsertAccount appends one aws_accounts row.
func (s *Store) InsertAccount(ctx context.Context, a Account) error {
	return s.insert(ctx, a.TableName(), &a)
}

// InsertEntry appends one aws_entries row.
func (s *Store) InsertEntry(ctx context.Context, e Entry) error {
	return s.insert(ctx, e.TableName(), &e)
}

// InsertProject appends one openstack_projects row.
func (s *Store) InsertProject(ctx context.Context, p Project) error {
	return s.insert(ctx, p.TableName(), &p)
}

// InsertServer appends one openstack_servers row.
func (s *Store) InsertServer(ctx context.Context, srv Server) error {
	return s.insert(ctx, srv.TableName(), &srv)
}

// InsertScanResult appends one nmap_results row.
func (s *Store) InsertScanResult(ctx context.Context, r ScanResult) error {
	return s.insert(ctx, r.TableName(), &r)
}

// InsertAsset appends one qualys_assets row.
func (s *Store) InsertAsset(ctx context.Context, a ExternalAsset) error {
	return s.insert(ctx, a.TableName(), &a)
}
