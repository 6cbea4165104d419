// Package sqlstore persists records into SQL tables through database/sql.
//
// SQLite (modernc.org/sqlite) and PostgreSQL (github.com/lib/pq) are
// supported. Tables must already exist; table names come from the schema
// registry and columns from the attribute names.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/jacentio/grove/factory"
	"github.com/jacentio/grove/schema"
)

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// pqUniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const pqUniqueViolation = "23505"

var (
	// ErrNotFound is returned when a record doesn't exist.
	ErrNotFound = errors.New("grove: record not found")

	// ErrAlreadyExists is returned when a record with the same id already exists.
	ErrAlreadyExists = errors.New("grove: record already exists")

	// ErrUnsupportedDriver is returned for drivers other than sqlite and postgres.
	ErrUnsupportedDriver = errors.New("grove: unsupported sql driver")
)

// Store is a factory.Persister writing one row per record.
type Store struct {
	db     *sql.DB
	driver string
	schema *schema.Registry
}

// Open opens a database and verifies the connection.
func Open(driver, dsn string, models *schema.Registry) (*Store, error) {
	if driver != DriverSQLite && driver != DriverPostgres {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sql dsn is required")
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s db: %w", driver, err)
	}

	return New(db, driver, models), nil
}

// New wraps an open database. A nil registry means table names equal model
// names and no model has associations.
func New(db *sql.DB, driver string, models *schema.Registry) *Store {
	if models == nil {
		models = schema.NewRegistry()
	}
	return &Store{db: db, driver: driver, schema: models}
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// CreateRecord inserts attrs as a row of the model's table. A random id is
// assigned when attrs has none. Maps and slices are stored as JSON text.
func (s *Store) CreateRecord(ctx context.Context, model string, attrs factory.Attrs) (factory.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rec := make(factory.Record, len(attrs)+1)
	for k, v := range attrs {
		rec[k] = v
	}
	if rec.ID() == nil {
		rec["id"] = uuid.NewString()
	}

	columns := make([]string, 0, len(rec))
	for k := range rec {
		columns = append(columns, k)
	}
	sort.Strings(columns)

	args := make([]any, len(columns))
	quoted := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, col := range columns {
		v, err := encode(rec[col])
		if err != nil {
			return nil, fmt.Errorf("encode %q: %w", col, err)
		}
		args[i] = v
		quoted[i] = quoteIdent(col)
		marks[i] = s.placeholder(i + 1)
	}

	table := s.schema.TableName(model)
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s %v", ErrAlreadyExists, model, rec.ID())
		}
		return nil, fmt.Errorf("insert into %s: %w", table, err)
	}
	return rec, nil
}

// Associations returns the association metadata of model.
func (s *Store) Associations(ctx context.Context, model string) ([]factory.Association, error) {
	return s.schema.Associations(ctx, model)
}

// Get reads the row of model with the given id. Text columns are returned as
// strings; JSON columns are not decoded.
func (s *Store) Get(ctx context.Context, model string, id any) (factory.Record, error) {
	table := s.schema.TableName(model)
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s", quoteIdent(table), quoteIdent("id"), s.placeholder(1))

	rows, err := s.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan %s: %w", table, err)
	}

	rec := make(factory.Record, len(columns))
	for i, col := range columns {
		if b, ok := values[i].([]byte); ok {
			rec[col] = string(b)
			continue
		}
		rec[col] = values[i]
	}
	return rec, rows.Err()
}

// Count returns the number of rows in the model's table.
func (s *Store) Count(ctx context.Context, model string) (int, error) {
	table := s.schema.TableName(model)
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (s *Store) placeholder(n int) string {
	if s.driver == DriverPostgres {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// encode converts an attribute value into a driver argument.
func encode(v any) (any, error) {
	switch v.(type) {
	case map[string]any, factory.Attrs, factory.Record, []any:
		b, err := sonic.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return v, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
