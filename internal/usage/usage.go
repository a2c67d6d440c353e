// Package usage reads the template values content items declare.
package usage

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver
)

// Static is a fixed list of used values
type Static []string

// UsedValues returns the values as given
func (s Static) UsedValues(_ context.Context) ([]string, error) {
	return append([]string(nil), s...), nil
}

// File reads one used value per line. Blank lines and lines starting with
// "#" are ignored; duplicates are kept.
type File struct {
	Path string
}

// UsedValues reads the file on every call
func (f *File) UsedValues(_ context.Context) ([]string, error) {
	fh, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage file: %w", err)
	}
	defer func() {
		_ = fh.Close()
	}()

	values := []string{}
	scanner := bufio.NewScanner(fh)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		values = append(values, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read usage file: %w", err)
	}
	return values, nil
}

// SQL reads used values from a post meta table
type SQL struct {
	db      *sql.DB
	driver  string
	table   string
	metaKey string
}

// OpenSQL connects to the content database. driver is "sqlite" or "pgx";
// tablePrefix must already be validated as an identifier.
func OpenSQL(driver, dsn, tablePrefix, metaKey string) (*SQL, error) {
	switch driver {
	case "sqlite", "pgx":
	default:
		return nil, fmt.Errorf("unsupported usage driver: %s", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open usage database: %w", err)
	}
	return NewSQL(db, driver, tablePrefix, metaKey), nil
}

// NewSQL wraps an existing connection
func NewSQL(db *sql.DB, driver, tablePrefix, metaKey string) *SQL {
	return &SQL{
		db:      db,
		driver:  driver,
		table:   tablePrefix + "postmeta",
		metaKey: metaKey,
	}
}

// Query returns the statement used to read values
func (s *SQL) Query() string {
	placeholder := "?"
	if s.driver == "pgx" {
		placeholder = "$1"
	}
	return fmt.Sprintf("SELECT meta_value FROM %s WHERE meta_key = %s", s.table, placeholder)
}

// UsedValues runs the query; NULL values are skipped
func (s *SQL) UsedValues(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.Query(), s.metaKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query used templates: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	values := []string{}
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan used template: %w", err)
		}
		if v.Valid {
			values = append(values, v.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read used templates: %w", err)
	}
	return values, nil
}

// Close releases the database handle
func (s *SQL) Close() error {
	return s.db.Close()
}
