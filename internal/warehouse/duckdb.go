package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/rotisserie/eris"

	"github.com/sells-group/sheetsync/internal/staging"
)

// DuckDB loads into an embedded DuckDB database file. Staged objects must
// be local files, which DuckDB reads directly with read_json.
type DuckDB struct {
	db *sql.DB
}

// OpenDuckDB opens (or creates) the database at path.
func OpenDuckDB(path string) (*DuckDB, error) {
	conn, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: open duckdb %s", path)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, eris.Wrapf(err, "warehouse: ping duckdb %s", path)
	}
	return &DuckDB{db: conn}, nil
}

// EnsureNamespace implements Warehouse.
func (d *DuckDB) EnsureNamespace(ctx context.Context, namespace string) error {
	if _, err := d.db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+quoteIdent(namespace)); err != nil {
		return eris.Wrapf(err, "warehouse: create schema %s", namespace)
	}
	return nil
}

// ReplaceFromStaged implements Warehouse.
func (d *DuckDB) ReplaceFromStaged(ctx context.Context, t Table, obj staging.Object, columns []string) error {
	if strings.Contains(obj.URI, "://") {
		return &LoadError{Kind: StagingFailure, Err: eris.Errorf("duckdb requires local staging, got %s", obj.URI)}
	}
	if _, err := d.db.ExecContext(ctx, replaceFromJSONSQL(t, obj.URI, columns)); err != nil {
		return classifyDuckDB(eris.Wrapf(err, "warehouse: load %s", t))
	}
	return nil
}

// classifyDuckDB separates rejections of the table definition, such as two
// columns differing only in case, from an unusable database. Only the latter
// may trip the loader's breaker.
func classifyDuckDB(err error) error {
	var derr *duckdb.Error
	if !errors.As(err, &derr) {
		return err
	}
	switch derr.Type {
	case duckdb.ErrorTypeBinder, duckdb.ErrorTypeCatalog, duckdb.ErrorTypeParser,
		duckdb.ErrorTypeSyntax, duckdb.ErrorTypeMismatchType, duckdb.ErrorTypeConversion,
		duckdb.ErrorTypeConstraint, duckdb.ErrorTypeDependency, duckdb.ErrorTypeInvalidInput:
		return schemaConflict(err)
	case duckdb.ErrorTypeIO:
		return &LoadError{Kind: StagingFailure, Err: err}
	default:
		return err
	}
}

// RowCount implements Warehouse.
func (d *DuckDB) RowCount(ctx context.Context, t Table) (int64, error) {
	var n int64
	q := "SELECT count(*) FROM " + quoteIdent(t.Namespace) + "." + quoteIdent(t.Name)
	if err := d.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "warehouse: count %s", t)
	}
	return n, nil
}

// Close implements Warehouse.
func (d *DuckDB) Close() error {
	return d.db.Close()
}

// replaceFromJSONSQL builds a CREATE OR REPLACE TABLE ... AS SELECT over
// read_json with an explicit all-VARCHAR column list, so neither types nor
// column order are inferred.
func replaceFromJSONSQL(t Table, path string, columns []string) string {
	cols := make([]string, len(columns))
	for i, c := range columns {
		cols[i] = quoteLiteral(c) + ": 'VARCHAR'"
	}
	return fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s.%s AS SELECT * FROM read_json(%s, format = 'newline_delimited', columns = {%s})",
		quoteIdent(t.Namespace), quoteIdent(t.Name), quoteLiteral(path), strings.Join(cols, ", "),
	)
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
