package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Postgres error codes tolerated when creating a schema concurrently.
const (
	codeDuplicateSchema = "42P06"
	codeUniqueViolation = "23505"
)

// EnsureSchema creates schema if it does not exist. A concurrent creator
// winning the race is not an error.
func EnsureSchema(ctx context.Context, pool Pool, schema string) error {
	_, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize())
	if err == nil {
		return nil
	}
	switch SQLState(err) {
	case codeDuplicateSchema, codeUniqueViolation:
		return nil
	}
	return eris.Wrapf(err, "db: create schema %s", schema)
}

// ReplaceTable drops and recreates schema.table with one text column per
// entry of columns, then COPYs src into it, all in one transaction. Readers
// see either the old table or the complete new one.
func ReplaceTable(ctx context.Context, pool Pool, schema, table string, columns []string, src pgx.CopyFromSource) (int64, error) {
	if len(columns) == 0 {
		return 0, eris.Errorf("db: replace %s.%s: no columns", schema, table)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ident := pgx.Identifier{schema, table}.Sanitize()
	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return 0, eris.Wrapf(err, "db: replace: drop %s", ident)
	}
	if _, err := tx.Exec(ctx, CreateTextTableSQL(schema, table, columns)); err != nil {
		return 0, eris.Wrapf(err, "db: replace: create %s", ident)
	}

	n, err := CopyFrom(ctx, tx, schema, table, columns, src)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}
	return n, nil
}

// CountRows returns the number of rows in schema.table.
func CountRows(ctx context.Context, pool Pool, schema, table string) (int64, error) {
	var n int64
	ident := pgx.Identifier{schema, table}.Sanitize()
	if err := pool.QueryRow(ctx, "SELECT count(*) FROM "+ident).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "db: count %s", ident)
	}
	return n, nil
}

// CreateTextTableSQL returns the CREATE TABLE statement for an all-text table.
func CreateTextTableSQL(schema, table string, columns []string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = pgx.Identifier{c}.Sanitize() + " text"
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", pgx.Identifier{schema, table}.Sanitize(), strings.Join(defs, ", "))
}
