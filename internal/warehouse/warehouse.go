// Package warehouse performs staged replace-loads of merged datasets into
// BigQuery, Postgres, or DuckDB.
package warehouse

import (
	"context"
	"errors"
	"fmt"

	"github.com/sells-group/sheetsync/internal/staging"
)

// Table addresses a destination table.
type Table struct {
	Namespace string
	Name      string
}

func (t Table) String() string {
	return t.Namespace + "." + t.Name
}

// Warehouse is a destination that can load staged JSONL files. Every column
// is loaded as text.
type Warehouse interface {
	// EnsureNamespace creates the dataset or schema if absent. It must be
	// idempotent and tolerate a concurrent creator.
	EnsureNamespace(ctx context.Context, namespace string) error
	// ReplaceFromStaged replaces the contents and schema of t with the
	// staged object.
	ReplaceFromStaged(ctx context.Context, t Table, obj staging.Object, columns []string) error
	// RowCount returns the number of rows in t.
	RowCount(ctx context.Context, t Table) (int64, error)
	Close() error
}

// ErrorKind classifies a load failure.
type ErrorKind int

const (
	// DestinationUnavailable covers warehouse outages, permission errors,
	// and anything not classified more precisely.
	DestinationUnavailable ErrorKind = iota
	// StagingFailure means the dataset could not be written to staging.
	StagingFailure
	// SchemaConflict means the warehouse rejected the table definition.
	SchemaConflict
	// LoadTimeout means the load did not finish within the load timeout.
	LoadTimeout
	// RowCountMismatch means the table holds a different number of rows
	// than were staged.
	RowCountMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case StagingFailure:
		return "staging failure"
	case SchemaConflict:
		return "schema conflict"
	case LoadTimeout:
		return "load timeout"
	case RowCountMismatch:
		return "row count mismatch"
	default:
		return "destination unavailable"
	}
}

// LoadError is returned by Loader.Load.
type LoadError struct {
	Kind  ErrorKind
	Table string
	Err   error
}

func (e *LoadError) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("warehouse: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("warehouse: %s: %s: %v", e.Table, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a load error, or DestinationUnavailable for
// unclassified errors.
func KindOf(err error) ErrorKind {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind
	}
	return DestinationUnavailable
}

func schemaConflict(err error) error {
	return &LoadError{Kind: SchemaConflict, Err: err}
}
