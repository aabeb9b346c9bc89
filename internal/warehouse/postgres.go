package warehouse

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sheetsync/internal/db"
	"github.com/sells-group/sheetsync/internal/staging"
)

// Postgres loads into schemas of a Postgres database. Staged objects are
// read back through the stager and streamed in with COPY.
type Postgres struct {
	pool   db.Pool
	stager staging.Stager
	close  func()
}

// NewPostgres creates a Postgres warehouse. closeFn, if non-nil, is called
// by Close.
func NewPostgres(pool db.Pool, stager staging.Stager, closeFn func()) *Postgres {
	return &Postgres{pool: pool, stager: stager, close: closeFn}
}

// EnsureNamespace implements Warehouse.
func (p *Postgres) EnsureNamespace(ctx context.Context, namespace string) error {
	return db.EnsureSchema(ctx, p.pool, namespace)
}

// ReplaceFromStaged implements Warehouse.
func (p *Postgres) ReplaceFromStaged(ctx context.Context, t Table, obj staging.Object, columns []string) error {
	rc, err := p.stager.Open(ctx, obj)
	if err != nil {
		return &LoadError{Kind: StagingFailure, Err: err}
	}
	defer rc.Close() //nolint:errcheck

	src := &jsonlSource{r: staging.NewReader(rc), columns: columns}
	if _, err := db.ReplaceTable(ctx, p.pool, t.Namespace, t.Name, columns, src); err != nil {
		if src.err != nil {
			return &LoadError{Kind: StagingFailure, Err: src.err}
		}
		return classifyPostgres(err)
	}
	return nil
}

// RowCount implements Warehouse.
func (p *Postgres) RowCount(ctx context.Context, t Table) (int64, error) {
	return db.CountRows(ctx, p.pool, t.Namespace, t.Name)
}

// Close implements Warehouse.
func (p *Postgres) Close() error {
	if p.close != nil {
		p.close()
	}
	return nil
}

// classifyPostgres maps SQLSTATE classes: 42 (syntax or access rule, e.g.
// an over-long or duplicate column name) is a schema conflict.
func classifyPostgres(err error) error {
	code := db.SQLState(err)
	if strings.HasPrefix(code, "42") && code != "42501" {
		return schemaConflict(err)
	}
	return err
}

// jsonlSource adapts a staged JSONL stream to pgx.CopyFromSource.
type jsonlSource struct {
	r       *staging.Reader
	columns []string
	values  []any
	err     error
}

func (s *jsonlSource) Next() bool {
	m, err := s.r.Next()
	if err == io.EOF {
		return false
	}
	if err != nil {
		s.err = eris.Wrap(err, "warehouse: read staged object")
		return false
	}

	s.values = make([]any, len(s.columns))
	for i, c := range s.columns {
		if v := m[c]; v != nil {
			s.values[i] = *v
		}
	}
	return true
}

func (s *jsonlSource) Values() ([]any, error) {
	return s.values, nil
}

func (s *jsonlSource) Err() error {
	return s.err
}
