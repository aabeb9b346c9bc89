package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// CopyFrom streams rows into schema.table using the COPY protocol. An empty
// schema targets the search path.
func CopyFrom(ctx context.Context, c Copier, schema, table string, columns []string, src pgx.CopyFromSource) (int64, error) {
	ident := pgx.Identifier{table}
	if schema != "" {
		ident = pgx.Identifier{schema, table}
	}

	n, err := c.CopyFrom(ctx, ident, columns, src)
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", ident.Sanitize())
	}
	return n, nil
}
