package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyFrom_SchemaQualified(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"marketing", "leads"}, []string{"a"}).WillReturnResult(2)

	n, err := CopyFrom(context.Background(), mock, "marketing", "leads", []string{"a"},
		pgx.CopyFromRows([][]any{{"1"}, {"2"}}))
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCopyFrom_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectCopyFrom(pgx.Identifier{"marketing", "leads"}, []string{"a"}).WillReturnError(fmt.Errorf("copy failed"))

	_, err = CopyFrom(context.Background(), mock, "marketing", "leads", []string{"a"}, pgx.CopyFromRows([][]any{{"1"}}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `COPY INTO "marketing"."leads"`)
	assert.NoError(t, mock.ExpectationsWereMet())
}
