package warehouse

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/duckdb/duckdb-go/v2"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sheetsync/internal/model"
	"github.com/sells-group/sheetsync/internal/staging"
)

func newTestDuckDB(t *testing.T) (*DuckDB, *staging.Local) {
	t.Helper()
	dir := t.TempDir()
	d, err := OpenDuckDB(filepath.Join(dir, "wh.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })

	stager, err := staging.NewLocal(filepath.Join(dir, "staging"), "staging")
	require.NoError(t, err)
	return d, stager
}

func TestReplaceFromJSONSQL(t *testing.T) {
	got := replaceFromJSONSQL(Table{"sales", `le"ads`}, "/tmp/it's.jsonl", []string{"name", "o'clock"})
	assert.Equal(t,
		`CREATE OR REPLACE TABLE "sales"."le""ads" AS SELECT * FROM read_json('/tmp/it''s.jsonl', format = 'newline_delimited', columns = {'name': 'VARCHAR', 'o''clock': 'VARCHAR'})`,
		got)
}

func TestDuckDB_LoadRoundTrip(t *testing.T) {
	d, stager := newTestDuckDB(t)
	l := NewLoader(d, stager, LoaderOptions{})

	ds := dataset(5)
	report, err := l.Load(context.Background(), ds, unit)
	require.NoError(t, err)
	assert.Equal(t, int64(5), report.Rows)

	// Same data twice: same row count, replace not append.
	report, err = l.Load(context.Background(), ds, unit)
	require.NoError(t, err)
	assert.Equal(t, int64(5), report.Rows)
}

func TestDuckDB_ReplacesSchemaAndKeepsNulls(t *testing.T) {
	d, stager := newTestDuckDB(t)
	l := NewLoader(d, stager, LoaderOptions{})

	_, err := l.Load(context.Background(), dataset(3), unit)
	require.NoError(t, err)

	r := model.NewRecord(3)
	r.Set("email", "ada@example.com")
	r.SetNull("phone")
	r.Set("Full Name", "Ada")
	next := model.Dataset{Columns: []string{"email", "phone", "Full Name"}, Records: []model.Record{r}}

	report, err := l.Load(context.Background(), next, unit)
	require.NoError(t, err)
	assert.Equal(t, int64(1), report.Rows)

	var email, name string
	var phone *string
	row := d.db.QueryRow(`SELECT "email", "phone", "Full Name" FROM "sales_ds"."sales_leads"`)
	require.NoError(t, row.Scan(&email, &phone, &name))
	assert.Equal(t, "ada@example.com", email)
	assert.Nil(t, phone)
	assert.Equal(t, "Ada", name)

	var cols int
	require.NoError(t, d.db.QueryRow(
		`SELECT count(*) FROM information_schema.columns WHERE table_schema = 'sales_ds' AND table_name = 'sales_leads'`,
	).Scan(&cols))
	assert.Equal(t, 3, cols, "schema follows the latest dataset")
}

func TestDuckDB_EnsureNamespaceIdempotent(t *testing.T) {
	d, _ := newTestDuckDB(t)
	require.NoError(t, d.EnsureNamespace(context.Background(), "ops"))
	require.NoError(t, d.EnsureNamespace(context.Background(), "ops"))
}

func TestDuckDB_RejectsRemoteStaging(t *testing.T) {
	d, _ := newTestDuckDB(t)
	err := d.ReplaceFromStaged(context.Background(), Table{"s", "t"}, staging.Object{URI: "gs://b/o.jsonl"}, []string{"a"})
	require.Error(t, err)
	assert.Equal(t, StagingFailure, KindOf(err))
}

func TestClassifyDuckDB(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"duplicate column", &duckdb.Error{Type: duckdb.ErrorTypeBinder, Msg: `Binder Error: Column with name email already exists!`}, SchemaConflict},
		{"catalog", &duckdb.Error{Type: duckdb.ErrorTypeCatalog, Msg: "Catalog Error: Schema with name sales_ds does not exist!"}, SchemaConflict},
		{"conversion", &duckdb.Error{Type: duckdb.ErrorTypeConversion, Msg: "Conversion Error"}, SchemaConflict},
		{"staged file unreadable", &duckdb.Error{Type: duckdb.ErrorTypeIO, Msg: "IO Error: No files found"}, StagingFailure},
		{"connection", &duckdb.Error{Type: duckdb.ErrorTypeConnection, Msg: "Connection Error"}, DestinationUnavailable},
		{"not a duckdb error", eris.New("database is closed"), DestinationUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classifyDuckDB(eris.Wrapf(tt.err, "warehouse: load %s", Table{"sales_ds", "sales_leads"}))
			assert.Equal(t, tt.want, KindOf(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDuckDB_BinderErrorDoesNotTripBreaker(t *testing.T) {
	l, wh := newTestLoader(t, LoaderOptions{BreakerThreshold: 1})
	wh.replaceErr = classifyDuckDB(&duckdb.Error{
		Type: duckdb.ErrorTypeBinder,
		Msg:  `Binder Error: Column with name email already exists!`,
	})

	for range 3 {
		_, err := l.Load(context.Background(), dataset(2), unit)
		require.Error(t, err)
		assert.Equal(t, SchemaConflict, KindOf(err))
	}
	assert.Equal(t, 3, wh.replaces, "the breaker stays closed")
}
