package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sheetsync/internal/config"
	"github.com/sells-group/sheetsync/internal/model"
	"github.com/sells-group/sheetsync/internal/pipeline"
	"github.com/sells-group/sheetsync/internal/store"
)

func TestBuildPlan(t *testing.T) {
	def, err := config.ParseDefinition([]byte(`
groups:
  - name: rp
    kind: team_sheets
    dataset_id: planning
    team_sheets: [{team: A, sheet_id: a}]
    aggregated_views:
      - {name: Good, sheet_name: Data, table_id: rows}
      - {name: Bad, sheet_name: Data}
`))
	require.NoError(t, err)

	entries, skipped := buildPlan(def, "")
	require.Len(t, entries, 2)
	assert.Equal(t, 1, skipped)
	require.NotNil(t, entries[0].Unit)
	assert.Equal(t, "rows", entries[0].Unit.Table)
	assert.Equal(t, "rp/Bad: missing table_id", entries[1].Skip)
}

func TestPrintReport(t *testing.T) {
	var res model.RunResult
	res.Add(model.Outcome{State: model.UnitDone, Message: "Loaded 2 rows for V into p.d.t"})
	rep := pipeline.Report{RunID: "r1", Result: res, Duration: time.Second}

	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)

	runJSON = false
	require.NoError(t, printReport(cmd, rep))
	assert.Equal(t, "Loaded 2 rows for V into p.d.t\n", buf.String())

	buf.Reset()
	runJSON = true
	defer func() { runJSON = false }()
	require.NoError(t, printReport(cmd, rep))
	assert.Contains(t, buf.String(), `"run_id": "r1"`)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, err := openStore(ctx, &config.Config{Store: config.StoreConfig{Driver: "none"}})
	require.NoError(t, err)
	assert.IsType(t, store.Nop{}, st)

	dsn := filepath.Join(t.TempDir(), "runs.db")
	st, err = openStore(ctx, &config.Config{Store: config.StoreConfig{Driver: "sqlite", DatabaseURL: dsn}})
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, st)
	require.NoError(t, st.Close())

	_, err = openStore(ctx, &config.Config{Store: config.StoreConfig{Driver: "mongo"}})
	assert.Error(t, err)
}
