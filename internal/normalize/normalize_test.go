package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sheetsync/internal/model"
)

var prov = model.Provenance{
	Team:       "team-a",
	Department: "Sales",
	ImportedAt: time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600)),
}

var defaultOpts = Options{NullTokens: []string{"#N/A", "#REF!", "Loading..."}}

func values(t *testing.T, r model.Record) map[string]any {
	t.Helper()
	out := make(map[string]any)
	for k, v := range r.Map() {
		if v == nil {
			out[k] = nil
		} else {
			out[k] = *v
		}
	}
	return out
}

func TestNormalize_MapsAndInjectsProvenance(t *testing.T) {
	rows := [][]string{
		{"Full Name", "Revenue", "Notes"},
		{"Ada", "100", "vip"},
	}
	mapping := model.ColumnMapping{"Full Name": "name", "Revenue": "revenue"}

	recs, warnings := Normalize(rows, mapping, prov, defaultOpts)
	require.Len(t, recs, 1)
	assert.Empty(t, warnings)

	assert.Equal(t, []string{"name", "revenue", "Notes", "team", "department", "imported_at"}, recs[0].Fields())
	assert.Equal(t, map[string]any{
		"name":        "Ada",
		"revenue":     "100",
		"Notes":       "vip",
		"team":        "team-a",
		"department":  "Sales",
		"imported_at": "2026-03-01T11:30:00Z",
	}, values(t, recs[0]))
}

func TestNormalize_DropUnmapped(t *testing.T) {
	rows := [][]string{{"Full Name", "Notes"}, {"Ada", "vip"}}
	opts := defaultOpts
	opts.DropUnmapped = true

	recs, _ := Normalize(rows, model.ColumnMapping{"Full Name": "name"}, prov, opts)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"name", "team", "department", "imported_at"}, recs[0].Fields())
}

func TestNormalize_MissingMappingIsWarning(t *testing.T) {
	rows := [][]string{{"a"}, {"1"}}
	recs, warnings := Normalize(rows, model.ColumnMapping{"zeta": "z", "alpha": "x"}, prov, defaultOpts)
	require.Len(t, recs, 1)
	require.Len(t, warnings, 1)
	assert.Equal(t, "mapped columns not present: alpha, zeta", warnings[0])
}

func TestNormalize_NullTokensAndBlanks(t *testing.T) {
	rows := [][]string{
		{"a", "b", "c", "d"},
		{"#N/A", "  ", "", " #REF! "},
		{"x", "Loading...", "", ""},
	}

	recs, _ := Normalize(rows, nil, prov, defaultOpts)
	require.Len(t, recs, 1, "the all-null row is dropped")

	v := values(t, recs[0])
	assert.Equal(t, "x", v["a"])
	assert.Nil(t, v["b"])
	assert.Nil(t, v["c"])
	assert.Nil(t, v["d"])
}

func TestNormalize_ShortRowsArePadded(t *testing.T) {
	rows := [][]string{{"a", "b", "c"}, {"1"}, {"1", "2", "3", "extra"}}

	recs, _ := Normalize(rows, nil, prov, defaultOpts)
	require.Len(t, recs, 2)
	assert.Equal(t, recs[0].Fields(), recs[1].Fields())
	assert.Nil(t, values(t, recs[0])["c"])
	assert.NotContains(t, recs[1].Fields(), "")
	assert.Equal(t, "3", values(t, recs[1])["c"])
}

func TestNormalize_DuplicateHeadersLastWins(t *testing.T) {
	rows := [][]string{
		{"Email", "Name", "Email"},
		{"old@example.com", "Ada", "new@example.com"},
		{"only-first@example.com", "Bob", ""},
	}

	recs, warnings := Normalize(rows, nil, prov, defaultOpts)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"Email", "Name", "team", "department", "imported_at"}, recs[0].Fields())
	assert.Equal(t, "new@example.com", values(t, recs[0])["Email"])
	assert.Nil(t, values(t, recs[1])["Email"], "the rightmost column wins even when blank")
	assert.Equal(t, []string{"duplicate columns, last wins: Email"}, warnings)
}

func TestNormalize_MappingCollisionLastWins(t *testing.T) {
	rows := [][]string{{"Mail", "E-Mail"}, {"a@x", "b@x"}}
	mapping := model.ColumnMapping{"Mail": "email", "E-Mail": "email"}

	recs, _ := Normalize(rows, mapping, prov, defaultOpts)
	require.Len(t, recs, 1)
	assert.Equal(t, "b@x", values(t, recs[0])["email"])
}

func TestNormalize_ProvenanceOverwritesMappedColumn(t *testing.T) {
	rows := [][]string{{"Squad", "Name", "department"}, {"red", "Ada", "Ops"}}
	mapping := model.ColumnMapping{"Squad": "team"}

	recs, warnings := Normalize(rows, mapping, prov, defaultOpts)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"columns overwritten by provenance: team, department"}, warnings)
	assert.Equal(t, "team-a", values(t, recs[0])["team"])
	assert.Equal(t, "Sales", values(t, recs[0])["department"])
}

func TestNormalize_HeaderCleanup(t *testing.T) {
	// The header uses a combining accent; the mapping key is precomposed.
	rows := [][]string{{"  Cafe\u0301 ", "", "Ort"}, {"espresso", "ignored", "Berlin"}}

	recs, _ := Normalize(rows, model.ColumnMapping{"Caf\u00e9": "cafe"}, prov, defaultOpts)
	require.Len(t, recs, 1)
	assert.Equal(t, []string{"cafe", "Ort", "team", "department", "imported_at"}, recs[0].Fields())
}

func TestNormalize_HeaderOnlyAndEmpty(t *testing.T) {
	recs, warnings := Normalize(nil, nil, prov, defaultOpts)
	assert.Nil(t, recs)
	assert.Nil(t, warnings)

	recs, _ = Normalize([][]string{{"a", "b"}}, nil, prov, defaultOpts)
	assert.Empty(t, recs)

	recs, _ = Normalize([][]string{{"", " "}, {"1", "2"}}, nil, prov, defaultOpts)
	assert.Empty(t, recs)
}

func TestNormalize_Deterministic(t *testing.T) {
	rows := [][]string{{"b", "a", "b"}, {"1", "2", "3"}, {"4", "#N/A", ""}}
	mapping := model.ColumnMapping{"a": "alpha", "missing": "m"}

	first, w1 := Normalize(rows, mapping, prov, defaultOpts)
	for range 10 {
		again, w2 := Normalize(rows, mapping, prov, defaultOpts)
		assert.Equal(t, w1, w2)
		require.Len(t, again, len(first))
		for i := range first {
			assert.Equal(t, first[i].Fields(), again[i].Fields())
			assert.Equal(t, values(t, first[i]), values(t, again[i]))
		}
	}
}
