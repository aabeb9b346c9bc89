package staging

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/sheetsync/internal/model"
)

func testDataset() model.Dataset {
	a := model.NewRecord(3)
	a.Set("name", "Ada \"the first\"")
	a.SetNull("email")
	a.Set("city", "Zürich")

	b := model.NewRecord(3)
	b.Set("name", "Bob")
	b.Set("email", "bob@example.com")
	b.SetNull("city")

	return model.Dataset{Columns: []string{"name", "email", "city"}, Records: []model.Record{a, b}}
}

func TestObjectName(t *testing.T) {
	id := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("CET", 3600))

	assert.Equal(t, "staging/sales_leads/20260102_020405_0f8fad5b.jsonl", ObjectName("staging/", "sales_leads", now, id))
	assert.Equal(t, "sales_leads/20260102_020405_0f8fad5b.jsonl", ObjectName("", "sales_leads", now, id))
}

func TestObjectName_Unique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for range 100 {
		name := ObjectName("p", "t", now, uuid.New())
		assert.False(t, seen[name])
		seen[name] = true
	}
}

func TestEncode(t *testing.T) {
	var buf bytes.Buffer
	n, err := Encode(&buf, testDataset())
	require.NoError(t, err)

	want := `{"name":"Ada \"the first\"","email":null,"city":"Zürich"}` + "\n" +
		`{"name":"Bob","email":"bob@example.com","city":null}` + "\n"
	assert.Equal(t, want, buf.String())
	assert.Equal(t, int64(len(want)), n)
}

func TestEncode_Empty(t *testing.T) {
	var buf bytes.Buffer
	n, err := Encode(&buf, model.Dataset{Columns: []string{"a"}})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, buf.String())
}

func readAll(t *testing.T, r io.Reader) ([]map[string]*string, error) {
	t.Helper()
	rd := NewReader(r)
	var got []map[string]*string
	for {
		m, err := rd.Next()
		if err == io.EOF {
			return got, nil
		}
		if err != nil {
			return got, err
		}
		got = append(got, m)
	}
}

func TestReader_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	_, err := Encode(&buf, testDataset())
	require.NoError(t, err)

	got, err := readAll(t, &buf)
	require.NoError(t, err)

	require.Len(t, got, 2)
	assert.Equal(t, "Ada \"the first\"", *got[0]["name"])
	assert.Nil(t, got[0]["email"])
	assert.Contains(t, got[0], "email")
	assert.Equal(t, "bob@example.com", *got[1]["email"])
}

func TestReader_Malformed(t *testing.T) {
	got, err := readAll(t, strings.NewReader("{\"a\":\"1\"}\n{oops}\n"))
	require.Error(t, err)
	assert.Len(t, got, 1)
	assert.Contains(t, err.Error(), "decode record 2")
}

func TestLocal_StageAndOpen(t *testing.T) {
	dir := t.TempDir()
	l, err := NewLocal(dir, "staging")
	require.NoError(t, err)
	l.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

	obj, err := l.Stage(context.Background(), "sales_leads", testDataset())
	require.NoError(t, err)

	assert.Regexp(t, regexp.MustCompile(`^staging/sales_leads/20260102_030405_[0-9a-f]{8}\.jsonl$`), obj.Name)
	assert.Equal(t, filepath.Join(dir, "staging", "sales_leads", filepath.Base(obj.Name)), obj.URI)
	assert.Equal(t, 2, obj.Rows)
	assert.Positive(t, obj.Bytes)

	rc, err := l.Open(context.Background(), obj)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))

	entries, err := os.ReadDir(filepath.Dir(obj.URI))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestLocal_RepeatedStagesDoNotCollide(t *testing.T) {
	l, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)

	a, err := l.Stage(context.Background(), "t", testDataset())
	require.NoError(t, err)
	b, err := l.Stage(context.Background(), "t", testDataset())
	require.NoError(t, err)
	assert.NotEqual(t, a.Name, b.Name)
}

func TestLocal_OpenMissing(t *testing.T) {
	l, err := NewLocal(t.TempDir(), "")
	require.NoError(t, err)

	_, err = l.Open(context.Background(), Object{Name: "nope.jsonl"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "staging: open nope.jsonl")
}
