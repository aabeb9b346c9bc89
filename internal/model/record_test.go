package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecord_SetKeepsFirstPosition(t *testing.T) {
	r := NewRecord(3)
	r.Set("a", "1")
	r.Set("b", "2")
	r.Set("a", "3")

	assert.Equal(t, []string{"a", "b"}, r.Fields())
	v, ok := r.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "3", v)
}

func TestRecord_SetNull(t *testing.T) {
	r := NewRecord(2)
	r.Set("a", "1")
	r.SetNull("a")
	r.SetNull("b")

	assert.True(t, r.Has("a"))
	assert.True(t, r.Has("b"))
	_, ok := r.Get("a")
	assert.False(t, ok)
	assert.True(t, r.AllNull(nil))
}

func TestRecord_AllNullSkip(t *testing.T) {
	r := NewRecord(2)
	r.SetNull("name")
	r.Set(FieldTeam, "Team A")

	assert.False(t, r.AllNull(nil))
	assert.True(t, r.AllNull(IsProvenanceField))
}

func TestRecord_Conform(t *testing.T) {
	r := NewRecord(2)
	r.Set("b", "2")
	r.Set("extra", "x")

	out := r.Conform([]string{"a", "b"})
	assert.Equal(t, []string{"a", "b"}, out.Fields())
	_, ok := out.Get("a")
	assert.False(t, ok)
	v, _ := out.Get("b")
	assert.Equal(t, "2", v)
	assert.False(t, out.Has("extra"))
}

func TestRecord_Map(t *testing.T) {
	r := NewRecord(2)
	r.Set("a", "1")
	r.SetNull("b")

	m := r.Map()
	assert.Len(t, m, 2)
	assert.Equal(t, "1", *m["a"])
	assert.Nil(t, m["b"])
}

func TestRecord_ZeroValueUsable(t *testing.T) {
	var r Record
	r.Set("a", "1")
	assert.Equal(t, 1, r.Len())
}

func TestDataset_Release(t *testing.T) {
	ds := Dataset{Columns: []string{"a"}, Records: []Record{NewRecord(1)}}
	assert.Equal(t, 1, ds.Len())
	ds.Release()
	assert.Equal(t, 0, ds.Len())
}
