package model

// Record is an ordered mapping of canonical field name to text value.
// A field that is declared but has no value is null-equivalent.
type Record struct {
	fields []string
	values map[string]string
	index  map[string]int
}

// NewRecord returns an empty record with room for n fields.
func NewRecord(n int) Record {
	return Record{
		fields: make([]string, 0, n),
		values: make(map[string]string, n),
		index:  make(map[string]int, n),
	}
}

func (r *Record) declare(field string) {
	if r.index == nil {
		r.index = make(map[string]int)
		r.values = make(map[string]string)
	}
	if _, ok := r.index[field]; !ok {
		r.index[field] = len(r.fields)
		r.fields = append(r.fields, field)
	}
}

// Set assigns a non-null value. Setting an existing field keeps its position.
func (r *Record) Set(field, value string) {
	r.declare(field)
	r.values[field] = value
}

// SetNull declares field with a null-equivalent value.
func (r *Record) SetNull(field string) {
	r.declare(field)
	delete(r.values, field)
}

// Get returns the value of field and whether it is non-null.
func (r Record) Get(field string) (string, bool) {
	v, ok := r.values[field]
	return v, ok
}

// Has reports whether field is declared on the record, null or not.
func (r Record) Has(field string) bool {
	_, ok := r.index[field]
	return ok
}

// Fields returns the declared fields in order.
func (r Record) Fields() []string {
	return r.fields
}

// Len returns the number of declared fields.
func (r Record) Len() int {
	return len(r.fields)
}

// AllNull reports whether every field not excluded by skip is null.
// A nil skip considers every field.
func (r Record) AllNull(skip func(field string) bool) bool {
	for _, f := range r.fields {
		if skip != nil && skip(f) {
			continue
		}
		if _, ok := r.values[f]; ok {
			return false
		}
	}
	return true
}

// Conform returns a copy of r whose fields are exactly columns, in that
// order. Fields absent from r become null.
func (r Record) Conform(columns []string) Record {
	out := NewRecord(len(columns))
	for _, c := range columns {
		if v, ok := r.values[c]; ok {
			out.Set(c, v)
		} else {
			out.SetNull(c)
		}
	}
	return out
}

// Map returns the record as a map with nil for null values.
func (r Record) Map() map[string]*string {
	m := make(map[string]*string, len(r.fields))
	for _, f := range r.fields {
		if v, ok := r.values[f]; ok {
			m[f] = &v
		} else {
			m[f] = nil
		}
	}
	return m
}

// Dataset is the merged, string-only output for one work unit. Every record
// carries exactly Columns.
type Dataset struct {
	Columns []string
	Records []Record
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.Records)
}

// Release drops the record buffer once the dataset has been loaded.
func (d *Dataset) Release() {
	d.Records = nil
}

// SourceDataset is the normalized contribution of one source.
type SourceDataset struct {
	Source  SourceSpec
	Records []Record
}
