// Package normalize converts raw sheet rows into canonical records.
package normalize

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/sheetsync/internal/model"
)

// Options controls value cleansing and column policy.
type Options struct {
	// NullTokens are cell values, compared after trimming, that mean "no
	// value". Blank and whitespace-only cells are always null.
	NullTokens []string
	// DropUnmapped drops raw columns that have no mapping entry instead of
	// passing them through under their raw label.
	DropUnmapped bool
}

type column struct {
	index int
	field string
}

// Normalize builds records from rows, whose first row is the header. It
// returns the records and soft warnings about the mapping. Output depends
// only on its inputs.
//
// Header labels are trimmed and NFC-normalized; blank labels drop their
// column. When two columns resolve to the same field the rightmost wins.
// Short rows are padded with nulls and cells beyond the header are ignored.
// Provenance fields follow the data fields, and a row whose data fields are
// all null is dropped.
func Normalize(rows [][]string, mapping model.ColumnMapping, prov model.Provenance, opts Options) ([]model.Record, []string) {
	if len(rows) == 0 {
		return nil, nil
	}

	nulls := make(map[string]struct{}, len(opts.NullTokens))
	for _, t := range opts.NullTokens {
		nulls[strings.TrimSpace(t)] = struct{}{}
	}

	mapping = cleanMapping(mapping)
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = cleanLabel(h)
	}

	var warnings []string
	if missing := mapping.Missing(header); len(missing) > 0 {
		warnings = append(warnings, fmt.Sprintf("mapped columns not present: %s", strings.Join(missing, ", ")))
	}

	columns, fields, dups := resolveColumns(header, mapping, opts.DropUnmapped)
	if len(dups) > 0 {
		warnings = append(warnings, fmt.Sprintf("duplicate columns, last wins: %s", strings.Join(dups, ", ")))
	}
	var shadowed []string
	for _, f := range fields {
		if model.IsProvenanceField(f) {
			shadowed = append(shadowed, f)
		}
	}
	if len(shadowed) > 0 {
		warnings = append(warnings, fmt.Sprintf("columns overwritten by provenance: %s", strings.Join(shadowed, ", ")))
	}
	if len(fields) == 0 {
		return nil, warnings
	}

	provValues := prov.Values()
	records := make([]model.Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := model.NewRecord(len(fields) + len(provValues))
		for _, f := range fields {
			rec.SetNull(f)
		}
		for _, c := range columns {
			if c.index >= len(row) {
				continue
			}
			if v, ok := cleanValue(row[c.index], nulls); ok {
				rec.Set(c.field, v)
			} else {
				rec.SetNull(c.field)
			}
		}
		if rec.AllNull(nil) {
			continue
		}
		for _, pv := range provValues {
			rec.Set(pv[0], pv[1])
		}
		records = append(records, rec)
	}
	return records, warnings
}

// resolveColumns maps header positions to canonical fields. fields lists
// each field once in first-seen order; for duplicates the later column
// replaces the earlier one.
func resolveColumns(header []string, mapping model.ColumnMapping, dropUnmapped bool) ([]column, []string, []string) {
	owner := make(map[string]int)
	var fields, dups []string
	for i, label := range header {
		if label == "" {
			continue
		}
		field, mapped := mapping.Canonical(label)
		if !mapped && dropUnmapped {
			continue
		}
		if _, seen := owner[field]; seen {
			dups = append(dups, field)
		} else {
			fields = append(fields, field)
		}
		owner[field] = i
	}

	columns := make([]column, 0, len(fields))
	for _, f := range fields {
		columns = append(columns, column{index: owner[f], field: f})
	}
	return columns, fields, dups
}

func cleanMapping(m model.ColumnMapping) model.ColumnMapping {
	out := make(model.ColumnMapping, len(m))
	for raw, field := range m {
		out[cleanLabel(raw)] = strings.TrimSpace(field)
	}
	return out
}

func cleanLabel(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// cleanValue returns the normalized cell text, or false when the cell is
// null-equivalent.
func cleanValue(s string, nulls map[string]struct{}) (string, bool) {
	t := strings.TrimSpace(s)
	if t == "" {
		return "", false
	}
	if _, ok := nulls[t]; ok {
		return "", false
	}
	return norm.NFC.String(s), true
}
