// Package merge combines the normalized datasets of one work unit.
package merge

import (
	"slices"

	"github.com/rotisserie/eris"

	"github.com/sells-group/sheetsync/internal/model"
)

// ErrNoData reports that a unit has nothing to load. It is a terminal but
// non-fatal outcome for the unit.
var ErrNoData = eris.New("merge: no data")

// Merge concatenates the inputs into one dataset. Inputs are ordered by
// source key first, so the output does not depend on fetch completion order.
// The column set is the union of all input fields in first-seen order; every
// record is conformed to it. Records with no non-null field are removed.
func Merge(inputs []model.SourceDataset) (model.Dataset, error) {
	if len(inputs) == 0 {
		return model.Dataset{}, ErrNoData
	}

	ordered := slices.Clone(inputs)
	slices.SortStableFunc(ordered, func(a, b model.SourceDataset) int {
		return a.Source.Key - b.Source.Key
	})

	var columns []string
	seen := make(map[string]bool)
	total := 0
	for _, in := range ordered {
		total += len(in.Records)
		for _, r := range in.Records {
			for _, f := range r.Fields() {
				if !seen[f] {
					seen[f] = true
					columns = append(columns, f)
				}
			}
		}
	}

	records := make([]model.Record, 0, total)
	for _, in := range ordered {
		for _, r := range in.Records {
			if r.AllNull(nil) {
				continue
			}
			records = append(records, r.Conform(columns))
		}
	}
	if len(records) == 0 {
		return model.Dataset{}, ErrNoData
	}

	return model.Dataset{Columns: columns, Records: records}, nil
}
