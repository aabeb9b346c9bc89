package model

import (
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// WorkUnit is one (group, view, department) combination. It produces exactly
// one destination table per run.
type WorkUnit struct {
	Group        string        `json:"group" yaml:"group"`
	View         string        `json:"view" yaml:"view"`
	Department   string        `json:"department,omitempty" yaml:"department,omitempty"`
	Namespace    string        `json:"namespace" yaml:"namespace"`
	Table        string        `json:"table" yaml:"table"`
	Sources      []SourceSpec  `json:"sources" yaml:"sources"`
	Mapping      ColumnMapping `json:"mapping,omitempty" yaml:"mapping,omitempty"`
	DropUnmapped bool          `json:"drop_unmapped,omitempty" yaml:"drop_unmapped,omitempty"`
}

// Name returns a human-readable label for the unit.
func (u WorkUnit) Name() string {
	if u.Department == "" {
		return u.View
	}
	return u.View + " - " + u.Department
}

// TableName derives the destination table for a view. It is a pure function
// of its inputs. With prefixing enabled, every known department prefix is
// stripped from the front of tableID and the department's own prefix is
// prepended; departments without a configured prefix use their slug.
func TableName(tableID, department string, prefixed bool, prefixes map[string]string) string {
	id := strings.TrimSpace(tableID)
	if !prefixed {
		return id
	}

	known := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		if p != "" {
			known = append(known, p+"_")
		}
	}
	// Longest first so "content_ops_" is stripped before "content_".
	sort.Slice(known, func(i, j int) bool {
		if len(known[i]) != len(known[j]) {
			return len(known[i]) > len(known[j])
		}
		return known[i] < known[j]
	})
	for stripped := true; stripped; {
		stripped = false
		for _, p := range known {
			if strings.HasPrefix(id, p) {
				id = strings.TrimPrefix(id, p)
				stripped = true
				break
			}
		}
	}

	prefix := prefixes[department]
	if prefix == "" {
		prefix = Slug(department)
	}
	if prefix == "" {
		prefix = "unknown"
	}
	return prefix + "_" + id
}

var foldMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug lowercases s, folds accents, and replaces every run of characters
// outside [a-z0-9] with a single underscore.
func Slug(s string) string {
	folded, _, err := transform.String(foldMarks, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(folded) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}
