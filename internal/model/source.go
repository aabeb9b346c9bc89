// Package model defines the core data types shared by the sheetsync pipeline.
package model

import (
	"sort"
	"strings"
)

// Protocol selects how a source is retrieved.
type Protocol string

const (
	// ProtocolValues reads a range through the Sheets values API.
	ProtocolValues Protocol = "values"
	// ProtocolCSV downloads the worksheet as a CSV export.
	ProtocolCSV Protocol = "csv"
	// ProtocolXLSX downloads the whole document as an XLSX export and reads one worksheet.
	ProtocolXLSX Protocol = "xlsx"
)

// Valid reports whether p is a known protocol.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolValues, ProtocolCSV, ProtocolXLSX:
		return true
	default:
		return false
	}
}

// SourceSpec identifies one retrievable source. It is derived from
// configuration at the start of each run and never mutated.
type SourceSpec struct {
	// Key orders sources deterministically within a unit (configuration position).
	Key        int      `json:"key" yaml:"key"`
	Label      string   `json:"label" yaml:"label"`
	Department string   `json:"department" yaml:"department"`
	DocumentID string   `json:"document_id" yaml:"document_id"`
	Sheet      string   `json:"sheet" yaml:"sheet"`
	Range      string   `json:"range,omitempty" yaml:"range,omitempty"`
	Protocol   Protocol `json:"protocol" yaml:"protocol"`
}

// Selector returns the A1-style selector for the source: "Sheet!Range",
// "Sheet" when no range is set, or the bare range when no sheet is set.
func (s SourceSpec) Selector() string {
	sheet := strings.TrimSpace(s.Sheet)
	rng := strings.TrimSpace(s.Range)
	switch {
	case sheet != "" && rng != "":
		return sheet + "!" + rng
	case sheet != "":
		return sheet
	default:
		return rng
	}
}

// String returns a short human-readable identifier for logs and results.
func (s SourceSpec) String() string {
	if s.Label != "" {
		return s.Label
	}
	return s.DocumentID + "/" + s.Selector()
}

// ColumnMapping maps raw column labels to canonical field names.
// It is not required to be total.
type ColumnMapping map[string]string

// Canonical returns the canonical name for a raw label, or the label itself
// and false when the mapping has no entry for it.
func (m ColumnMapping) Canonical(raw string) (string, bool) {
	c, ok := m[raw]
	if !ok || c == "" {
		return raw, false
	}
	return c, true
}

// Missing returns the raw labels of mapping entries that have no matching
// header, sorted for stable reporting.
func (m ColumnMapping) Missing(headers []string) []string {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}
	var missing []string
	for raw := range m {
		if !present[raw] {
			missing = append(missing, raw)
		}
	}
	sort.Strings(missing)
	return missing
}
