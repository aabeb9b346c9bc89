package model

import "time"

// Provenance field names injected into every normalized record.
const (
	FieldTeam       = "team"
	FieldDepartment = "department"
	FieldImportedAt = "imported_at"
)

// Provenance describes where a record came from and when it was harvested.
type Provenance struct {
	Team       string
	Department string
	ImportedAt time.Time
}

// Values returns the provenance as field/value pairs in the order they are appended.
func (p Provenance) Values() [][2]string {
	return [][2]string{
		{FieldTeam, p.Team},
		{FieldDepartment, p.Department},
		{FieldImportedAt, p.ImportedAt.UTC().Format(time.RFC3339)},
	}
}

// IsProvenanceField reports whether name is one of the injected fields.
func IsProvenanceField(name string) bool {
	switch name {
	case FieldTeam, FieldDepartment, FieldImportedAt:
		return true
	default:
		return false
	}
}
