package config

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/sheetsync/internal/model"
)

// GroupKind discriminates the group variants of the definition document.
type GroupKind string

const (
	// KindTeamSheets is a flat list of per-team documents plus views that
	// name a worksheet, range, and column mapping shared by all teams.
	KindTeamSheets GroupKind = "team_sheets"
	// KindMasterSheet is one master document with one worksheet per department.
	KindMasterSheet GroupKind = "master_sheet"
)

// Definition is the parsed group definition document. Column labels are
// case-sensitive, so it is decoded with yaml.v3 rather than viper. JSON
// documents are valid input.
type Definition struct {
	Groups []GroupSpec `yaml:"groups"`
}

// GroupHeader holds the fields shared by every group kind.
type GroupHeader struct {
	Name               string            `yaml:"name"`
	Kind               GroupKind         `yaml:"kind"`
	Enabled            *bool             `yaml:"enabled"`
	DatasetID          string            `yaml:"dataset_id"`
	DepartmentPrefix   bool              `yaml:"department_prefix"`
	DepartmentPrefixes map[string]string `yaml:"department_prefixes"`
}

// Header returns the shared header.
func (h GroupHeader) Header() GroupHeader { return h }

// IsEnabled reports whether the group should run. Groups are enabled unless
// explicitly disabled.
func (h GroupHeader) IsEnabled() bool {
	return h.Enabled == nil || *h.Enabled
}

// Group is one variant of the group union: *TeamSheetsGroup,
// *MasterSheetGroup, or *InvalidGroup.
type Group interface {
	Header() GroupHeader
}

// TeamSource is one team's spreadsheet in a team_sheets group.
type TeamSource struct {
	Team       string         `yaml:"team"`
	Department string         `yaml:"department"`
	SheetID    string         `yaml:"sheet_id"`
	Protocol   model.Protocol `yaml:"protocol"`
}

// View names the worksheet, range, and column mapping read from every team
// source, and the table it lands in.
type View struct {
	Name           string              `yaml:"name"`
	SheetName      string              `yaml:"sheet_name"`
	Range          string              `yaml:"range"`
	TableID        string              `yaml:"table_id"`
	Department     string              `yaml:"department"`
	Columns        model.ColumnMapping `yaml:"columns"`
	DropUnmapped   bool                `yaml:"drop_unmapped"`
	RequireMapping bool                `yaml:"require_mapping"`
}

// TeamSheetsGroup fans each view out over the departments of its team sources.
type TeamSheetsGroup struct {
	GroupHeader `yaml:",inline"`
	Sources     []TeamSource `yaml:"team_sheets"`
	Views       []View       `yaml:"aggregated_views"`
}

// MasterSource is the single document of a master_sheet group.
type MasterSource struct {
	Label    string         `yaml:"label"`
	SheetID  string         `yaml:"sheet_id"`
	Protocol model.Protocol `yaml:"protocol"`
}

// DepartmentSheet is one department's worksheet within the master document.
type DepartmentSheet struct {
	Name           string              `yaml:"name"`
	Department     string              `yaml:"department"`
	SheetName      string              `yaml:"sheet_name"`
	Range          string              `yaml:"range"`
	TableID        string              `yaml:"table_id"`
	Columns        model.ColumnMapping `yaml:"columns"`
	DropUnmapped   bool                `yaml:"drop_unmapped"`
	RequireMapping bool                `yaml:"require_mapping"`
}

// MasterSheetGroup reads one worksheet per department from a master document.
type MasterSheetGroup struct {
	GroupHeader `yaml:",inline"`
	Master      MasterSource      `yaml:"master"`
	Departments []DepartmentSheet `yaml:"departments"`
}

// InvalidGroup is a group whose kind could not be recognized. It is kept so
// the run can report it instead of silently dropping it.
type InvalidGroup struct {
	GroupHeader
	Reason string
}

// GroupSpec decodes one group entry into the variant named by its kind.
type GroupSpec struct {
	Group
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (g *GroupSpec) UnmarshalYAML(node *yaml.Node) error {
	var h GroupHeader
	if err := node.Decode(&h); err != nil {
		return err
	}

	switch h.Kind {
	case KindTeamSheets:
		var tg TeamSheetsGroup
		if err := node.Decode(&tg); err != nil {
			return err
		}
		g.Group = &tg
	case KindMasterSheet:
		var mg MasterSheetGroup
		if err := node.Decode(&mg); err != nil {
			return err
		}
		g.Group = &mg
	default:
		g.Group = &InvalidGroup{
			GroupHeader: h,
			Reason:      fmt.Sprintf("unknown group kind %q", h.Kind),
		}
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (g GroupSpec) MarshalYAML() (any, error) {
	return g.Group, nil
}

// ParseDefinition decodes a definition document.
func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, eris.Wrap(err, "config: parse definition")
	}
	return &def, nil
}

// LoadDefinition reads and decodes the definition document at path.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read definition %s", path)
	}
	return ParseDefinition(data)
}
