package pipeline

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/sheetsync/internal/config"
	"github.com/sells-group/sheetsync/internal/model"
)

// StructuralError is a misconfiguration that prevents a unit from running.
// The unit is reported as skipped and nothing is fetched for it.
type StructuralError struct {
	Group  string
	Unit   string
	Reason string
}

func (e *StructuralError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("%s: %s", e.Group, e.Reason)
	}
	return fmt.Sprintf("%s/%s: %s", e.Group, e.Unit, e.Reason)
}

// PlannedUnit is one entry of a run plan: either a unit to process or the
// structural error that replaces it.
type PlannedUnit struct {
	Unit model.WorkUnit
	Err  *StructuralError
}

// PlanOptions filters the plan.
type PlanOptions struct {
	// OnlyGroup restricts the plan to the named group when set.
	OnlyGroup string
}

// Plan expands a definition into work units in configuration order.
// Disabled groups are left out. Misconfigured groups and views become
// structural errors in place of their units.
func Plan(def *config.Definition, opts PlanOptions) []PlannedUnit {
	var plan []PlannedUnit
	matched := false

	for _, gs := range def.Groups {
		if gs.Group == nil {
			continue
		}
		h := gs.Header()
		if opts.OnlyGroup != "" && h.Name != opts.OnlyGroup {
			continue
		}
		matched = true

		if !h.IsEnabled() {
			zap.L().Info("pipeline: group disabled", zap.String("group", h.Name))
			continue
		}
		if strings.TrimSpace(h.Name) == "" {
			plan = append(plan, structural("", "", "group has no name"))
			continue
		}

		switch g := gs.Group.(type) {
		case *config.TeamSheetsGroup:
			plan = append(plan, planTeamSheets(g)...)
		case *config.MasterSheetGroup:
			plan = append(plan, planMasterSheet(g)...)
		case *config.InvalidGroup:
			plan = append(plan, structural(h.Name, "", g.Reason))
		}
	}

	if opts.OnlyGroup != "" && !matched {
		plan = append(plan, structural(opts.OnlyGroup, "", "group not found in definition"))
	}
	return plan
}

func structural(group, unit, reason string) PlannedUnit {
	return PlannedUnit{Err: &StructuralError{Group: group, Unit: unit, Reason: reason}}
}

// selection is the worksheet part of a view shared by team_sheets views and
// master_sheet departments.
type selection struct {
	tableID        string
	sheetName      string
	rng            string
	columns        model.ColumnMapping
	requireMapping bool
}

// check returns the reason a selection cannot run, or "".
func (s selection) check(datasetID string) string {
	switch {
	case strings.TrimSpace(datasetID) == "":
		return "missing dataset_id"
	case strings.TrimSpace(s.tableID) == "":
		return "missing table_id"
	case strings.TrimSpace(s.sheetName) == "" && strings.TrimSpace(s.rng) == "":
		return "missing sheet_name and range"
	case s.requireMapping && len(s.columns) == 0:
		return "column mapping is required but empty"
	}
	return ""
}

func planTeamSheets(g *config.TeamSheetsGroup) []PlannedUnit {
	if len(g.Views) == 0 {
		return []PlannedUnit{structural(g.Name, "", "no aggregated_views configured")}
	}

	var plan []PlannedUnit
	for _, v := range g.Views {
		name := firstNonEmpty(v.Name, v.TableID, v.SheetName)
		sel := selection{tableID: v.TableID, sheetName: v.SheetName, rng: v.Range, columns: v.Columns, requireMapping: v.RequireMapping}
		if reason := sel.check(g.DatasetID); reason != "" {
			plan = append(plan, structural(g.Name, name, reason))
			continue
		}

		// Without prefixing and without a department filter every team
		// feeds one table.
		if !g.DepartmentPrefix && v.Department == "" {
			plan = append(plan, PlannedUnit{Unit: teamUnit(g, v, name, "", false)})
			continue
		}

		for _, dept := range viewDepartments(g, v) {
			plan = append(plan, PlannedUnit{Unit: teamUnit(g, v, name, dept, true)})
		}
	}
	return plan
}

// viewDepartments returns the view's own department, or every department
// of the group's sources in first-seen order.
func viewDepartments(g *config.TeamSheetsGroup, v config.View) []string {
	if v.Department != "" {
		return []string{v.Department}
	}
	seen := make(map[string]bool)
	var depts []string
	for _, ts := range g.Sources {
		if !seen[ts.Department] {
			seen[ts.Department] = true
			depts = append(depts, ts.Department)
		}
	}
	return depts
}

// teamUnit builds the unit for one view and department. With byDept set
// only the department's teams are included.
func teamUnit(g *config.TeamSheetsGroup, v config.View, name, dept string, byDept bool) model.WorkUnit {
	u := model.WorkUnit{
		Group:        g.Name,
		View:         name,
		Department:   dept,
		Namespace:    strings.TrimSpace(g.DatasetID),
		Table:        model.TableName(v.TableID, dept, g.DepartmentPrefix, g.DepartmentPrefixes),
		Mapping:      v.Columns,
		DropUnmapped: v.DropUnmapped,
	}
	for i, ts := range g.Sources {
		if byDept && ts.Department != dept {
			continue
		}
		u.Sources = append(u.Sources, model.SourceSpec{
			Key:        i,
			Label:      firstNonEmpty(ts.Team, ts.SheetID),
			Department: ts.Department,
			DocumentID: strings.TrimSpace(ts.SheetID),
			Sheet:      v.SheetName,
			Range:      v.Range,
			Protocol:   ts.Protocol,
		})
	}
	return u
}

func planMasterSheet(g *config.MasterSheetGroup) []PlannedUnit {
	if len(g.Departments) == 0 {
		return []PlannedUnit{structural(g.Name, "", "no departments configured")}
	}

	var plan []PlannedUnit
	for _, d := range g.Departments {
		name := firstNonEmpty(d.Name, d.SheetName, d.TableID)
		sel := selection{tableID: d.TableID, sheetName: d.SheetName, rng: d.Range, columns: d.Columns, requireMapping: d.RequireMapping}
		reason := sel.check(g.DatasetID)
		if reason == "" && g.Master.Protocol != "" && !g.Master.Protocol.Valid() {
			reason = fmt.Sprintf("unsupported protocol %q", g.Master.Protocol)
		}
		if reason != "" {
			plan = append(plan, structural(g.Name, name, reason))
			continue
		}

		plan = append(plan, PlannedUnit{Unit: model.WorkUnit{
			Group:        g.Name,
			View:         name,
			Department:   d.Department,
			Namespace:    strings.TrimSpace(g.DatasetID),
			Table:        model.TableName(d.TableID, d.Department, g.DepartmentPrefix, g.DepartmentPrefixes),
			Mapping:      d.Columns,
			DropUnmapped: d.DropUnmapped,
			Sources: []model.SourceSpec{{
				Label:      firstNonEmpty(g.Master.Label, d.Department, g.Master.SheetID),
				Department: d.Department,
				DocumentID: strings.TrimSpace(g.Master.SheetID),
				Sheet:      d.SheetName,
				Range:      d.Range,
				Protocol:   g.Master.Protocol,
			}},
		}})
	}
	return plan
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
