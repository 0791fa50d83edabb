package importer

import (
	"context"

	"github.com/johndauphine/tg-migrate/internal/idmap"
	"github.com/johndauphine/tg-migrate/internal/logging"
)

var groupColumns = []string{
	"tenant_id", "tg_id", "project_id", "parent_id", "item_type", "name", "wbs", "sort_order", "color",
	"start_date", "end_date", "days", "percent_complete", "is_milestone", "is_active",
}

type subgroup struct {
	group     sourceChild
	projectID string
	parentTG  int64
}

// importGroups inserts top-level groups, then their direct subgroups once
// the parents have destination ids.
func (im *Importer) importGroups(ctx context.Context, res *StepResult) error {
	ids, err := im.projectDirs("children.json")
	if err != nil {
		return err
	}

	top := newRowSet("project_items", groupColumns...)
	var topIDs []int64
	var subs []subgroup

	for _, pid := range ids {
		projectID, ok := im.mapper.Get(idmap.Project, pid)
		if !ok {
			logging.Debug("Project %d not mapped, skipping its groups", pid)
			continue
		}
		var children []sourceChild
		if _, err := im.readOptional(projectFile(pid, "children.json"), &children); err != nil {
			return err
		}
		for _, c := range children {
			if c.Type != "group" {
				continue
			}
			if !im.mapper.Has(idmap.Group, int64(c.ID)) {
				top.add(im.groupRow(c, projectID, nil)...)
				topIDs = append(topIDs, int64(c.ID))
			} else {
				im.tally(res, "project_items", "skipped", 1)
			}
			for _, sc := range c.Children {
				if sc.Type == "group" && !im.mapper.Has(idmap.Group, int64(sc.ID)) {
					subs = append(subs, subgroup{group: sc, projectID: projectID, parentTG: int64(c.ID)})
				}
			}
		}
	}

	logging.Info("Pass 1: %d top-level groups", top.len())
	if top.len() > 0 {
		if err := im.write(ctx, top, res); err != nil {
			return err
		}
		if err := im.lookup(ctx, "project_items", idmap.Group, topIDs); err != nil {
			return err
		}
	}

	logging.Info("Pass 2: %d subgroups", len(subs))
	nested := newRowSet("project_items", groupColumns...)
	var nestedIDs []int64
	for _, s := range subs {
		parentID, ok := im.mapper.Get(idmap.Group, s.parentTG)
		if !ok {
			logging.Warn("Skipping subgroup %d: parent group %d not mapped", s.group.ID, s.parentTG)
			im.tally(res, "project_items", "skipped", 1)
			continue
		}
		nested.add(im.groupRow(s.group, s.projectID, parentID)...)
		nestedIDs = append(nestedIDs, int64(s.group.ID))
	}
	if nested.len() > 0 {
		if err := im.write(ctx, nested, res); err != nil {
			return err
		}
		if err := im.lookup(ctx, "project_items", idmap.Group, nestedIDs); err != nil {
			return err
		}
	}

	logging.Info("Total groups mapped: %d", im.mapper.Count(idmap.Group))
	return nil
}

func (im *Importer) groupRow(g sourceChild, projectID string, parentID any) []any {
	return []any{
		im.opts.TenantID, int64(g.ID), projectID, parentID, "group", g.Name, g.WBS, intOr(g.Sort, 0), g.Color,
		g.StartDate, g.EndDate, g.Days, floatOr(g.PercentComplete, 0), false, true,
	}
}

func intOr(p *int, def int) int {
	if p != nil {
		return *p
	}
	return def
}

func floatOr(p *float64, def float64) float64 {
	if p != nil {
		return *p
	}
	return def
}
