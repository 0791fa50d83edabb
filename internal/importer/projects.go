package importer

import (
	"context"
	"strconv"

	"github.com/johndauphine/tg-migrate/internal/idmap"
	"github.com/johndauphine/tg-migrate/internal/logging"
)

var defaultWorkDays = []int{1, 2, 3, 4, 5}

// importProjects inserts unmapped projects, then the memberships of every
// mapped project in the snapshot. Memberships already stored are skipped, so
// a run interrupted between the two passes completes them on resume.
func (im *Importer) importProjects(ctx context.Context, res *StepResult) error {
	ids, err := im.projectDirs("project.json")
	if err != nil {
		return err
	}
	logging.Info("Found %d project directories", len(ids))

	projects := newRowSet("projects",
		"tenant_id", "tg_id", "name", "status", "default_view", "start_date", "end_date", "work_days",
		"is_template", "is_starred", "has_hours_enabled", "lock_milestone_dates",
		"allow_scheduling_on_holidays", "in_resource_management", "is_active", "created_at")
	var all []sourceProject
	var tgIDs []int64

	for _, id := range ids {
		var p sourceProject
		if _, err := im.readOptional(projectFile(id, "project.json"), &p); err != nil {
			return err
		}
		if p.ID == 0 {
			p.ID = sourceID(id)
		}
		all = append(all, p)
		if im.mapper.Has(idmap.Project, id) {
			im.tally(res, "projects", "skipped", 1)
			continue
		}
		status := p.Status
		if status == "" {
			status = "active"
		}
		workDays := p.ChartDays
		if len(workDays) == 0 {
			workDays = defaultWorkDays
		}
		projects.add(
			im.opts.TenantID, int64(p.ID), p.Name,
			NormalizeProjectStatus(status), NormalizeViewType(p.DefaultView),
			p.StartDate, p.EndDate, workDays,
			p.IsTemplate, p.IsStarred, p.HasHoursEnabled, p.LockMilestoneDates,
			p.AllowSchedulingOnHolidays, p.InResourceManagement, !p.IsDisabled,
			nowOr(p.CreatedDate),
		)
		tgIDs = append(tgIDs, int64(p.ID))
	}

	if projects.len() > 0 {
		if err := im.write(ctx, projects, res); err != nil {
			return err
		}
		if err := im.lookup(ctx, "projects", idmap.Project, tgIDs); err != nil {
			return err
		}
	}

	logging.Info("--- Project Members ---")
	members := newRowSet("project_members",
		"tenant_id", "tg_id", "project_id", "user_id", "permission", "status", "color", "is_active")
	unmapped := 0
	for _, p := range all {
		projectID, ok := im.mapper.Get(idmap.Project, int64(p.ID))
		if !ok {
			continue
		}
		accesses := p.Accesses
		if len(accesses) == 0 {
			if _, err := im.readOptional(projectFile(int64(p.ID), "accesses.json"), &accesses); err != nil {
				return err
			}
		}
		for _, a := range accesses {
			userID, ok := im.mapper.Get(idmap.User, int64(a.UserID))
			if !ok {
				unmapped++
				continue
			}
			members.add(
				im.opts.TenantID, int64(a.ID), projectID, userID,
				NormalizeMemberPermission(a.Permission), NormalizeMemberStatus(a.Status),
				a.Color, true,
			)
		}
	}
	im.skip(res, "project_members", skipUnmappedRef, unmapped)
	return im.write(ctx, members, res)
}

func projectFile(id int64, name string) string {
	return "projects/" + strconv.FormatInt(id, 10) + "/" + name
}
