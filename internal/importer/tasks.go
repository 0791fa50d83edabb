package importer

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/johndauphine/tg-migrate/internal/idmap"
	"github.com/johndauphine/tg-migrate/internal/logging"
)

type pendingAssignee struct {
	taskTG    int64
	projectID string
	resource  sourceResource
}

// importTasks inserts every unmapped task of every mapped project, then the
// assignees and checklist items of every mapped task. Child rows already
// stored are skipped.
func (im *Importer) importTasks(ctx context.Context, res *StepResult) error {
	ids, err := im.projectDirs("children.json")
	if err != nil {
		return err
	}

	tasks := newRowSet("tasks",
		"tenant_id", "tg_id", "project_id", "group_id", "name", "wbs", "sort_order", "color",
		"start_date", "end_date", "days", "is_milestone", "percent_complete", "estimated_hours",
		"actual_hours", "is_estimated_hours_enabled", "is_critical", "slack", "is_time_tracking_enabled",
		"is_starred", "custom_fields", "is_active", "created_at")
	var tgIDs, seen []int64
	var assignees []pendingAssignee

	for _, pid := range ids {
		projectID, ok := im.mapper.Get(idmap.Project, pid)
		if !ok {
			continue
		}
		var children []sourceChild
		if _, err := im.readOptional(projectFile(pid, "children.json"), &children); err != nil {
			return err
		}
		walkChildren(children, func(t *sourceChild) {
			if t.Type != "task" {
				return
			}
			seen = append(seen, int64(t.ID))
			for _, r := range t.Resources {
				if r.Type == "user" {
					assignees = append(assignees, pendingAssignee{taskTG: int64(t.ID), projectID: projectID, resource: r})
				}
			}
			if im.mapper.Has(idmap.Task, int64(t.ID)) {
				im.tally(res, "tasks", "skipped", 1)
				return
			}
			var groupID any
			if t.ParentGroupID != 0 {
				if id, ok := im.mapper.Get(idmap.Group, int64(t.ParentGroupID)); ok {
					groupID = id
				}
			}
			tasks.add(
				im.opts.TenantID, int64(t.ID), projectID, groupID, t.Name, t.WBS, intOr(t.Sort, 0), t.Color,
				t.StartDate, t.EndDate, t.Days, isMilestone(t.Days, t.StartDate, t.EndDate),
				floatOr(t.PercentComplete, 0), floatOr(t.EstimatedHours, 0), floatOr(t.ActualHours, 0),
				t.IsEstimatedHoursEnabled, t.IsCritical, t.Slack, t.IsTimeTrackingEnabled,
				t.IsStarred, customFields(t.CustomFieldValues), true, nowOr(t.CreatedAt),
			)
			tgIDs = append(tgIDs, int64(t.ID))
		})
	}

	logging.Info("Found %d tasks to import", tasks.len())
	if tasks.len() > 0 {
		if err := im.write(ctx, tasks, res); err != nil {
			return err
		}
		if err := im.lookup(ctx, "tasks", idmap.Task, tgIDs); err != nil {
			return err
		}
	}

	logging.Info("--- Task Assignees ---")
	rows := newRowSet("task_assignees",
		"tenant_id", "tg_id", "task_id", "user_id", "project_id", "hours_per_day", "total_hours", "raci_role", "is_active")
	unmapped := 0
	for _, a := range assignees {
		taskID, ok := im.mapper.Get(idmap.Task, a.taskTG)
		if !ok {
			unmapped++
			continue
		}
		userID, ok := im.mapper.Get(idmap.User, int64(a.resource.TypeID))
		if !ok {
			unmapped++
			continue
		}
		var raci *string
		if a.resource.RaciRoles != nil {
			raci = firstRACIRole(*a.resource.RaciRoles)
		}
		rows.add(
			im.opts.TenantID, int64(a.resource.ID), taskID, userID, a.projectID,
			floatOr(a.resource.HoursPerDay, 0), floatOr(a.resource.TotalHours, 0), raci, true,
		)
	}
	im.skip(res, "task_assignees", skipUnmappedRef, unmapped)
	if err := im.write(ctx, rows, res); err != nil {
		return err
	}

	return im.importChecklists(ctx, seen, res)
}

// importChecklists inserts the checklist items extracted for the mapped
// tasks among taskTGs.
func (im *Importer) importChecklists(ctx context.Context, taskTGs []int64, res *StepResult) error {
	logging.Info("--- Checklist Items ---")
	rows := newRowSet("checklist_items",
		"tenant_id", "tg_id", "task_id", "name", "is_complete", "sort_order", "is_active")
	for _, tg := range taskTGs {
		taskID, ok := im.mapper.Get(idmap.Task, tg)
		if !ok {
			continue
		}
		var items []sourceChecklistItem
		if _, err := im.readOptional("tasks/"+strconv.FormatInt(tg, 10)+"/checklist.json", &items); err != nil {
			return err
		}
		for i, item := range items {
			rows.add(im.opts.TenantID, int64(item.ID), taskID, item.Name, item.IsComplete, intOr(item.Sort, i), true)
		}
	}
	return im.write(ctx, rows, res)
}

// customFields returns the raw custom field values, or an empty object.
func customFields(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "{}"
	}
	return string(raw)
}
