package importer

import (
	"context"
	"math"
	"time"

	"github.com/johndauphine/tg-migrate/internal/idmap"
	"github.com/johndauphine/tg-migrate/internal/logging"
)

const timeBlocksFile = "time-tracking/time-blocks.json"

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func parseTime(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// durationMinutes returns the rounded minutes between start and end, or nil
// when either is missing or unparseable.
func durationMinutes(start, end *string) any {
	if start == nil || end == nil {
		return nil
	}
	s, ok1 := parseTime(*start)
	e, ok2 := parseTime(*end)
	if !ok1 || !ok2 {
		return nil
	}
	return int64(math.Round(e.Sub(s).Minutes()))
}

func (im *Importer) importTimeEntries(ctx context.Context, res *StepResult) error {
	var blocks []sourceTimeBlock
	found, err := im.readOptional(timeBlocksFile, &blocks)
	if err != nil {
		return err
	}
	if !found {
		logging.Info("No %s found, skipping", timeBlocksFile)
		return nil
	}
	logging.Info("Found %d time blocks", len(blocks))

	rows := newRowSet("time_entries",
		"tenant_id", "tg_id", "project_id", "item_id", "user_id", "entry_type", "start_time", "end_time",
		"duration_minutes", "is_active")
	skipped := 0
	for _, b := range blocks {
		projectID, okProject := im.mapper.Get(idmap.Project, int64(b.ProjectID))
		taskID, okTask := im.mapper.Get(idmap.Task, int64(b.TaskID))
		userID, okUser := im.mapper.Get(idmap.User, int64(b.UserID))
		if !okProject || !okTask || !okUser {
			skipped++
			continue
		}
		entryType := "punched"
		if b.Type == "entered" {
			entryType = "manual"
		}
		rows.add(
			im.opts.TenantID, int64(b.ID), projectID, taskID, userID, entryType,
			b.StartTime, b.EndTime, durationMinutes(b.StartTime, b.EndTime), true,
		)
	}
	im.skip(res, "time_entries", skipUnmappedRef, skipped)

	return im.write(ctx, rows, res)
}
