package importer

import (
	"context"

	"github.com/johndauphine/tg-migrate/internal/idmap"
	"github.com/johndauphine/tg-migrate/internal/logging"
)

// collectDependencies gathers the dependencies of every task in a tree into
// deps, keyed by dependency id. A dependency is listed under both of its
// tasks; the first copy wins. order records first-seen ids.
func collectDependencies(children []sourceChild, deps map[sourceID]sourceDependency, order *[]sourceID) {
	walkChildren(children, func(c *sourceChild) {
		if c.Type != "task" || c.Dependencies == nil {
			return
		}
		for _, list := range [][]sourceDependency{c.Dependencies.Parents, c.Dependencies.Children} {
			for _, d := range list {
				if _, ok := deps[d.ID]; ok {
					continue
				}
				deps[d.ID] = d
				*order = append(*order, d.ID)
			}
		}
	})
}

func (im *Importer) importDependencies(ctx context.Context, res *StepResult) error {
	ids, err := im.projectDirs("children.json")
	if err != nil {
		return err
	}

	deps := make(map[sourceID]sourceDependency)
	var order []sourceID
	for _, pid := range ids {
		var children []sourceChild
		if _, err := im.readOptional(projectFile(pid, "children.json"), &children); err != nil {
			return err
		}
		collectDependencies(children, deps, &order)
	}
	logging.Info("Found %d unique dependencies", len(order))

	rows := newRowSet("task_dependencies",
		"tenant_id", "tg_id", "predecessor_id", "successor_id", "dependency_type", "lag_days")
	var unmapped, selfRefs int
	for _, id := range order {
		d := deps[id]
		pred, okPred := im.mapper.Get(idmap.Task, int64(d.FromTaskID))
		succ, okSucc := im.mapper.Get(idmap.Task, int64(d.ToTaskID))
		if !okPred || !okSucc {
			unmapped++
			continue
		}
		if pred == succ {
			selfRefs++
			continue
		}
		rows.add(im.opts.TenantID, int64(id), pred, succ, NormalizeDependencyType(d.Type), intOr(d.LeadLagTime, 0))
	}
	im.skip(res, "task_dependencies", skipUnmappedTask, unmapped)
	im.skip(res, "task_dependencies", skipSelfReference, selfRefs)

	return im.write(ctx, rows, res)
}
