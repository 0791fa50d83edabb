package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/johndauphine/tg-migrate/internal/checkpoint"
	"github.com/johndauphine/tg-migrate/internal/logging"
	"github.com/johndauphine/tg-migrate/internal/progress"
	"github.com/johndauphine/tg-migrate/internal/source"
)

const (
	discoveryFile    = "_metadata/api-discovery.json"
	companyUsersFile = "company/users.json"
	projectIndexFile = "projects/_index.json"
	taskIndexFile    = "tasks/_index.json"
	timeBlocksFile   = "time-tracking/time-blocks.json"
	boardsFile       = "boards/_index.json"

	taskLogEvery = 50
)

// discover fetches the current user and derives the company id. A
// completed discovery reuses the stored id.
func (e *Extractor) discover(ctx context.Context) (string, error) {
	if e.store.IsPhaseCompleted(checkpoint.PhaseDiscovery) {
		companyID := e.store.CompanyID()
		logging.Info("Discovery already completed, company ID: %s", companyID)
		return companyID, nil
	}

	e.store.StartPhase(checkpoint.PhaseDiscovery, 0)
	logging.Info("=== Phase 1: Discovery ===")

	raw, err := e.src.Get(ctx, source.PathCurrentUser, nil)
	if err != nil {
		return "", fmt.Errorf("fetching current user: %w", err)
	}
	user, err := source.DecodeObject(raw)
	if err != nil {
		return "", fmt.Errorf("decoding current user: %w", err)
	}

	companyID := companyIDFrom(user)
	if companyID == "" {
		logging.Warn("Could not find a company id in the current_user response; see %s", discoveryFile)
	}

	err = e.out.WriteJSON(discoveryFile, map[string]any{
		"currentUser":  user,
		"companyId":    companyID,
		"discoveredAt": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}

	e.store.SetCompanyID(companyID)
	e.store.CompletePhase(checkpoint.PhaseDiscovery)
	logging.Info("Discovery completed. Company ID: %s", orNotFound(companyID))
	return companyID, nil
}

func (e *Extractor) extractCompany(ctx context.Context, companyID string) error {
	if e.skipCompleted(checkpoint.PhaseCompany) {
		return nil
	}
	e.store.StartPhase(checkpoint.PhaseCompany, 0)
	logging.Info("=== Phase 2: Company Data ===")

	if companyID == "" {
		logging.Warn("No company ID available, skipping company users")
		e.store.CompletePhase(checkpoint.PhaseCompany)
		return nil
	}

	path := source.CompanyUsersPath(companyID)
	users, err := source.NewPaginator(e.src, path, e.opts.PageSize, nil).All(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		e.recordPhaseError(checkpoint.PhaseCompany, path, fmt.Errorf("fetching company users: %w", err))
	} else {
		if err := e.out.WriteJSON(companyUsersFile, nonNil(users)); err != nil {
			return err
		}
		logging.Info("Extracted %d users", len(users))
		e.store.UpdatePhaseProgress(checkpoint.PhaseCompany, len(users), len(users))
	}

	e.store.CompletePhase(checkpoint.PhaseCompany)
	return nil
}

// extractProjects lists projects of every status. On resume the list is
// reloaded from the index so the details phase still has its input.
func (e *Extractor) extractProjects(ctx context.Context) error {
	if e.skipCompleted(checkpoint.PhaseProjects) {
		return nil
	}
	e.store.StartPhase(checkpoint.PhaseProjects, 0)
	logging.Info("=== Phase 3: Projects List ===")

	var all []json.RawMessage
	for _, status := range source.ProjectStatuses {
		items, err := e.listProjectsByStatus(ctx, status)
		if err != nil {
			return err
		}
		all = append(all, items...)
		logging.Info("Total %s projects: %d", status, len(items))
	}

	if err := e.out.WriteJSON(projectIndexFile, nonNil(all)); err != nil {
		return err
	}
	refs, err := decodeProjectRefs(all)
	if err != nil {
		return err
	}
	e.projects = refs

	logging.Info("Found %d projects", len(all))
	e.store.UpdatePhaseProgress(checkpoint.PhaseProjects, len(all), len(all))
	e.store.CompletePhase(checkpoint.PhaseProjects)
	return nil
}

// listProjectsByStatus pages until a page is empty or the running count
// reaches the reported total.
func (e *Extractor) listProjectsByStatus(ctx context.Context, status string) ([]json.RawMessage, error) {
	var items []json.RawMessage
	for page := 1; ; page++ {
		params := url.Values{}
		params.Set("status", status)
		params.Set("page", strconv.Itoa(page))

		raw, err := e.src.Get(ctx, source.PathProjects, params)
		if err != nil {
			return nil, fmt.Errorf("listing %s projects: %w", status, err)
		}
		p, err := source.DecodeProjectPage(raw)
		if err != nil {
			return nil, fmt.Errorf("listing %s projects: %w", status, err)
		}
		items = append(items, p.Projects...)
		logging.Info("Fetched %s projects page %d: %d (%d/%d)", status, page, len(p.Projects), len(items), p.Total)

		if len(p.Projects) == 0 || len(items) >= p.Total {
			return items, nil
		}
	}
}

func (e *Extractor) loadProjectIndex() ([]projectRef, error) {
	var all []json.RawMessage
	if err := e.out.ReadJSON(projectIndexFile, &all); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logging.Warn("No project index at %s; run the projects phase first", projectIndexFile)
			return nil, nil
		}
		return nil, fmt.Errorf("reading project index: %w", err)
	}
	return decodeProjectRefs(all)
}

func decodeProjectRefs(all []json.RawMessage) ([]projectRef, error) {
	refs := make([]projectRef, 0, len(all))
	for _, raw := range all {
		var p projectRef
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("decoding project: %w", err)
		}
		if p.ID == "" {
			logging.Warn("Skipping project without id: %s", truncate(string(raw), 200))
			continue
		}
		refs = append(refs, p)
	}
	return refs, nil
}

func (e *Extractor) extractProjectDetails(ctx context.Context) error {
	if e.skipCompleted(checkpoint.PhaseProjectDetails) {
		return nil
	}

	projects := e.projects
	if projects == nil {
		var err error
		if projects, err = e.loadProjectIndex(); err != nil {
			return err
		}
	}

	total := len(projects)
	e.store.StartPhase(checkpoint.PhaseProjectDetails, total)
	logging.Info("=== Phase 4: Project Details (%d projects) ===", total)

	var processed atomic.Int64
	tracker := progress.New("projects", total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrency)

	for _, p := range projects {
		id := string(p.ID)
		if e.store.IsProjectCompleted(id) {
			processed.Add(1)
			tracker.Add(1)
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			logging.Info("Processing project %s (%s)", p.Name, id)
			if err := e.extractProject(gctx, id); err != nil {
				return err
			}
			n := processed.Add(1)
			tracker.Add(1)
			e.store.UpdatePhaseProgress(checkpoint.PhaseProjectDetails, int(n), total)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tracker.Finish()

	e.store.UpdatePhaseProgress(checkpoint.PhaseProjectDetails, int(processed.Load()), total)
	e.store.CompletePhase(checkpoint.PhaseProjectDetails)
	logging.Info("Project details completed. %d projects processed", processed.Load())
	return nil
}

// extractProject fetches one project and its hierarchy. Entity failures are
// recorded and swallowed; the returned error is fatal.
func (e *Extractor) extractProject(ctx context.Context, id string) error {
	dir := "projects/" + id + "/"

	path := source.ProjectPath(id)
	raw, err := e.src.Get(ctx, path, nil)
	if err == nil {
		raw, err = source.DecodeObject(raw)
	}
	if err != nil {
		return e.entityFailure(ctx, err, "project", id, path)
	}
	if err := e.out.WriteJSON(dir+"project.json", raw); err != nil {
		return err
	}

	path = source.ProjectChildrenPath(id)
	raw, err = e.src.Get(ctx, path, nil)
	var children []json.RawMessage
	if err == nil {
		children, err = source.DecodeList(raw)
	}
	if err != nil {
		return e.entityFailure(ctx, err, "project", id, path)
	}
	if err := e.out.WriteJSON(dir+"children.json", nonNil(children)); err != nil {
		return err
	}

	taskIDs, groupIDs, err := collectIDs(children)
	if err != nil {
		return e.entityFailure(ctx, err, "project", id, path)
	}
	e.store.AddDiscoveredTasks(taskIDs)
	e.store.AddDiscoveredGroups(groupIDs)
	logging.Info("  Project %s: %d tasks, %d groups", id, len(taskIDs), len(groupIDs))

	path = source.ProjectAccessPath(id)
	if accesses, err := e.getList(ctx, path); err != nil {
		if err := e.entityFailure(ctx, err, "project-access", id, path); err != nil {
			return err
		}
	} else if err := e.out.WriteJSON(dir+"accesses.json", nonNil(accesses)); err != nil {
		return err
	}

	path = source.ProjectBoardsPath(id)
	if boards, err := e.getList(ctx, path); err != nil {
		if err := e.entityFailure(ctx, err, "project-boards", id, path); err != nil {
			return err
		}
	} else if len(boards) > 0 {
		if err := e.out.WriteJSON(dir+"boards/_index.json", boards); err != nil {
			return err
		}
	}

	path = source.ProjectCommentsPath(id)
	comments, err := source.NewPaginator(e.src, path, e.opts.PageSize, nil).All(ctx)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		logging.Warn("Comments for project %s unavailable: %v", id, err)
	case len(comments) > 0:
		if err := e.out.WriteJSON("comments/by-project/"+id+".json", comments); err != nil {
			return err
		}
	}

	e.store.AddCompletedProject(id)
	e.metrics.IncEntity("project", "ok")
	return nil
}

func (e *Extractor) extractTasks(ctx context.Context) error {
	if e.skipCompleted(checkpoint.PhaseTasks) {
		return nil
	}

	ids := e.store.DiscoveredTaskIDs()
	total := len(ids)
	if total == 0 {
		logging.Warn("No tasks discovered, skipping task extraction")
		e.store.StartPhase(checkpoint.PhaseTasks, 0)
		e.store.CompletePhase(checkpoint.PhaseTasks)
		return nil
	}

	e.store.StartPhase(checkpoint.PhaseTasks, total)
	logging.Info("=== Phase 5: Task Details (%d tasks) ===", total)

	var (
		processed atomic.Int64
		mu        sync.Mutex
		index     []taskIndexEntry
	)
	tracker := progress.New("tasks", total)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.MaxConcurrency)

	for _, id := range ids {
		if e.store.IsTaskCompleted(id) {
			processed.Add(1)
			tracker.Add(1)
			continue
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			entry, ok, err := e.extractTask(gctx, id)
			if err != nil {
				return err
			}
			if ok {
				mu.Lock()
				index = append(index, entry)
				mu.Unlock()
			}
			n := processed.Add(1)
			tracker.Add(1)
			if n%taskLogEvery == 0 {
				logging.Info("  Tasks progress: %d/%d", n, total)
				e.store.UpdatePhaseProgress(checkpoint.PhaseTasks, int(n), total)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tracker.Finish()

	if err := e.writeTaskIndex(index); err != nil {
		return err
	}
	e.store.UpdatePhaseProgress(checkpoint.PhaseTasks, int(processed.Load()), total)
	e.store.CompletePhase(checkpoint.PhaseTasks)
	if err := e.store.Save(); err != nil {
		return err
	}
	logging.Info("Task extraction completed. %d tasks processed", processed.Load())
	return nil
}

// extractTask fetches one task with its checklist, documents and comments.
// ok is false when the task itself could not be fetched.
func (e *Extractor) extractTask(ctx context.Context, id string) (entry taskIndexEntry, ok bool, err error) {
	dir := "tasks/" + id + "/"

	path := source.TaskPath(id)
	raw, err := e.src.Get(ctx, path, nil)
	if err == nil {
		raw, err = source.DecodeObject(raw)
	}
	if err != nil {
		return entry, false, e.entityFailure(ctx, err, "tasks", id, path)
	}
	if err := e.out.WriteJSON(dir+"task.json", raw); err != nil {
		return entry, false, err
	}
	var ref taskRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		logging.Debug("Task %s: %v", id, err)
	}
	entry = taskIndexEntry{ID: id, Name: ref.Name, ProjectID: string(ref.ProjectID)}

	if checklist := e.getListOrEmpty(ctx, source.TaskChecklistPath(id)); len(checklist) > 0 {
		if err := e.out.WriteJSON(dir+"checklist.json", checklist); err != nil {
			return entry, false, err
		}
	}

	if docs := e.getListOrEmpty(ctx, source.TaskDocumentsPath(id)); len(docs) > 0 {
		if err := e.out.WriteJSON(dir+"documents/_index.json", docs); err != nil {
			return entry, false, err
		}
		for _, raw := range docs {
			var d documentRef
			if err := json.Unmarshal(raw, &d); err != nil || d.ID == "" {
				logging.Warn("Task %s: skipping document without id", id)
				continue
			}
			e.store.AddDocumentToQueue(string(d.ID), id, d.queueName())
		}
	}

	if comments := e.getListOrEmpty(ctx, source.TaskCommentsPath(id)); len(comments) > 0 {
		if err := e.out.WriteJSON("comments/by-task/"+id+".json", comments); err != nil {
			return entry, false, err
		}
	}

	if err := ctx.Err(); err != nil {
		return entry, false, err
	}
	e.store.AddCompletedTask(id)
	e.metrics.IncEntity("task", "ok")
	return entry, true, nil
}

// writeTaskIndex merges this run's tasks into any index left by an earlier
// run.
func (e *Extractor) writeTaskIndex(added []taskIndexEntry) error {
	var existing []taskIndexEntry
	if err := e.out.ReadJSON(taskIndexFile, &existing); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Warn("Ignoring unreadable task index: %v", err)
		existing = nil
	}

	seen := make(map[string]bool, len(existing)+len(added))
	merged := make([]taskIndexEntry, 0, len(existing)+len(added))
	for _, list := range [][]taskIndexEntry{existing, added} {
		for _, t := range list {
			if seen[t.ID] {
				continue
			}
			seen[t.ID] = true
			merged = append(merged, t)
		}
	}
	return e.out.WriteJSON(taskIndexFile, merged)
}

func (e *Extractor) extractTimeTracking(ctx context.Context) error {
	return e.extractListing(ctx, checkpoint.PhaseTimeTracking, "=== Phase 6: Time Tracking ===", source.PathTimes, timeBlocksFile)
}

func (e *Extractor) extractBoards(ctx context.Context) error {
	return e.extractListing(ctx, checkpoint.PhaseBoards, "=== Phase 7: Boards ===", source.PathBoards, boardsFile)
}

// extractListing pages through an account-wide listing into one file. A
// failure is recorded and the phase still completes.
func (e *Extractor) extractListing(ctx context.Context, phase, banner, path, file string) error {
	if e.skipCompleted(phase) {
		return nil
	}
	e.store.StartPhase(phase, 0)
	logging.Info("%s", banner)

	items, err := source.NewPaginator(e.src, path, e.opts.PageSize, nil).All(ctx)
	switch {
	case ctx.Err() != nil:
		return ctx.Err()
	case err != nil:
		e.recordPhaseError(phase, path, err)
	default:
		if err := e.out.WriteJSON(file, nonNil(items)); err != nil {
			return err
		}
		logging.Info("Extracted %d items from %s", len(items), path)
		e.store.UpdatePhaseProgress(phase, len(items), len(items))
	}

	e.store.CompletePhase(phase)
	return nil
}

// getList fetches a single-page list endpoint.
func (e *Extractor) getList(ctx context.Context, path string) ([]json.RawMessage, error) {
	raw, err := e.src.Get(ctx, path, nil)
	if err != nil {
		return nil, err
	}
	return source.DecodeList(raw)
}

// getListOrEmpty is getList for optional sub-resources: any failure yields
// an empty list.
func (e *Extractor) getListOrEmpty(ctx context.Context, path string) []json.RawMessage {
	items, err := e.getList(ctx, path)
	if err != nil {
		logging.Debug("Nothing at %s: %v", path, err)
		return nil
	}
	return items
}

// entityFailure records an entity error and returns nil, or returns the
// context error when the run is being cancelled.
func (e *Extractor) entityFailure(ctx context.Context, err error, kind, id, endpoint string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	e.handleEntityError(err, kind, id, endpoint)
	return nil
}

func nonNil(items []json.RawMessage) []json.RawMessage {
	if items == nil {
		return []json.RawMessage{}
	}
	return items
}

func orNotFound(s string) string {
	if s == "" {
		return "(not found)"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
