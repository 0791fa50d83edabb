// Package importer loads an extracted snapshot into the destination
// database, mapping source ids to destination ids as it goes.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/tg-migrate/internal/checkpoint"
	"github.com/johndauphine/tg-migrate/internal/idmap"
	"github.com/johndauphine/tg-migrate/internal/logging"
	"github.com/johndauphine/tg-migrate/internal/metrics"
	"github.com/johndauphine/tg-migrate/internal/notify"
	"github.com/johndauphine/tg-migrate/internal/snapshot"
	"github.com/johndauphine/tg-migrate/internal/target"
)

// RowStore writes and resolves destination rows. *target.Pool implements it.
type RowStore interface {
	InsertRows(ctx context.Context, table string, cols []string, rows [][]any) error
	LookupIDs(ctx context.Context, table, tenantID string, tgIDs []int64) (map[int64]string, error)
	DeleteTenantRows(ctx context.Context, table, tenantID string) (int64, error)
	UpsertProfile(ctx context.Context, p target.Profile) error
}

// IdentityProvider creates login identities. *target.AuthAdmin implements it.
type IdentityProvider interface {
	CreateUser(ctx context.Context, u target.NewUser) (string, error)
	FindUserByEmail(ctx context.Context, email string) (string, error)
}

// Uploader mirrors document files to object storage. *storage.Uploader
// implements it; a nil uploader is disabled.
type Uploader interface {
	Enabled() bool
	Upload(ctx context.Context, localPath, rel, sha256 string) (string, error)
}

// RunRecorder records runs in history. *checkpoint.History implements it.
type RunRecorder interface {
	CreateRun(id, kind, outputDir, profileName string, config any) error
	CompleteRun(id, status, errorMsg string) error
}

// Step keys in run order.
const (
	StepUsers        = "users"
	StepProjects     = "projects"
	StepGroups       = "groups"
	StepTasks        = "tasks"
	StepDependencies = "dependencies"
	StepComments     = "comments"
	StepTime         = "time"
)

// StepKeys returns the accepted --only values in run order.
func StepKeys() []string {
	return []string{StepUsers, StepProjects, StepGroups, StepTasks, StepDependencies, StepComments, StepTime}
}

// cleanTables are deleted children first.
var cleanTables = []string{
	"time_entries",
	"checklist_items",
	"document_versions",
	"documents",
	"task_dependencies",
	"task_assignees",
	"comments",
	"tasks",
	"project_items",
	"project_members",
	"projects",
}

// Options controls one import run.
type Options struct {
	RunID       string
	TenantID    string
	BatchSize   int
	LookupChunk int
	Only        string
	Resume      bool
	DryRun      bool
	Clean       bool

	// ProfileName and Config are recorded in history.
	ProfileName string
	Config      any
}

// Deps are the collaborators of an Importer. Rows, Identities and Snapshot
// are required unless DryRun is set, in which case Rows and Identities are
// replaced by in-memory stand-ins.
type Deps struct {
	Rows       RowStore
	Identities IdentityProvider
	Mapper     *idmap.Mapper
	Snapshot   *snapshot.Writer
	Uploader   Uploader
	Metrics    *metrics.Collector
	Notifier   notify.Provider
	History    RunRecorder
}

type step struct {
	key  string
	name string
	run  func(context.Context, *StepResult) error
}

// Importer runs the import steps against one tenant.
type Importer struct {
	rows       RowStore
	identities IdentityProvider
	mapper     *idmap.Mapper
	snap       *snapshot.Writer
	uploader   Uploader
	metrics    *metrics.Collector
	notifier   notify.Provider
	history    RunRecorder
	opts       Options
}

// New creates an importer. An unknown Only step is an error.
func New(deps Deps, opts Options) (*Importer, error) {
	if deps.Snapshot == nil {
		return nil, fmt.Errorf("importer: snapshot is required")
	}
	if opts.TenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if opts.Only != "" && !validStep(opts.Only) {
		return nil, fmt.Errorf("unknown step %q (available: %s)", opts.Only, strings.Join(StepKeys(), ", "))
	}
	if opts.DryRun {
		deps.Rows = newDryRunStore()
		deps.Identities = dryRunIdentities{}
	}
	if deps.Rows == nil || deps.Identities == nil {
		return nil, fmt.Errorf("importer: row store and identity provider are required")
	}
	if deps.Mapper == nil {
		deps.Mapper = idmap.New()
	}
	if opts.BatchSize < 1 {
		opts.BatchSize = 100
	}
	if opts.LookupChunk < 1 {
		opts.LookupChunk = 500
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()[:8]
	}
	return &Importer{
		rows:       deps.Rows,
		identities: deps.Identities,
		mapper:     deps.Mapper,
		snap:       deps.Snapshot,
		uploader:   deps.Uploader,
		metrics:    deps.Metrics,
		notifier:   deps.Notifier,
		history:    deps.History,
		opts:       opts,
	}, nil
}

func validStep(key string) bool {
	for _, k := range StepKeys() {
		if k == key {
			return true
		}
	}
	return false
}

// RunID returns the id of this run.
func (im *Importer) RunID() string { return im.opts.RunID }

// Mapper returns the id map the run reads and fills.
func (im *Importer) Mapper() *idmap.Mapper { return im.mapper }

func (im *Importer) steps() []step {
	return []step{
		{StepUsers, "Users", im.importUsers},
		{StepProjects, "Projects + Members", im.importProjects},
		{StepGroups, "Task Groups", im.importGroups},
		{StepTasks, "Tasks + Assignees", im.importTasks},
		{StepDependencies, "Task Dependencies", im.importDependencies},
		{StepComments, "Comments + Documents", im.importComments},
		{StepTime, "Time Entries", im.importTimeEntries},
	}
}

// Run executes the selected steps. The id map is saved after every step and
// again before a failure is returned, so a rerun with Resume continues
// where this one stopped.
func (im *Importer) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	runID := im.opts.RunID

	logging.Info("Starting import run: %s", runID)
	logging.Info("Tenant: %s, batch size: %d, snapshot: %s", im.opts.TenantID, im.opts.BatchSize, im.snap.Root())
	if im.opts.DryRun {
		logging.Info("*** DRY RUN MODE: no data will be written ***")
	}

	if im.history != nil {
		if err := im.history.CreateRun(runID, checkpoint.KindImport, im.snap.Root(), im.opts.ProfileName, im.opts.Config); err != nil {
			logging.Warn("Recording run in history: %v", err)
		}
	}
	if im.notifier != nil {
		detail := "tenant " + im.opts.TenantID
		if im.opts.DryRun {
			detail += " (dry run)"
		}
		if err := im.notifier.RunStarted(runID, checkpoint.KindImport, detail); err != nil {
			logging.Warn("Notification failed: %v", err)
		}
	}

	res, err := im.run(ctx)
	res.Duration = time.Since(start)

	if mErr := im.metrics.WriteTextfile(im.snap.Path("_import/metrics.prom")); mErr != nil {
		logging.Warn("%v", mErr)
	}

	status := checkpoint.RunSuccess
	errMsg := ""
	switch {
	case err == nil:
		logging.Info("Import completed in %s", res.Duration.Round(time.Millisecond))
		im.notifyCompleted(runID, start, res)
	case errors.Is(err, context.Canceled):
		status = checkpoint.RunCancelled
		errMsg = err.Error()
		logging.Warn("Import cancelled; rerun with --resume to continue")
		im.notifyFailed(runID, err, res.Duration)
	default:
		status = checkpoint.RunFailed
		errMsg = err.Error()
		logging.Error("Import failed: %v", err)
		im.notifyFailed(runID, err, res.Duration)
	}
	if im.history != nil {
		if hErr := im.history.CompleteRun(runID, status, errMsg); hErr != nil {
			logging.Warn("Completing run in history: %v", hErr)
		}
	}
	return res, err
}

func (im *Importer) run(ctx context.Context) (*Result, error) {
	res := &Result{}

	if im.opts.Clean {
		if err := im.clean(ctx); err != nil {
			return res, err
		}
	}
	if im.opts.Resume || im.opts.Only != "" {
		if err := im.loadMapper(); err != nil {
			return res, err
		}
	}

	var selected []step
	for _, s := range im.steps() {
		if im.opts.Only == "" || s.key == im.opts.Only {
			selected = append(selected, s)
		}
	}
	names := make([]string, len(selected))
	for i, s := range selected {
		names[i] = s.name
	}
	logging.Info("Steps to run: %s", strings.Join(names, " -> "))

	for i, s := range selected {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		logging.Info("=== Step %d: %s ===", i+1, s.name)
		sr := &StepResult{Key: s.key, Name: s.name}
		res.Steps = append(res.Steps, sr)

		started := time.Now()
		err := s.run(ctx, sr)
		sr.Duration = time.Since(started)
		if err != nil {
			if saveErr := im.saveMapper(); saveErr != nil {
				logging.Error("%v", saveErr)
			} else if !im.opts.DryRun {
				logging.Error("ID map saved (partial). Use --resume to continue.")
			}
			return res, fmt.Errorf("import step %s: %w", s.key, err)
		}
		if err := im.saveMapper(); err != nil {
			return res, err
		}
		logging.Info("%s complete (%s)", s.name, sr.Duration.Round(time.Millisecond))
	}

	im.logMapperSummary("Final ID mappings:")
	return res, nil
}

// clean deletes the tenant's rows children first and drops the id map.
// Delete failures are logged and the remaining tables are still cleaned.
func (im *Importer) clean(ctx context.Context) error {
	logging.Info("Cleaning existing data for tenant %s", im.opts.TenantID)
	for _, table := range cleanTables {
		n, err := im.rows.DeleteTenantRows(ctx, table, im.opts.TenantID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Error("[%s] Delete error: %v", table, err)
			continue
		}
		logging.Info("[%s] Deleted %d rows", table, n)
	}
	if im.opts.DryRun {
		return nil
	}
	if err := im.snap.Remove(idmap.DefaultPath); err != nil {
		return fmt.Errorf("removing id map: %w", err)
	}
	im.mapper = idmap.New()
	logging.Info("Clean complete")
	return nil
}

func (im *Importer) loadMapper() error {
	if !im.snap.Exists(idmap.DefaultPath) {
		if im.opts.Resume {
			logging.Warn("No ID map file found for resume. Starting fresh.")
		}
		return nil
	}
	if err := im.mapper.Load(im.snap.Path(idmap.DefaultPath)); err != nil {
		return fmt.Errorf("loading id map: %w", err)
	}
	im.logMapperSummary("Loaded existing ID mappings:")
	return nil
}

func (im *Importer) saveMapper() error {
	if im.opts.DryRun {
		return nil
	}
	if err := im.mapper.Save(im.snap.Path(idmap.DefaultPath)); err != nil {
		return fmt.Errorf("saving id map: %w", err)
	}
	return nil
}

func (im *Importer) logMapperSummary(title string) {
	logging.Info("%s", title)
	summary := im.mapper.Summary()
	for _, e := range im.mapper.Entities() {
		logging.Info("  %s: %d", e, summary[e])
	}
}

func (im *Importer) notifyCompleted(runID string, start time.Time, res *Result) {
	if im.notifier == nil {
		return
	}
	var counts []notify.Count
	for _, t := range res.Totals() {
		counts = append(counts, notify.Count{Label: t.Table, Value: int64(t.Inserted)})
	}
	if err := im.notifier.RunCompleted(runID, checkpoint.KindImport, start, res.Duration, counts, res.Failed()); err != nil {
		logging.Warn("Notification failed: %v", err)
	}
}

func (im *Importer) notifyFailed(runID string, err error, d time.Duration) {
	if im.notifier == nil {
		return
	}
	if nErr := im.notifier.RunFailed(runID, checkpoint.KindImport, err, d); nErr != nil {
		logging.Warn("Notification failed: %v", nErr)
	}
}

// projectDirs returns the source ids of the project directories in the
// snapshot that hold the given file.
func (im *Importer) projectDirs(file string) ([]int64, error) {
	names, err := im.snap.List("projects")
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	var ids []int64
	for _, name := range names {
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil || !im.snap.Exists("projects/"+name+"/"+file) {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// readOptional decodes rel into v. It reports false when the file does not
// exist.
func (im *Importer) readOptional(rel string, v any) (bool, error) {
	if err := im.snap.ReadJSON(rel, v); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading %s: %w", rel, err)
	}
	return true, nil
}

// nowOr returns *s, or the current time when s is nil.
func nowOr(s *string) any {
	if s != nil && *s != "" {
		return *s
	}
	return time.Now().UTC()
}

// mappedOrNil resolves a reference that may be absent.
func (im *Importer) mappedOrNil(entity string, p *personRef) any {
	if p == nil || p.ID == 0 {
		return nil
	}
	if id, ok := im.mapper.Get(entity, int64(p.ID)); ok {
		return id
	}
	return nil
}
