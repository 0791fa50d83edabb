// Package orchestrator runs the extraction phases that copy a TeamGantt
// account into a local snapshot tree, and renders run summaries.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/johndauphine/tg-migrate/internal/checkpoint"
	"github.com/johndauphine/tg-migrate/internal/logging"
	"github.com/johndauphine/tg-migrate/internal/metrics"
	"github.com/johndauphine/tg-migrate/internal/notify"
	"github.com/johndauphine/tg-migrate/internal/snapshot"
	"github.com/johndauphine/tg-migrate/internal/source"
)

// Source is the part of the API client the extractor needs.
type Source interface {
	source.Getter
	Stream(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Uploader mirrors downloaded documents. *storage.Uploader implements it;
// a nil uploader is disabled.
type Uploader interface {
	Enabled() bool
	Upload(ctx context.Context, localPath, rel, sha256 string) (string, error)
}

// RunRecorder records runs in history. *checkpoint.History implements it.
type RunRecorder interface {
	CreateRun(id, kind, outputDir, profileName string, config any) error
	CompleteRun(id, status, errorMsg string) error
}

// Entities accepted by Options.Entity, mapped to the phase they run.
var entityPhases = map[string]string{
	"company":         checkpoint.PhaseCompany,
	"projects":        checkpoint.PhaseProjects,
	"project-details": checkpoint.PhaseProjectDetails,
	"tasks":           checkpoint.PhaseTasks,
	"time-tracking":   checkpoint.PhaseTimeTracking,
	"boards":          checkpoint.PhaseBoards,
	"documents":       checkpoint.PhaseDocuments,
}

// EntityNames returns the accepted --entity values, sorted.
func EntityNames() []string {
	names := make([]string, 0, len(entityPhases))
	for k := range entityPhases {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Options controls one extraction run.
type Options struct {
	RunID             string
	MaxConcurrency    int
	PageSize          int
	DownloadDocuments bool
	SkipDocuments     bool
	DiscoverOnly      bool
	VerifyOnly        bool
	Entity            string

	// ProfileName and Config are recorded in history.
	ProfileName string
	Config      any

	// Summary receives the end-of-run table. Defaults to os.Stdout.
	Summary io.Writer
}

// Deps are the collaborators of an Extractor. Source, Store and Output are
// required.
type Deps struct {
	Source   Source
	Store    *checkpoint.Store
	Output   *snapshot.Writer
	Metrics  *metrics.Collector
	Notifier notify.Provider
	History  RunRecorder
	Uploader Uploader
}

// Extractor coordinates the extraction phases.
type Extractor struct {
	src      Source
	store    *checkpoint.Store
	out      *snapshot.Writer
	metrics  *metrics.Collector
	notifier notify.Provider
	history  RunRecorder
	uploader Uploader
	opts     Options

	// projects is the project list handed from the listing phase to the
	// details phase.
	projects []projectRef
}

// New creates an extractor.
func New(deps Deps, opts Options) (*Extractor, error) {
	if deps.Source == nil || deps.Store == nil || deps.Output == nil {
		return nil, fmt.Errorf("extractor: source, store and output are required")
	}
	if opts.Entity != "" {
		if _, ok := entityPhases[opts.Entity]; !ok {
			return nil, fmt.Errorf("unknown entity %q (valid: %s)", opts.Entity, strings.Join(EntityNames(), ", "))
		}
	}
	if opts.MaxConcurrency < 1 {
		opts.MaxConcurrency = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = source.DefaultPageSize
	}
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()[:8]
	}
	if opts.Summary == nil {
		opts.Summary = os.Stdout
	}
	return &Extractor{
		src:      deps.Source,
		store:    deps.Store,
		out:      deps.Output,
		metrics:  deps.Metrics,
		notifier: deps.Notifier,
		history:  deps.History,
		uploader: deps.Uploader,
		opts:     opts,
	}, nil
}

// RunID returns the id of this run.
func (e *Extractor) RunID() string { return e.opts.RunID }

// Run executes the phases selected by the options. On a fatal error the
// state is saved and the error returned; rerunning with resume continues
// from the last completed entity.
func (e *Extractor) Run(ctx context.Context) error {
	startTime := time.Now()
	runID := e.opts.RunID
	e.store.SetRunID(runID)

	logging.Info("Starting extraction run: %s", runID)
	logging.Info("Output: %s", e.out.Root())

	if e.history != nil {
		if err := e.history.CreateRun(runID, checkpoint.KindExtract, e.out.Root(), e.opts.ProfileName, e.opts.Config); err != nil {
			logging.Warn("Recording run in history: %v", err)
		}
	}
	e.notifyStarted(runID)

	err := e.run(ctx)

	if saveErr := e.store.Save(); saveErr != nil {
		logging.Error("%v", saveErr)
		if err == nil {
			err = saveErr
		}
	}
	if mErr := e.metrics.WriteTextfile(e.out.Path("_metadata/metrics.prom")); mErr != nil {
		logging.Warn("%v", mErr)
	}

	state := e.store.Snapshot()
	PrintSummary(e.opts.Summary, state)

	duration := time.Since(startTime)
	status := checkpoint.RunSuccess
	errMsg := ""
	switch {
	case err == nil:
		logging.Info("Extraction completed in %s", duration.Round(time.Second))
		e.notifyCompleted(runID, startTime, duration, state)
	case errors.Is(err, context.Canceled):
		status = checkpoint.RunCancelled
		errMsg = err.Error()
		logging.Warn("Extraction cancelled; rerun with --resume to continue")
		e.notifyFailed(runID, err, duration)
	default:
		status = checkpoint.RunFailed
		errMsg = err.Error()
		logging.Error("Extraction failed: %v", err)
		e.notifyFailed(runID, err, duration)
	}
	if e.history != nil {
		if hErr := e.history.CompleteRun(runID, status, errMsg); hErr != nil {
			logging.Warn("Completing run in history: %v", hErr)
		}
	}
	return err
}

func (e *Extractor) run(ctx context.Context) error {
	switch {
	case e.opts.VerifyOnly:
		return e.verify(true)
	case e.opts.DiscoverOnly:
		logging.Info("Discovery-only mode")
		_, err := e.discover(ctx)
		return err
	case e.opts.Entity != "":
		return e.runEntity(ctx, entityPhases[e.opts.Entity])
	}

	companyID, err := e.discover(ctx)
	if err != nil {
		return err
	}
	steps := []func(context.Context) error{
		func(ctx context.Context) error { return e.extractCompany(ctx, companyID) },
		e.extractProjects,
		e.extractProjectDetails,
		e.extractTasks,
		e.extractTimeTracking,
		e.extractBoards,
		e.extractDocuments,
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := step(ctx); err != nil {
			return err
		}
	}
	return e.verify(false)
}

// runEntity runs a single phase. Discovery runs first when the phase needs
// the company id.
func (e *Extractor) runEntity(ctx context.Context, phase string) error {
	logging.Info("Entity mode: running %s only", phase)
	switch phase {
	case checkpoint.PhaseCompany:
		companyID, err := e.discover(ctx)
		if err != nil {
			return err
		}
		return e.extractCompany(ctx, companyID)
	case checkpoint.PhaseProjects:
		return e.extractProjects(ctx)
	case checkpoint.PhaseProjectDetails:
		return e.extractProjectDetails(ctx)
	case checkpoint.PhaseTasks:
		return e.extractTasks(ctx)
	case checkpoint.PhaseTimeTracking:
		return e.extractTimeTracking(ctx)
	case checkpoint.PhaseBoards:
		return e.extractBoards(ctx)
	case checkpoint.PhaseDocuments:
		return e.extractDocuments(ctx)
	}
	return fmt.Errorf("unknown entity %q", e.opts.Entity)
}

// skipCompleted logs and reports whether a phase already completed.
func (e *Extractor) skipCompleted(phase string) bool {
	if e.store.IsPhaseCompleted(phase) {
		logging.Info("Phase %s already completed, skipping", phase)
		return true
	}
	return false
}

// handleEntityError logs a failed entity and records it. 403 and 404 are
// expected for entities the token cannot see and are logged as warnings.
func (e *Extractor) handleEntityError(err error, kind, entityID, endpoint string) {
	if source.IsSkippable(err) {
		logging.Warn("Skipping %s %s: %v", kind, entityID, err)
		e.metrics.IncEntity(kind, "skipped")
	} else {
		logging.Error("Error extracting %s %s: %v", kind, entityID, err)
		e.metrics.IncEntity(kind, "failed")
	}
	e.store.AddError(checkpoint.ErrorEntry{
		Phase:      kind,
		EntityID:   entityID,
		Endpoint:   endpoint,
		StatusCode: source.StatusCode(err),
		Message:    err.Error(),
	})
}

// recordPhaseError records a failure that does not fail its phase.
func (e *Extractor) recordPhaseError(phase, endpoint string, err error) {
	logging.Error("Phase %s: %v", phase, err)
	e.store.AddError(checkpoint.ErrorEntry{
		Phase:      phase,
		Endpoint:   endpoint,
		StatusCode: source.StatusCode(err),
		Message:    err.Error(),
	})
}

func (e *Extractor) notifyStarted(runID string) {
	if e.notifier == nil {
		return
	}
	detail := "full extraction"
	switch {
	case e.opts.VerifyOnly:
		detail = "verify only"
	case e.opts.DiscoverOnly:
		detail = "discover only"
	case e.opts.Entity != "":
		detail = "entity " + e.opts.Entity
	}
	if err := e.notifier.RunStarted(runID, checkpoint.KindExtract, detail); err != nil {
		logging.Warn("Notification failed: %v", err)
	}
}

func (e *Extractor) notifyCompleted(runID string, startTime time.Time, duration time.Duration, state *checkpoint.MigrationState) {
	if e.notifier == nil {
		return
	}
	counts := []notify.Count{
		{Label: "Projects", Value: int64(len(state.CompletedProjectIDs))},
		{Label: "Tasks", Value: int64(len(state.CompletedTaskIDs))},
		{Label: "Documents queued", Value: int64(len(state.DocumentQueue))},
	}
	if err := e.notifier.RunCompleted(runID, checkpoint.KindExtract, startTime, duration, counts, len(state.Errors)); err != nil {
		logging.Warn("Notification failed: %v", err)
	}
}

func (e *Extractor) notifyFailed(runID string, err error, duration time.Duration) {
	if e.notifier == nil {
		return
	}
	if nErr := e.notifier.RunFailed(runID, checkpoint.KindExtract, err, duration); nErr != nil {
		logging.Warn("Notification failed: %v", nErr)
	}
}
