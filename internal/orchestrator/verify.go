package orchestrator

import (
	"time"

	"github.com/johndauphine/tg-migrate/internal/checkpoint"
	"github.com/johndauphine/tg-migrate/internal/logging"
)

const (
	integrityFile   = "verification/integrity-check.json"
	maxReportErrors = 100
)

// IntegrityReport is written by the verification phase.
type IntegrityReport struct {
	Timestamp time.Time                         `json:"timestamp"`
	Overall   string                            `json:"overall"`
	Summary   IntegritySummary                  `json:"summary"`
	Phases    map[string]*checkpoint.PhaseState `json:"phases"`
	Errors    []checkpoint.ErrorEntry           `json:"errors"`
}

// IntegritySummary counts what the run extracted.
type IntegritySummary struct {
	ProjectsCompleted int `json:"projectsCompleted"`
	TasksCompleted    int `json:"tasksCompleted"`
	TasksDiscovered   int `json:"tasksDiscovered"`
	GroupsDiscovered  int `json:"groupsDiscovered"`
	DocumentsQueued   int `json:"documentsQueued"`
	ErrorsCount       int `json:"errorsCount"`
}

// BuildReport derives the integrity report from a state. Overall is "pass"
// when no errors were recorded and "warnings" otherwise.
func BuildReport(state *checkpoint.MigrationState, now time.Time) IntegrityReport {
	overall := "pass"
	if len(state.Errors) > 0 {
		overall = "warnings"
	}
	errs := state.Errors
	if len(errs) > maxReportErrors {
		errs = errs[:maxReportErrors]
	}
	return IntegrityReport{
		Timestamp: now.UTC(),
		Overall:   overall,
		Summary: IntegritySummary{
			ProjectsCompleted: len(state.CompletedProjectIDs),
			TasksCompleted:    len(state.CompletedTaskIDs),
			TasksDiscovered:   len(state.DiscoveredTaskIDs),
			GroupsDiscovered:  len(state.DiscoveredGroupIDs),
			DocumentsQueued:   len(state.DocumentQueue),
			ErrorsCount:       len(state.Errors),
		},
		Phases: state.Phases,
		Errors: errs,
	}
}

// verify writes the integrity report. force runs it even when the phase
// already completed.
func (e *Extractor) verify(force bool) error {
	if !force && e.skipCompleted(checkpoint.PhaseVerification) {
		return nil
	}
	e.store.StartPhase(checkpoint.PhaseVerification, 0)
	logging.Info("=== Phase 9: Verification ===")

	report := BuildReport(e.store.Snapshot(), time.Now())
	if err := e.out.WriteJSON(integrityFile, report); err != nil {
		return err
	}

	if n := report.Summary.ErrorsCount; n > 0 {
		logging.Warn("Verification found %d errors during extraction", n)
	} else {
		logging.Info("Verification passed: no errors found")
	}
	e.store.CompletePhase(checkpoint.PhaseVerification)
	return nil
}
