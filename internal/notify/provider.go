package notify

import "time"

// Provider defines the notification contract for extract and import runs.
type Provider interface {
	// RunStarted sends notification when a run starts.
	RunStarted(runID, kind, detail string) error

	// RunCompleted sends notification when a run finishes. errorCount is the
	// number of entity errors recorded; a non-zero count is reported as a
	// warning.
	RunCompleted(runID, kind string, startTime time.Time, duration time.Duration, counts []Count, errorCount int) error

	// RunFailed sends notification when a run aborts.
	RunFailed(runID, kind string, err error, duration time.Duration) error
}

// Count is one labelled total shown in a completion message.
type Count struct {
	Label string
	Value int64
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
