// Package progress draws a console progress bar for long entity loops when
// stderr is a terminal.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/johndauphine/tg-migrate/internal/logging"
)

// Tracker counts processed items and renders a bar when attached to a TTY.
// It is safe for concurrent use.
type Tracker struct {
	bar       *progressbar.ProgressBar
	label     string
	total     int64
	current   atomic.Int64
	startTime time.Time
}

// IsTerminal reports whether stderr is a terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// New creates a tracker for total items. The bar is drawn only when stderr
// is a terminal.
func New(label string, total int) *Tracker {
	var w io.Writer
	if IsTerminal() {
		w = os.Stderr
	}
	return newTracker(label, total, w)
}

func newTracker(label string, total int, w io.Writer) *Tracker {
	t := &Tracker{label: label, total: int64(total), startTime: time.Now()}
	if w == nil || total <= 0 {
		return t
	}
	t.bar = progressbar.NewOptions64(
		int64(total),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(label),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("items"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
	return t
}

// Add records n more processed items.
func (t *Tracker) Add(n int) {
	if t == nil {
		return
	}
	t.current.Add(int64(n))
	if t.bar != nil {
		t.bar.Add64(int64(n))
	}
}

// Describe replaces the bar label.
func (t *Tracker) Describe(label string) {
	if t == nil || t.bar == nil {
		return
	}
	t.bar.Describe(label)
}

// Current returns the processed count.
func (t *Tracker) Current() int64 {
	if t == nil {
		return 0
	}
	return t.current.Load()
}

// Finish completes the bar and logs the totals.
func (t *Tracker) Finish() {
	if t == nil {
		return
	}
	if t.bar != nil {
		t.bar.Finish()
		fmt.Fprintln(os.Stderr)
	}

	elapsed := time.Since(t.startTime)
	rate := 0.0
	if s := elapsed.Seconds(); s > 0 {
		rate = float64(t.current.Load()) / s
	}
	logging.Info("%s: %d/%d in %s (%.1f/sec)",
		t.label, t.current.Load(), t.total, elapsed.Round(time.Second), rate)
}
