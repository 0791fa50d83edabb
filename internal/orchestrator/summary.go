package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/johndauphine/tg-migrate/internal/checkpoint"
)

var (
	colorGreen  = lipgloss.Color("#10B981")
	colorRed    = lipgloss.Color("#EF4444")
	colorYellow = lipgloss.Color("#F59E0B")
	colorGray   = lipgloss.Color("#6B7280")

	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	titleStyle  = lipgloss.NewStyle().Bold(true).MarginTop(1)
)

// RenderTable draws rows under headers with a rounded border.
func RenderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorGray)).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		String()
}

func statusStyle(status checkpoint.PhaseStatus) lipgloss.Style {
	switch status {
	case checkpoint.StatusCompleted:
		return lipgloss.NewStyle().Foreground(colorGreen)
	case checkpoint.StatusFailed:
		return lipgloss.NewStyle().Foreground(colorRed)
	case checkpoint.StatusInProgress:
		return lipgloss.NewStyle().Foreground(colorYellow)
	}
	return lipgloss.NewStyle().Foreground(colorGray)
}

// PhaseRows returns one row per phase in run order: name, status, items.
func PhaseRows(state *checkpoint.MigrationState) [][]string {
	rows := make([][]string, 0, len(checkpoint.Phases))
	for _, name := range checkpoint.Phases {
		p := state.Phases[name]
		if p == nil {
			p = &checkpoint.PhaseState{Status: checkpoint.StatusPending}
		}
		items := "-"
		if p.ItemsTotal > 0 {
			items = fmt.Sprintf("%d/%d", p.ItemsProcessed, p.ItemsTotal)
		}
		status := strings.ToUpper(string(p.Status))
		rows = append(rows, []string{name, statusStyle(p.Status).Render(status), items})
	}
	return rows
}

// PrintSummary writes the phase table and run totals.
func PrintSummary(w io.Writer, state *checkpoint.MigrationState) {
	fmt.Fprintln(w, titleStyle.Render("Extraction Summary"))
	fmt.Fprintln(w, RenderTable([]string{"Phase", "Status", "Items"}, PhaseRows(state)))
	fmt.Fprintf(w, "  Total errors:       %d\n", len(state.Errors))
	fmt.Fprintf(w, "  Projects completed: %d\n", len(state.CompletedProjectIDs))
	fmt.Fprintf(w, "  Tasks completed:    %d/%d\n", len(state.CompletedTaskIDs), len(state.DiscoveredTaskIDs))
	fmt.Fprintf(w, "  Documents queued:   %d\n", len(state.DocumentQueue))
}

// PrintStatus writes the state of the last extraction run.
func PrintStatus(w io.Writer, state *checkpoint.MigrationState) {
	if state.RunID != "" {
		fmt.Fprintf(w, "Run: %s\n", state.RunID)
	}
	fmt.Fprintf(w, "Started: %s\n", state.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated: %s\n", state.LastUpdatedAt.Format(time.RFC3339))
	if state.CompanyID != "" {
		fmt.Fprintf(w, "Company: %s\n", state.CompanyID)
	}
	PrintSummary(w, state)

	if n := len(state.Errors); n > 0 {
		fmt.Fprintln(w, titleStyle.Render("Recent errors"))
		start := n - 5
		if start < 0 {
			start = 0
		}
		for _, e := range state.Errors[start:] {
			code := ""
			if e.StatusCode != 0 {
				code = fmt.Sprintf(" [%d]", e.StatusCode)
			}
			fmt.Fprintf(w, "  %s %s %s%s: %s\n",
				e.Timestamp.Format("2006-01-02 15:04:05"), e.Phase, e.EntityID, code, truncate(e.Message, 80))
		}
	}
}

// PrintHistory writes recorded runs, newest first as returned by history.
func PrintHistory(w io.Writer, runs []checkpoint.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No run history")
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		completed := "-"
		if r.CompletedAt != nil {
			completed = r.CompletedAt.Format("2006-01-02 15:04:05")
		}
		origin := r.ProfileName
		if origin == "" {
			origin = r.OutputDir
		}
		rows = append(rows, []string{
			r.ID, r.Kind, r.StartedAt.Format("2006-01-02 15:04:05"), completed, r.Status, origin, truncate(r.Error, 40),
		})
	}
	fmt.Fprintln(w, RenderTable([]string{"ID", "Kind", "Started", "Completed", "Status", "Origin", "Error"}, rows))
}
