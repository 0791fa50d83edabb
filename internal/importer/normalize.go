package importer

import "strings"

var projectStatuses = map[string]string{
	"Active":   "active",
	"active":   "active",
	"Complete": "complete",
	"complete": "complete",
	"On Hold":  "on_hold",
	"on_hold":  "on_hold",
	"Archived": "archived",
	"archived": "archived",
}

// NormalizeProjectStatus maps a source project status to the destination
// enum. Unknown values become "active".
func NormalizeProjectStatus(s string) string {
	if v, ok := projectStatuses[s]; ok {
		return v
	}
	return "active"
}

var memberStatuses = map[string]string{
	"Accepted": "accepted",
	"accepted": "accepted",
	"Pending":  "pending",
	"pending":  "pending",
	"Declined": "declined",
	"declined": "declined",
}

// NormalizeMemberStatus defaults to "pending".
func NormalizeMemberStatus(s string) string {
	if v, ok := memberStatuses[s]; ok {
		return v
	}
	return "pending"
}

// NormalizeMemberPermission defaults to "view".
func NormalizeMemberPermission(s string) string {
	switch s {
	case "admin", "edit", "own_progress", "view":
		return s
	}
	return "view"
}

// NormalizeDependencyType lowercases the type; empty means finish-to-start.
func NormalizeDependencyType(s string) string {
	if s == "" {
		s = "FS"
	}
	return strings.ToLower(s)
}

var viewTypes = map[string]string{
	"gantt":    "gantt",
	"table":    "list",
	"board":    "board",
	"calendar": "calendar",
	"list":     "list",
}

// NormalizeViewType defaults to "gantt".
func NormalizeViewType(s string) string {
	if v, ok := viewTypes[s]; ok {
		return v
	}
	return "gantt"
}

// firstRACIRole returns the first role of a comma list when it is one of
// R, A, C or I.
func firstRACIRole(roles string) *string {
	if roles == "" {
		return nil
	}
	first := strings.ToUpper(strings.TrimSpace(strings.Split(roles, ",")[0]))
	switch first {
	case "R", "A", "C", "I":
		return &first
	}
	return nil
}

// isMilestone reports whether a task is a milestone: zero days, or a
// single-day task starting and ending on the same date.
func isMilestone(days *int, start, end *string) bool {
	if days != nil && *days == 0 {
		return true
	}
	if start == nil || end == nil || *start != *end {
		return false
	}
	d := 1
	if days != nil {
		d = *days
	}
	return d <= 1
}
