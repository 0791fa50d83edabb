package importer

import (
	"encoding/json"
	"testing"
)

func TestNormalizers(t *testing.T) {
	tests := []struct {
		name string
		fn   func(string) string
		in   string
		want string
	}{
		{"status title case", NormalizeProjectStatus, "On Hold", "on_hold"},
		{"status lower", NormalizeProjectStatus, "complete", "complete"},
		{"status unknown", NormalizeProjectStatus, "Paused", "active"},
		{"member accepted", NormalizeMemberStatus, "Accepted", "accepted"},
		{"member unknown", NormalizeMemberStatus, "", "pending"},
		{"permission own progress", NormalizeMemberPermission, "own_progress", "own_progress"},
		{"permission unknown", NormalizeMemberPermission, "Admin", "view"},
		{"dependency", NormalizeDependencyType, "SF", "sf"},
		{"dependency default", NormalizeDependencyType, "", "fs"},
		{"view table", NormalizeViewType, "table", "list"},
		{"view unknown", NormalizeViewType, "timeline", "gantt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.in); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsMilestone(t *testing.T) {
	zero, one, two := 0, 1, 2
	d1, d2 := "2024-01-01", "2024-01-02"
	tests := []struct {
		name       string
		days       *int
		start, end *string
		want       bool
	}{
		{"zero days", &zero, nil, nil, true},
		{"same day default days", nil, &d1, &d1, true},
		{"same day one day", &one, &d1, &d1, true},
		{"same day two days", &two, &d1, &d1, false},
		{"different days", &one, &d1, &d2, false},
		{"no dates", nil, nil, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isMilestone(tt.days, tt.start, tt.end); got != tt.want {
				t.Errorf("isMilestone = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFirstRACIRole(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"R,A", "R"},
		{" c ", "C"},
		{"X,R", ""},
		{"", ""},
	}
	for _, tt := range tests {
		got := ""
		if p := firstRACIRole(tt.in); p != nil {
			got = *p
		}
		if got != tt.want {
			t.Errorf("firstRACIRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDurationMinutes(t *testing.T) {
	start, end := "2024-03-01T08:00:00Z", "2024-03-01T08:44:31Z"
	if got := durationMinutes(&start, &end); got != int64(45) {
		t.Errorf("duration = %v, want 45", got)
	}
	spaced := "2024-03-01 09:00:00"
	if got := durationMinutes(&start, &spaced); got != int64(60) {
		t.Errorf("duration = %v, want 60", got)
	}
	if got := durationMinutes(&start, nil); got != nil {
		t.Errorf("open entry duration = %v, want nil", got)
	}
}

func TestSourceID(t *testing.T) {
	var v struct {
		A sourceID `json:"a"`
		B sourceID `json:"b"`
		C sourceID `json:"c"`
		D sourceID `json:"d"`
	}
	if err := json.Unmarshal([]byte(`{"a":12,"b":"34","c":null}`), &v); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if v.A != 12 || v.B != 34 || v.C != 0 || v.D != 0 {
		t.Errorf("got %+v", v)
	}
	if err := json.Unmarshal([]byte(`{"a":"x1"}`), &v); err == nil {
		t.Error("expected error for non-numeric id")
	}
}

func TestCollectDependencies_Dedup(t *testing.T) {
	var children []sourceChild
	body := `[
		{"id":1,"type":"task","dependencies":{"children":[{"id":5,"from_task_id":1,"to_task_id":2}]}},
		{"id":2,"type":"task","dependencies":{"parents":[{"id":5,"from_task_id":1,"to_task_id":2}]}}
	]`
	if err := json.Unmarshal([]byte(body), &children); err != nil {
		t.Fatal(err)
	}
	deps := make(map[sourceID]sourceDependency)
	var order []sourceID
	collectDependencies(children, deps, &order)
	if len(order) != 1 || order[0] != 5 {
		t.Errorf("order = %v, want [5]", order)
	}
}
