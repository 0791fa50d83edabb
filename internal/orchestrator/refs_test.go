package orchestrator

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/tg-migrate/internal/checkpoint"
)

func TestCollectIDs(t *testing.T) {
	var children []json.RawMessage
	tree := `[
		{"id":1,"type":"group","children":[
			{"id":2,"type":"task"},
			{"id":3,"type":"group","children":[{"id":"4","type":"task"}]}
		]},
		{"id":5,"type":"task","children":[{"id":6,"type":"task"}]},
		{"id":7,"type":"milestone"}
	]`
	if err := json.Unmarshal([]byte(tree), &children); err != nil {
		t.Fatal(err)
	}

	tasks, groups, err := collectIDs(children)
	if err != nil {
		t.Fatalf("collectIDs: %v", err)
	}
	if want := []string{"2", "4", "5", "6"}; !reflect.DeepEqual(tasks, want) {
		t.Errorf("tasks = %v, want %v", tasks, want)
	}
	if want := []string{"1", "3"}; !reflect.DeepEqual(groups, want) {
		t.Errorf("groups = %v, want %v", groups, want)
	}
}

func TestCollectIDs_Deep(t *testing.T) {
	// A chain far deeper than a project tree gets in practice.
	const depth = 1000
	var sb strings.Builder
	for i := 0; i < depth; i++ {
		sb.WriteString(`{"type":"group","id":1,"children":[`)
	}
	sb.WriteString(`{"type":"task","id":2}`)
	for i := 0; i < depth; i++ {
		sb.WriteString(`]}`)
	}

	tasks, groups, err := collectIDs([]json.RawMessage{json.RawMessage(sb.String())})
	if err != nil {
		t.Fatalf("collectIDs: %v", err)
	}
	if len(tasks) != 1 || len(groups) != depth {
		t.Errorf("got %d tasks, %d groups", len(tasks), len(groups))
	}
}

func TestCompanyIDFrom(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"company_id number", `{"company_id":42}`, "42"},
		{"company object", `{"company":{"id":"abc"}}`, "abc"},
		{"camel case", `{"companyId":7}`, "7"},
		{"companies list", `{"companies":[{"id":3},{"id":4}]}`, "3"},
		{"precedence", `{"company_id":1,"company":{"id":2}}`, "1"},
		{"null company_id", `{"company_id":null,"companies":[{"id":8}]}`, "8"},
		{"missing", `{"id":1}`, ""},
		{"not an object", `[1,2]`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := companyIDFrom(json.RawMessage(tt.body)); got != tt.want {
				t.Errorf("companyIDFrom(%s) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestDocumentQueueName(t *testing.T) {
	tests := []struct {
		doc  documentRef
		want string
	}{
		{documentRef{ID: "1", FileName: "a.pdf", Name: "b.pdf"}, "a.pdf"},
		{documentRef{ID: "1", Name: "b.pdf"}, "b.pdf"},
		{documentRef{ID: "9"}, "doc_9"},
	}
	for _, tt := range tests {
		if got := tt.doc.queueName(); got != tt.want {
			t.Errorf("queueName(%+v) = %q, want %q", tt.doc, got, tt.want)
		}
	}
}

func TestBuildReport_CapsErrors(t *testing.T) {
	state := checkpoint.NewMigrationState(time.Now())
	for i := 0; i < 150; i++ {
		state.Errors = append(state.Errors, checkpoint.ErrorEntry{Phase: "tasks", Message: "x"})
	}
	r := BuildReport(state, time.Now())
	if r.Overall != "warnings" || len(r.Errors) != maxReportErrors || r.Summary.ErrorsCount != 150 {
		t.Errorf("overall=%s errors=%d count=%d", r.Overall, len(r.Errors), r.Summary.ErrorsCount)
	}

	if got := BuildReport(checkpoint.NewMigrationState(time.Now()), time.Now()).Overall; got != "pass" {
		t.Errorf("clean state overall = %s, want pass", got)
	}
}

func TestPrintSummary(t *testing.T) {
	state := checkpoint.NewMigrationState(time.Now())
	state.Phases[checkpoint.PhaseTasks].Status = checkpoint.StatusCompleted
	state.Phases[checkpoint.PhaseTasks].ItemsProcessed = 3
	state.Phases[checkpoint.PhaseTasks].ItemsTotal = 4

	var buf bytes.Buffer
	PrintSummary(&buf, state)
	out := buf.String()
	for _, want := range []string{"projectDetails", "COMPLETED", "3/4", "Total errors:"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
