package notify

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/johndauphine/tg-migrate/internal/config"
)

func capture(t *testing.T) (*httptest.Server, *[]SlackMessage) {
	t.Helper()
	var got []SlackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var m SlackMessage
		if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
			t.Errorf("decoding message: %v", err)
		}
		got = append(got, m)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestNotifier_Disabled(t *testing.T) {
	n := New(nil)
	if n.IsEnabled() {
		t.Fatal("nil config enabled")
	}
	if err := n.RunStarted("r", "extract", ""); err != nil {
		t.Errorf("RunStarted: %v", err)
	}
	n = New(&config.SlackConfig{Enabled: true})
	if n.IsEnabled() {
		t.Error("enabled without webhook")
	}
}

func TestNotifier_Messages(t *testing.T) {
	srv, got := capture(t)
	n := New(&config.SlackConfig{Enabled: true, WebhookURL: srv.URL, Channel: "#ops"})

	if err := n.RunStarted("abc", "extract", "./output"); err != nil {
		t.Fatalf("RunStarted: %v", err)
	}
	counts := []Count{{Label: "Tasks", Value: 12345}}
	if err := n.RunCompleted("abc", "extract", time.Now(), 90*time.Second, counts, 0); err != nil {
		t.Fatalf("RunCompleted: %v", err)
	}
	if err := n.RunCompleted("abc", "import", time.Now(), time.Second, nil, 3); err != nil {
		t.Fatalf("RunCompleted: %v", err)
	}
	if err := n.RunFailed("abc", "import", errors.New(strings.Repeat("x", 600)), time.Minute); err != nil {
		t.Fatalf("RunFailed: %v", err)
	}

	msgs := *got
	if len(msgs) != 4 {
		t.Fatalf("messages = %d, want 4", len(msgs))
	}
	if msgs[0].Channel != "#ops" || msgs[0].Username != "tg-migrate" || msgs[0].Attachments[0].Title != "Extract started" {
		t.Errorf("started = %+v", msgs[0])
	}

	var tasks string
	for _, f := range msgs[1].Attachments[0].Fields {
		if f.Title == "Tasks" {
			tasks = f.Value
		}
	}
	if tasks != "12,345" {
		t.Errorf("Tasks field = %q, want 12,345", tasks)
	}
	if msgs[2].IconEmoji != ":warning:" || !strings.Contains(msgs[2].Text, "3 errors") {
		t.Errorf("completed with errors = %+v", msgs[2])
	}
	errField := msgs[3].Attachments[0].Fields[2].Value
	if len(errField) != 503 {
		t.Errorf("error field length = %d, want 503", len(errField))
	}
}

func TestNotifier_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()
	n := New(&config.SlackConfig{Enabled: true, WebhookURL: srv.URL})
	if err := n.RunStarted("r", "extract", ""); err == nil {
		t.Error("expected error on 403")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{65 * time.Second, "1m 5s"},
		{3723 * time.Second, "1h 2m 3s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
