package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	for _, name := range []string{"migration-state.json", "migration-state.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "_metadata", name)
			backend := NewFileBackend(path)

			s, err := New(backend, false)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			s.SetCompanyID("77")
			s.StartPhase(PhaseProjects, 3)
			s.AddDiscoveredTasks([]string{"1", "2"})
			s.AddDocumentToQueue("d1", "1", "plan.pdf")
			s.AddError(ErrorEntry{Phase: PhaseTasks, EntityID: "2", Endpoint: "/tasks/2", StatusCode: 500, Message: "boom"})
			if err := s.Save(); err != nil {
				t.Fatalf("Save: %v", err)
			}

			info, err := os.Stat(path)
			if err != nil {
				t.Fatalf("Stat: %v", err)
			}
			if perm := info.Mode().Perm(); perm != 0600 {
				t.Errorf("permissions = %04o, want 0600", perm)
			}

			loaded, err := backend.Load()
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.CompanyID != "77" {
				t.Errorf("CompanyID = %q", loaded.CompanyID)
			}
			if loaded.Phases[PhaseProjects].Status != StatusInProgress {
				t.Errorf("projects phase = %s", loaded.Phases[PhaseProjects].Status)
			}
			if len(loaded.DocumentQueue) != 1 || loaded.DocumentQueue[0].FileName != "plan.pdf" {
				t.Errorf("DocumentQueue = %+v", loaded.DocumentQueue)
			}
			if len(loaded.Errors) != 1 || loaded.Errors[0].StatusCode != 500 {
				t.Errorf("Errors = %+v", loaded.Errors)
			}
		})
	}
}

func TestFileBackend_CamelCaseJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st := NewMigrationState(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	st.CompletedProjectIDs = []string{"9"}
	if err := NewFileBackend(path).Save(st); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"phases", "completedProjectIds", "completedTaskIds", "discoveredTaskIds", "discoveredGroupIds", "documentQueue", "errors", "startedAt", "lastUpdatedAt"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	if !strings.Contains(string(raw["phases"]), `"projectDetails"`) {
		t.Error("phases missing projectDetails")
	}
}

func TestFileBackend_LoadMissing(t *testing.T) {
	st, err := NewFileBackend(filepath.Join(t.TempDir(), "none.json")).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if st != nil {
		t.Errorf("Load of missing file = %+v, want nil", st)
	}
}

func TestFileBackend_LoadPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"completedProjectIds":["1"],"phases":{"discovery":{"status":"completed","itemsProcessed":0,"itemsTotal":0}}}`), 0600); err != nil {
		t.Fatal(err)
	}
	s, err := New(NewFileBackend(path), true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !s.IsPhaseCompleted(PhaseDiscovery) {
		t.Error("discovery not completed")
	}
	if s.Phase(PhaseVerification).Status != StatusPending {
		t.Error("missing phase not defaulted to pending")
	}
	if !s.IsProjectCompleted("1") {
		t.Error("project 1 not completed")
	}
}

func TestFileBackend_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(NewFileBackend(path), true); err == nil {
		t.Fatal("expected error for corrupt state file")
	}
}
