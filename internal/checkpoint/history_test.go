package checkpoint

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"testing"
	"time"
)

func TestHistory_Runs(t *testing.T) {
	h, err := OpenHistory(t.TempDir())
	if err != nil {
		t.Fatalf("OpenHistory() error: %v", err)
	}
	defer h.Close()

	if err := h.CreateRun("r1", KindExtract, "/out", "", map[string]string{"a": "b"}); err != nil {
		t.Fatalf("CreateRun(r1) error: %v", err)
	}
	if err := h.CreateRun("r2", KindImport, "/out", "prod", nil); err != nil {
		t.Fatalf("CreateRun(r2) error: %v", err)
	}
	if err := h.CompleteRun("r1", RunFailed, "boom"); err != nil {
		t.Fatalf("CompleteRun error: %v", err)
	}

	r, err := h.GetRunByID("r1")
	if err != nil {
		t.Fatalf("GetRunByID error: %v", err)
	}
	if r == nil || r.Status != RunFailed || r.Error != "boom" || r.CompletedAt == nil || r.Kind != KindExtract {
		t.Fatalf("run r1 = %+v", r)
	}
	if r.Config != `{"a":"b"}` {
		t.Errorf("Config = %q", r.Config)
	}

	runs, err := h.GetAllRuns()
	if err != nil {
		t.Fatalf("GetAllRuns error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(runs))
	}
	if runs[0].ID != "r2" || runs[0].ProfileName != "prod" {
		t.Errorf("newest run = %+v, want r2", runs[0])
	}

	missing, err := h.GetRunByID("nope")
	if err != nil || missing != nil {
		t.Errorf("GetRunByID(nope) = %v, %v", missing, err)
	}
}

func TestHistory_CleanupOldRuns(t *testing.T) {
	h, err := OpenHistory(t.TempDir())
	if err != nil {
		t.Fatalf("OpenHistory() error: %v", err)
	}
	defer h.Close()

	for _, id := range []string{"old", "recent", "running"} {
		if err := h.CreateRun(id, KindExtract, "/out", "", nil); err != nil {
			t.Fatalf("CreateRun(%s) error: %v", id, err)
		}
	}
	for _, id := range []string{"old", "recent"} {
		if err := h.CompleteRun(id, RunSuccess, ""); err != nil {
			t.Fatalf("CompleteRun(%s) error: %v", id, err)
		}
	}
	oldTime := time.Now().UTC().AddDate(0, 0, -31).Format(sqliteTime)
	if _, err := h.db.Exec(`UPDATE runs SET completed_at = ? WHERE id = 'old'`, oldTime); err != nil {
		t.Fatalf("update error: %v", err)
	}

	deleted, err := h.CleanupOldRuns(30)
	if err != nil {
		t.Fatalf("CleanupOldRuns error: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want 1", deleted)
	}
	if got := countRows(t, h.db, `SELECT COUNT(*) FROM runs`); got != 2 {
		t.Errorf("runs remaining = %d, want 2", got)
	}
}

func TestProfiles(t *testing.T) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatal(err)
	}
	t.Setenv(masterKeyEnv, base64.StdEncoding.EncodeToString(key))

	h, err := OpenHistory(t.TempDir())
	if err != nil {
		t.Fatalf("OpenHistory() error: %v", err)
	}
	defer h.Close()

	cfg := []byte("source:\n  token: secret\n")
	info := ProfileInfo{Name: "prod", Description: "production", TenantID: "t-1", OutputDir: "/data/out"}
	if err := h.SaveProfile(info, cfg); err != nil {
		t.Fatalf("SaveProfile error: %v", err)
	}

	var stored []byte
	if err := h.db.QueryRow(`SELECT config_enc FROM profiles WHERE name = 'prod'`).Scan(&stored); err != nil {
		t.Fatalf("select error: %v", err)
	}
	if string(stored) == string(cfg) {
		t.Error("profile stored in plaintext")
	}

	got, err := h.GetProfile("prod")
	if err != nil {
		t.Fatalf("GetProfile error: %v", err)
	}
	if string(got) != string(cfg) {
		t.Errorf("GetProfile = %q, want %q", got, cfg)
	}

	list, err := h.ListProfiles()
	if err != nil {
		t.Fatalf("ListProfiles error: %v", err)
	}
	if len(list) != 1 || list[0].Name != "prod" || list[0].Description != "production" ||
		list[0].TenantID != "t-1" || list[0].OutputDir != "/data/out" {
		t.Errorf("ListProfiles = %+v", list)
	}

	// A sealed config is bound to its profile name.
	if _, err := h.db.Exec(`INSERT INTO profiles (name, config_enc, created_at, updated_at)
		VALUES ('copy', ?, datetime('now'), datetime('now'))`, stored); err != nil {
		t.Fatal(err)
	}
	if _, err := h.GetProfile("copy"); err == nil {
		t.Error("GetProfile opened a config sealed under another name")
	}

	if err := h.DeleteProfile("prod"); err != nil {
		t.Fatalf("DeleteProfile error: %v", err)
	}
	if _, err := h.GetProfile("prod"); err == nil {
		t.Error("GetProfile after delete succeeded")
	}
	if err := h.DeleteProfile("prod"); err == nil {
		t.Error("DeleteProfile of missing profile succeeded")
	}
}

func TestProfiles_NoMasterKey(t *testing.T) {
	t.Setenv(masterKeyEnv, "")
	h, err := OpenHistory(t.TempDir())
	if err != nil {
		t.Fatalf("OpenHistory() error: %v", err)
	}
	defer h.Close()
	if err := h.SaveProfile(ProfileInfo{Name: "p"}, []byte("x")); err == nil {
		t.Error("SaveProfile without master key succeeded")
	}
}

func countRows(t *testing.T, db *sql.DB, query string, args ...any) int {
	t.Helper()
	var count int
	if err := db.QueryRow(query, args...).Scan(&count); err != nil {
		t.Fatalf("count query error: %v", err)
	}
	return count
}
