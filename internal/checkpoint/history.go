package checkpoint

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run kinds recorded in history.
const (
	KindExtract = "extract"
	KindImport  = "import"
)

// Run statuses recorded in history.
const (
	RunRunning   = "running"
	RunSuccess   = "success"
	RunFailed    = "failed"
	RunCancelled = "cancelled"
)

const sqliteTime = "2006-01-02 15:04:05"

// History records extract and import runs and stores config profiles in
// SQLite.
type History struct {
	db *sql.DB
}

// Run is one recorded run.
type Run struct {
	ID          string
	Kind        string
	StartedAt   time.Time
	CompletedAt *time.Time
	Status      string
	Error       string
	OutputDir   string
	ProfileName string
	Config      string
}

// OpenHistory opens (or creates) <dataDir>/migrate.db.
func OpenHistory(dataDir string) (*History, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "migrate.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return h, nil
}

func (h *History) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		started_at TEXT NOT NULL,
		completed_at TEXT,
		status TEXT NOT NULL DEFAULT 'running',
		error TEXT,
		output_dir TEXT NOT NULL,
		profile_name TEXT,
		config TEXT
	);

	CREATE TABLE IF NOT EXISTS profiles (
		name TEXT PRIMARY KEY,
		description TEXT,
		tenant_id TEXT,
		output_dir TEXT,
		config_enc BLOB NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := h.db.Exec(schema)
	return err
}

// Close closes the database connection
func (h *History) Close() error {
	return h.db.Close()
}

// CreateRun records the start of a run. config is stored as JSON and should
// already be sanitized.
func (h *History) CreateRun(id, kind, outputDir, profileName string, config any) error {
	configJSON, _ := json.Marshal(config)
	_, err := h.db.Exec(`
		INSERT INTO runs (id, kind, started_at, status, output_dir, profile_name, config)
		VALUES (?, ?, ?, 'running', ?, ?, ?)
	`, id, kind, time.Now().UTC().Format(sqliteTime), outputDir, profileName, string(configJSON))
	return err
}

// CompleteRun sets the final status of a run.
func (h *History) CompleteRun(id, status, errorMsg string) error {
	_, err := h.db.Exec(`
		UPDATE runs SET status = ?, completed_at = ?, error = ?
		WHERE id = ?
	`, status, time.Now().UTC().Format(sqliteTime), nullIfEmpty(errorMsg), id)
	return err
}

// GetAllRuns returns the 20 most recent runs.
func (h *History) GetAllRuns() ([]Run, error) {
	rows, err := h.db.Query(`
		SELECT id, kind, started_at, completed_at, status, error, output_dir, profile_name, config
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 20
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetRunByID returns one run, or nil when it does not exist.
func (h *History) GetRunByID(id string) (*Run, error) {
	row := h.db.QueryRow(`
		SELECT id, kind, started_at, completed_at, status, error, output_dir, profile_name, config
		FROM runs WHERE id = ?
	`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// CleanupOldRuns deletes finished runs completed more than days ago and
// returns the number removed. Running rows are kept.
func (h *History) CleanupOldRuns(days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(sqliteTime)
	res, err := h.db.Exec(`
		DELETE FROM runs
		WHERE status != 'running' AND completed_at IS NOT NULL AND completed_at < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		r                                    Run
		startedAt                            string
		completedAt, errMsg, profile, config sql.NullString
	)
	if err := s.Scan(&r.ID, &r.Kind, &startedAt, &completedAt, &r.Status, &errMsg, &r.OutputDir, &profile, &config); err != nil {
		return nil, err
	}
	r.StartedAt, _ = time.Parse(sqliteTime, startedAt)
	if completedAt.Valid {
		t, _ := time.Parse(sqliteTime, completedAt.String)
		r.CompletedAt = &t
	}
	r.Error = errMsg.String
	r.ProfileName = profile.String
	r.Config = config.String
	return &r, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
