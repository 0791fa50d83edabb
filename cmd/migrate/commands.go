package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/tg-migrate/internal/checkpoint"
	"github.com/johndauphine/tg-migrate/internal/config"
	"github.com/johndauphine/tg-migrate/internal/importer"
	"github.com/johndauphine/tg-migrate/internal/logging"
	"github.com/johndauphine/tg-migrate/internal/metrics"
	"github.com/johndauphine/tg-migrate/internal/notify"
	"github.com/johndauphine/tg-migrate/internal/orchestrator"
	"github.com/johndauphine/tg-migrate/internal/ratelimit"
	"github.com/johndauphine/tg-migrate/internal/retry"
	"github.com/johndauphine/tg-migrate/internal/snapshot"
	"github.com/johndauphine/tg-migrate/internal/source"
	"github.com/johndauphine/tg-migrate/internal/storage"
	"github.com/johndauphine/tg-migrate/internal/target"
)

const logFile = "_metadata/migration-log.json"

// commandConfig loads the config and applies the command-level overrides
// shared by extract, import and status.
func commandConfig(c *cli.Context) (*config.Config, string, error) {
	cfg, profileName, err := loadConfig(c)
	if err != nil {
		return nil, "", err
	}
	if dir := c.String("output-dir"); dir != "" {
		cfg.Extract.OutputDir = dir
	}
	if !c.IsSet("verbosity") && cfg.Extract.LogLevel != "" {
		if level, err := logging.ParseLevel(cfg.Extract.LogLevel); err == nil {
			logging.SetLevel(level)
		}
	}
	if !c.IsSet("log-format") && cfg.Extract.LogFormat == "json" {
		logging.SetFormat("json")
	}
	return cfg, profileName, nil
}

func runExtract(c *cli.Context) error {
	cfg, profileName, err := commandConfig(c)
	if err != nil {
		return err
	}
	if err := cfg.ValidateExtract(); err != nil {
		return err
	}

	out := snapshot.New(cfg.Extract.OutputDir)
	if err := logging.SetFile(out.Path(logFile)); err != nil {
		logging.Warn("Log file disabled: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	collector := metrics.New()
	httpClient := &http.Client{Timeout: cfg.Source.RequestTimeout}
	tokens, err := source.NewTokenSource(cfg.Source, httpClient)
	if err != nil {
		return err
	}
	client, err := source.NewClient(source.Options{
		BaseURL: cfg.Source.BaseURL,
		Tokens:  tokens,
		Limiter: ratelimit.New(cfg.Source.MaxConcurrency, cfg.Source.MinGap),
		Retry: retry.Options{
			MaxRetries: cfg.Source.Retry.MaxRetries,
			BaseDelay:  cfg.Source.Retry.BaseDelay,
			MaxDelay:   cfg.Source.Retry.MaxDelay,
			Jitter:     cfg.Source.Retry.Jitter,
			OnRetry: func(attempt int, delay time.Duration, err error) {
				logging.Warn("Request failed (attempt %d), retrying in %v: %v", attempt, delay, err)
			},
		},
		RequestTimeout:  cfg.Source.RequestTimeout,
		DownloadTimeout: cfg.Source.DownloadTimeout,
		Metrics:         collector,
	})
	if err != nil {
		return err
	}

	store, err := checkpoint.New(checkpoint.NewFileBackend(out.Path(cfg.Extract.StateFile)), c.Bool("resume"))
	if err != nil {
		return err
	}

	uploader, err := storage.NewUploader(cfg.Storage)
	if err != nil {
		return err
	}

	deps := orchestrator.Deps{
		Source:   client,
		Store:    store,
		Output:   out,
		Metrics:  collector,
		Notifier: notify.New(&cfg.Slack),
		Uploader: uploader,
	}
	if h := openHistory(cfg); h != nil {
		defer h.Close()
		deps.History = h
	}

	ex, err := orchestrator.New(deps, orchestrator.Options{
		MaxConcurrency:    cfg.Source.MaxConcurrency,
		PageSize:          cfg.Source.PageSize,
		DownloadDocuments: cfg.DownloadDocuments(),
		SkipDocuments:     c.Bool("skip-documents"),
		DiscoverOnly:      c.Bool("discover-only"),
		VerifyOnly:        c.Bool("verify-only"),
		Entity:            c.String("entity"),
		ProfileName:       profileName,
		Config:            cfg.Sanitized(),
	})
	if err != nil {
		return err
	}
	return ex.Run(ctx)
}

func runImport(c *cli.Context) error {
	cfg, profileName, err := commandConfig(c)
	if err != nil {
		return err
	}
	dryRun := c.Bool("dry-run")
	if !dryRun {
		if err := cfg.ValidateImport(); err != nil {
			return err
		}
	}

	out := snapshot.New(cfg.Extract.OutputDir)
	if !out.Exists("") {
		return fmt.Errorf("output directory %s does not exist; run extract first", cfg.Extract.OutputDir)
	}
	if err := logging.SetFile(out.Path("_import/import-log.json")); err != nil {
		logging.Warn("Log file disabled: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	uploader, err := storage.NewUploader(cfg.Storage)
	if err != nil {
		return err
	}

	deps := importer.Deps{
		Snapshot: out,
		Metrics:  metrics.New(),
		Notifier: notify.New(&cfg.Slack),
		Uploader: uploader,
	}
	if !dryRun {
		pool, err := target.NewPool(ctx, cfg.Target)
		if err != nil {
			return err
		}
		defer func() {
			logging.Debug("Pool: %s", pool.Stats())
			pool.Close()
		}()
		deps.Rows = pool
		deps.Identities = target.NewAuthAdmin(cfg.Target.SupabaseURL, cfg.Target.ServiceRoleKey, nil)
	}
	if h := openHistory(cfg); h != nil {
		defer h.Close()
		deps.History = h
	}

	im, err := importer.New(deps, importer.Options{
		TenantID:    cfg.Import.TenantID,
		BatchSize:   cfg.Import.BatchSize,
		LookupChunk: cfg.Import.LookupChunk,
		Only:        c.String("only"),
		Resume:      c.Bool("resume"),
		DryRun:      dryRun,
		Clean:       c.Bool("clean"),
		ProfileName: profileName,
		Config:      cfg.Sanitized(),
	})
	if err != nil {
		return err
	}

	res, err := im.Run(ctx)
	if res != nil && len(res.Steps) > 0 {
		fmt.Println()
		fmt.Println(orchestrator.RenderTable(
			[]string{"Step", "Table", "Inserted", "Skipped", "Failed", "Skip reasons"}, res.Rows()))
		fmt.Printf("Run %s finished in %s\n", im.RunID(), res.Duration.Round(time.Millisecond))
	}
	return err
}

func showStatus(c *cli.Context) error {
	cfg, _, err := commandConfig(c)
	if err != nil {
		return err
	}
	out := snapshot.New(cfg.Extract.OutputDir)
	state, err := checkpoint.NewFileBackend(out.Path(cfg.Extract.StateFile)).Load()
	if err != nil {
		return err
	}
	if state == nil {
		fmt.Printf("No checkpoint found in %s\n", cfg.Extract.OutputDir)
		return nil
	}

	if c.Bool("json") {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}
	orchestrator.PrintStatus(os.Stdout, state)
	return nil
}

func showHistory(c *cli.Context) error {
	cfg, _, err := loadConfig(c)
	if err != nil {
		return err
	}
	h, err := checkpoint.OpenHistory(cfg.Extract.DataDir)
	if err != nil {
		return fmt.Errorf("opening history: %w", err)
	}
	defer h.Close()

	if id := c.String("run"); id != "" {
		run, err := h.GetRunByID(id)
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run %s not found", id)
		}
		printRunDetails(run)
		return nil
	}

	runs, err := h.GetAllRuns()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet")
		return nil
	}
	orchestrator.PrintHistory(os.Stdout, runs)
	return nil
}

func printRunDetails(r *checkpoint.Run) {
	fmt.Printf("Run:       %s\n", r.ID)
	fmt.Printf("Kind:      %s\n", r.Kind)
	fmt.Printf("Status:    %s\n", r.Status)
	fmt.Printf("Started:   %s\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"))
	if r.CompletedAt != nil {
		fmt.Printf("Completed: %s (%s)\n", r.CompletedAt.Local().Format("2006-01-02 15:04:05"),
			r.CompletedAt.Sub(r.StartedAt).Round(time.Second))
	}
	if r.OutputDir != "" {
		fmt.Printf("Output:    %s\n", r.OutputDir)
	}
	if r.ProfileName != "" {
		fmt.Printf("Profile:   %s\n", r.ProfileName)
	}
	if r.Error != "" {
		fmt.Printf("Error:     %s\n", r.Error)
	}
	if r.Config != "" {
		fmt.Printf("\nConfig:\n%s\n", r.Config)
	}
}
