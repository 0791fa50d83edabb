package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/johndauphine/tg-migrate/internal/checkpoint"
	"github.com/johndauphine/tg-migrate/internal/config"
	"github.com/johndauphine/tg-migrate/internal/exitcodes"
	"github.com/johndauphine/tg-migrate/internal/importer"
	"github.com/johndauphine/tg-migrate/internal/logging"
	"github.com/johndauphine/tg-migrate/internal/orchestrator"
)

var version = "dev"

func main() {
	app := &cli.App{
		Name:    "tg-migrate",
		Usage:   "Extract a TeamGantt account and import it into Supabase",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file (optional; defaults and environment are used without it)",
			},
			&cli.StringFlag{
				Name:  "profile",
				Usage: "Profile name stored in SQLite",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format: text or json",
			},
			&cli.StringFlag{
				Name:  "verbosity",
				Value: "info",
				Usage: "Log verbosity level (debug, info, warn, error)",
			},
		},
		Before: func(c *cli.Context) error {
			level, err := logging.ParseLevel(c.String("verbosity"))
			if err != nil {
				return err
			}
			logging.SetLevel(level)
			if c.String("log-format") == "json" {
				logging.SetFormat("json")
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "extract",
				Usage:  "Copy the account into the output directory",
				Action: runExtract,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "resume",
						Usage: "Continue from the checkpoint of an earlier run",
					},
					&cli.BoolFlag{
						Name:  "skip-documents",
						Usage: "Do not download document files",
					},
					&cli.BoolFlag{
						Name:  "discover-only",
						Usage: "Check API access and write the discovery report only",
					},
					&cli.BoolFlag{
						Name:  "verify-only",
						Usage: "Rewrite the integrity report from the checkpoint",
					},
					&cli.StringFlag{
						Name:  "entity",
						Usage: fmt.Sprintf("Run one phase only (%v)", orchestrator.EntityNames()),
					},
					&cli.StringFlag{
						Name:  "output-dir",
						Usage: "Output directory (overrides extract.output_dir)",
					},
				},
			},
			{
				Name:   "import",
				Usage:  "Load an extracted output directory into the destination",
				Action: runImport,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "resume",
						Usage: "Load the saved id map and skip rows already imported",
					},
					&cli.StringFlag{
						Name:  "only",
						Usage: fmt.Sprintf("Run one step only (%v)", importer.StepKeys()),
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Read and map everything without writing",
					},
					&cli.BoolFlag{
						Name:  "clean",
						Usage: "Delete the tenant's imported rows and the id map first",
					},
					&cli.StringFlag{
						Name:  "output-dir",
						Usage: "Extracted output directory (overrides extract.output_dir)",
					},
				},
			},
			{
				Name:   "status",
				Usage:  "Show the checkpoint of the last extraction",
				Action: showStatus,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output status as JSON",
					},
					&cli.StringFlag{
						Name:  "output-dir",
						Usage: "Output directory (overrides extract.output_dir)",
					},
				},
			},
			{
				Name:  "history",
				Usage: "List extract and import runs, or view details of a specific run",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show details for a specific run ID",
					},
				},
				Action: showHistory,
			},
			{
				Name:  "profile",
				Usage: "Manage encrypted profiles stored in SQLite",
				Subcommands: []*cli.Command{
					{
						Name:   "save",
						Usage:  "Save a profile from a config file",
						Action: saveProfile,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:    "name",
								Aliases: []string{"n"},
								Usage:   "Profile name (inferred from profile.name or filename if omitted)",
							},
							&cli.StringFlag{
								Name:    "config",
								Aliases: []string{"c"},
								Value:   "config.yaml",
								Usage:   "Path to configuration file",
							},
						},
					},
					{
						Name:   "list",
						Usage:  "List saved profiles",
						Action: listProfiles,
					},
					{
						Name:   "delete",
						Usage:  "Delete a saved profile",
						Action: deleteProfile,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "name",
								Aliases:  []string{"n"},
								Required: true,
								Usage:    "Profile name",
							},
						},
					},
					{
						Name:   "export",
						Usage:  "Export a profile to a config file",
						Action: exportProfile,
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:     "name",
								Aliases:  []string{"n"},
								Required: true,
								Usage:    "Profile name",
							},
							&cli.StringFlag{
								Name:    "out",
								Aliases: []string{"o"},
								Value:   "config.yaml",
								Usage:   "Output path for exported config",
							},
						},
					},
				},
			},
		},
	}

	err := app.Run(os.Args)
	logging.Sync()
	if err != nil {
		code := exitcodes.FromError(err)
		fmt.Fprintf(os.Stderr, "Error: %v (%s)\n", err, exitcodes.Description(code))
		os.Exit(code)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(os.Stderr, "\nInterrupted. Saving checkpoint...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// loadConfig reads the profile or config file named by the global flags and
// returns it with the profile name. A missing default config file is not an
// error.
func loadConfig(c *cli.Context) (*config.Config, string, error) {
	if name := c.String("profile"); name != "" {
		cfg, err := loadProfileConfig(name)
		return cfg, name, err
	}

	path := c.String("config")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if c.IsSet("config") {
			return nil, "", fmt.Errorf("configuration file not found: %s", path)
		}
		path = ""
	}
	cfg, err := config.Load(path)
	return cfg, "", err
}

func openHistory(cfg *config.Config) *checkpoint.History {
	h, err := checkpoint.OpenHistory(cfg.Extract.DataDir)
	if err != nil {
		logging.Warn("Run history unavailable: %v", err)
		return nil
	}
	if n, err := h.CleanupOldRuns(90); err == nil && n > 0 {
		logging.Debug("Removed %d runs older than 90 days", n)
	}
	return h
}
