package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/johndauphine/tg-migrate/internal/checkpoint"
	"github.com/johndauphine/tg-migrate/internal/config"
	"github.com/johndauphine/tg-migrate/internal/orchestrator"
)

const masterKeyEnv = "TG_MIGRATE_MASTER_KEY"

// openProfiles opens the history database in the default data directory.
// Profiles are looked up before any config is loaded, so the data dir
// cannot come from a config file.
func openProfiles() (*checkpoint.History, error) {
	dataDir, err := config.DefaultDataDir()
	if err != nil {
		return nil, err
	}
	return checkpoint.OpenHistory(dataDir)
}

func loadProfileConfig(name string) (*config.Config, error) {
	h, err := openProfiles()
	if err != nil {
		return nil, err
	}
	defer h.Close()

	blob, err := h.GetProfile(name)
	if err != nil {
		return nil, err
	}
	return config.LoadBytes(blob)
}

func saveProfile(c *cli.Context) error {
	configPath := c.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	name := c.String("name")
	if name == "" {
		if cfg.Profile.Name != "" {
			name = cfg.Profile.Name
		} else {
			base := filepath.Base(configPath)
			name = strings.TrimSuffix(base, filepath.Ext(base))
		}
	}
	payload, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	h, err := openProfiles()
	if err != nil {
		return err
	}
	defer h.Close()

	info := checkpoint.ProfileInfo{
		Name:        name,
		Description: cfg.Profile.Description,
		TenantID:    cfg.Import.TenantID,
		OutputDir:   cfg.Extract.OutputDir,
	}
	if err := h.SaveProfile(info, payload); err != nil {
		if strings.Contains(err.Error(), masterKeyEnv+" is not set") {
			return fmt.Errorf("%s is not set; set it before saving profiles", masterKeyEnv)
		}
		return err
	}
	fmt.Printf("Saved profile %q\n", name)
	return nil
}

func listProfiles(c *cli.Context) error {
	h, err := openProfiles()
	if err != nil {
		return err
	}
	defer h.Close()

	profiles, err := h.ListProfiles()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		fmt.Println("No profiles found")
		return nil
	}
	rows := make([][]string, 0, len(profiles))
	for _, p := range profiles {
		rows = append(rows, []string{
			p.Name,
			strings.ReplaceAll(strings.TrimSpace(p.Description), "\n", " "),
			p.TenantID,
			p.OutputDir,
			p.CreatedAt.Format("2006-01-02 15:04:05"),
			p.UpdatedAt.Format("2006-01-02 15:04:05"),
		})
	}
	fmt.Println(orchestrator.RenderTable([]string{"Name", "Description", "Tenant", "Output", "Created", "Updated"}, rows))
	return nil
}

func deleteProfile(c *cli.Context) error {
	name := c.String("name")
	h, err := openProfiles()
	if err != nil {
		return err
	}
	defer h.Close()

	if err := h.DeleteProfile(name); err != nil {
		return err
	}
	fmt.Printf("Deleted profile %q\n", name)
	return nil
}

func exportProfile(c *cli.Context) error {
	name := c.String("name")
	outPath := c.String("out")

	h, err := openProfiles()
	if err != nil {
		return err
	}
	defer h.Close()

	blob, err := h.GetProfile(name)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, blob, 0600); err != nil {
		return err
	}
	fmt.Printf("Exported profile %q to %s\n", name, outPath)
	return nil
}
