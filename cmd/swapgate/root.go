package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/swapgate/internal/config"
	"github.com/rsclarke/swapgate/internal/db"
	"github.com/rsclarke/swapgate/internal/logging"
	"github.com/rsclarke/swapgate/internal/rotation"
)

var logger *zap.Logger

var rootFlags struct {
	projectDir string
	configPath string
}

var rootCmd = &cobra.Command{
	Use:   "swapgate",
	Short: "Credential-rotating forwarding proxy",
	Long: `swapgate is a local forwarding proxy that intercepts CONNECT tunnels to
configured API hosts, injects the active account credential into each
request, and rotates to the next account when the upstream rate-limits.

Tunnels to every other host are relayed byte-for-byte.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = logging.New(logging.FromEnv())
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logging.Sync(logger)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rootFlags.projectDir, "project-dir", getEnv("SWAPGATE_PROJECT_DIR", "."), "project directory holding the .swapgate state directory")
	rootCmd.PersistentFlags().StringVar(&rootFlags.configPath, "config", os.Getenv("SWAPGATE_CONFIG"), "YAML config file (default <project-dir>/.swapgate/swapgate.yaml)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig applies the optional YAML file over the defaults. An
// explicit --config must exist.
func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	cfg.ProjectDir = rootFlags.projectDir

	path, required := rootFlags.configPath, true
	if path == "" {
		path, required = cfg.FilePath(), false
	}
	if err := cfg.LoadFile(path, required); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the project's rotation database, creating the state
// directory on first use.
func openStore(cfg *config.Config) (*sql.DB, *rotation.SQLiteStore, error) {
	if err := os.MkdirAll(cfg.StateDir(), 0o700); err != nil {
		return nil, nil, fmt.Errorf("create state dir: %w", err)
	}
	database, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open rotation store: %w", err)
	}
	return database, rotation.NewSQLiteStore(database), nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultVal
}
