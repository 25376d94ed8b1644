package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/rsclarke/swapgate/internal/client"
	"github.com/rsclarke/swapgate/internal/config"
)

var statusFlags struct {
	port int
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running proxy's health endpoint",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().IntVar(&statusFlags.port, "port", getEnvInt("SWAPGATE_PORT", config.DefaultPort), "port the proxy listens on")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	base := url.URL{Scheme: "http", Host: fmt.Sprintf("127.0.0.1:%d", statusFlags.port)}
	c := client.NewClient(base.String(), cfg.HealthPath)
	health, err := c.Health(cmd.Context())
	if err != nil {
		return err
	}

	b, err := json.MarshalIndent(health, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}
