package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fleetdns/querylogd/config"
	"github.com/fleetdns/querylogd/log"
)

//nolint:gochecknoglobals
var (
	configPath string
	cfg        *config.Config
)

const (
	defaultConfigPath = "./config.yml"
	configFileEnvVar  = "QUERYLOGD_CONFIG_FILE"
)

// NewRootCommand creates new root command instance
func NewRootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "querylogd",
		Short: "querylogd caches the query logs of a DNS server fleet",
		Long: `Ingests the query logs of a fleet of DNS servers into a local
database and serves filtered, paginated and deduplicated views of them.`,
		PersistentPreRunE: initConfigPreRun,
		RunE: func(cmd *cobra.Command, args []string) error {
			return startServer(cmd, args)
		},
		SilenceUsage: true,
	}

	c.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to config file")

	c.AddCommand(
		newServeCommand(),
		NewValidateCommand(),
		NewVersionCommand(),
	)

	return c
}

func initConfigPreRun(cmd *cobra.Command, _ []string) error {
	// version and help work without configuration
	if cmd.Name() == "version" || cmd.Name() == "help" {
		return nil
	}

	return initConfig()
}

func initConfig() error {
	if configPath == defaultConfigPath {
		if val, present := os.LookupEnv(configFileEnvVar); present {
			configPath = val
		}
	}

	c, err := config.LoadConfig(filepath.Clean(configPath))
	if err != nil {
		return fmt.Errorf("unable to load configuration: %w", err)
	}

	cfg = c

	log.ConfigureLogger(cfg.Log)

	return nil
}

// Execute starts the command
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
