package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/fleetdns/querylogd/log"
)

// NewValidateCommand creates new command instance
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Args:  cobra.NoArgs,
		Short: "Validates the configuration",
		RunE:  validateConfiguration,
	}
}

// validateConfiguration runs after the root pre-run, which already loaded and validated the file
func validateConfiguration(_ *cobra.Command, _ []string) error {
	log.Log().Infof("Validating configuration file: %s", configPath)

	if _, err := os.Stat(configPath); err != nil && errors.Is(err, os.ErrNotExist) {
		return errors.New("configuration path does not exist")
	}

	if cfg == nil {
		return errors.New("configuration was not loaded")
	}

	cfg.LogConfig(log.PrefixedLog("config"))

	log.Log().Info("Configuration is valid")

	return nil
}
