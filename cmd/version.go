package cmd

import (
	"github.com/spf13/cobra"

	"github.com/fleetdns/querylogd/util"
)

// NewVersionCommand creates new command instance
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Args:  cobra.NoArgs,
		Short: "Print the version number of querylogd",
		Run:   printVersion,
	}
}

func printVersion(cmd *cobra.Command, _ []string) {
	cmd.Println("querylogd")
	cmd.Printf("Version: %s\n", util.Version)
	cmd.Printf("Build time: %s\n", util.BuildTime)
}
