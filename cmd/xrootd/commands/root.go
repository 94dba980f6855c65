// Package commands implements the xrootd CLI's cobra commands.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time via ldflags.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "xrootd",
	Short: "An XRootD wire-protocol file-access server",
	Long: `xrootd-core implements the XRootD client/server wire protocol: login,
file open/close/stat, synchronous and asynchronous read/write, page-checked
I/O, checkpointed writes, and extended attributes, served over an in-memory
or pluggable storage backend.

Use "xrootd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/xrootd/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// GetConfigFile returns the config file path from the global --config flag.
func GetConfigFile() string {
	return cfgFile
}
