package cmd

import (
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X ...cmd.version=...".
var version = "dev"

var (
	verbose  bool
	debug    bool
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "gateway",
	Short:   "Real-time chat gateway",
	Version: version,
	Long: `Gateway keeps a persistent WebSocket session open per client, runs the
hello/heartbeat/identify/resume control protocol over it, and fans out
guild, channel and user scoped events through an event bus backed by
RabbitMQ or, when no broker is configured, an in-process fallback.

Configuration is read from HCL files and GATEWAY_* environment variables.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "debug output")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (debug, info, warn, error); overrides the configuration")
}
