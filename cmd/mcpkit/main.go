// Command mcpkit is the operator-facing CLI for mcpkit bundles: it
// validates policy documents, pushes and pulls bundles to and from an
// OCI registry, and runs or debugs a bundle's sandbox host directly,
// without the long-running server cmd/mcpkitd provides.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpkit/mcpkit/pkg/logger"
)

var (
	debugMode bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "mcpkit",
	Short: "Validate, push, pull, and run mcpkit bundles",
	Long: `mcpkit is the operator CLI around mcpkit's core: policy validation,
bundle push/pull against an OCI registry, and local sandbox execution
for testing a bundle without standing up mcpkitd.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		initLogger()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sandboxCmd)
	rootCmd.AddCommand(versionCmd)
}

func initLogger() {
	log := logger.GetLogger()
	if debugMode {
		log.SetLevel(logger.DebugLevel)
		return
	}
	switch logLevel {
	case "debug":
		log.SetLevel(logger.DebugLevel)
	case "warn":
		log.SetLevel(logger.WarnLevel)
	case "error":
		log.SetLevel(logger.ErrorLevel)
	default:
		log.SetLevel(logger.InfoLevel)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the mcpkit version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("mcpkit (development build)")
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
