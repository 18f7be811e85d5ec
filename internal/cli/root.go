// Package cli wires the relayguard commands.
package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

// GlobalFlags contains flags shared by every command.
type GlobalFlags struct {
	Config  string
	Verbose bool
	JSON    bool
}

var globalFlags GlobalFlags

// RootCmd is the base command.
var RootCmd = &cobra.Command{
	Use:   "relayguard",
	Short: "RelayGuard - resilient request routing and dispatch",
	Long: `RelayGuard routes support operations between a direct provider path
and a protocol-mediated gateway path, with per-route circuit breakers,
health-gated routing, fallback, and emergency shutdown controls.

Available Commands:
  serve      Start the RelayGuard server
  route      Dry-run a routing decision without executing
  check      One-shot health probe of the configured routes
  version    Print version information`,
}

// InitCLI registers all commands and global flags. Safe to call once at
// startup.
func InitCLI() {
	configPath := os.Getenv("RELAYGUARD_CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	RootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", configPath, "Path to configuration file")
	RootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose output")
	RootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format")

	RootCmd.AddCommand(versionCmd)
	RootCmd.AddCommand(serveCmd)
	RootCmd.AddCommand(routeCmd)
	RootCmd.AddCommand(checkCmd)
}

// Execute runs the root command with the given arguments and returns an
// exit code.
func Execute(args []string) int {
	RootCmd.SetArgs(args)
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of RelayGuard",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("RelayGuard %s\n", version)
		fmt.Printf("Go: %s, %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
	},
}

const version = "0.1.0"
