package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "patchbay",
	Short: "Patchbay - protocol-agnostic control event router",
	Long: `Patchbay translates and routes control events between protocols.

Instances of backends (MIDI ports, Lua scripts, Redis buses, loopbacks) expose
channels. Mappings connect channels of any instance to channels of any other,
and every value change on a mapped channel is delivered to its destinations.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no subcommand is specified, show help
		return cmd.Help()
	},
	// Enable strict flag parsing - unknown flags will cause an error
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}
