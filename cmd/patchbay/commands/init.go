package commands

import (
	"os"

	"github.com/dyluth/patchbay/internal/printer"
	"github.com/dyluth/patchbay/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a starter patchbay project",
	Long: `Create a starter project in the current directory.

Creates:
  • patchbay.yml - configuration with a loopback and a Lua instance
  • scripts/example.lua - script driving LEDs from fader values

Use --force to overwrite existing files.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Overwrite existing patchbay.yml and scripts/example.lua")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir, err := os.Getwd()
	if err != nil {
		return err
	}

	if !forceInit {
		if err := scaffold.CheckExisting(dir); err != nil {
			return printer.Error(
				"project already initialized",
				err.Error(),
				[]string{"Use 'patchbay init --force' to overwrite the existing files"},
			)
		}
	}

	created, err := scaffold.Initialize(dir, forceInit)
	if err != nil {
		return printer.Error("initialization failed", err.Error(), nil)
	}

	printer.Success("Initialized patchbay project\n")
	printer.Println("\nCreated:")
	for _, path := range created {
		printer.Printf("  %s\n", path)
	}
	printer.Println("\nNext steps:")
	printer.Println("  1. Edit patchbay.yml to add your devices ('patchbay backends' lists what is available)")
	printer.Println("  2. Run 'patchbay check' to see the resolved mappings")
	printer.Println("  3. Run 'patchbay run' to start routing")
	return nil
}
