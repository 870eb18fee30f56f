package commands

import (
	"github.com/dyluth/patchbay/internal/backends"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/spf13/cobra"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List the backends compiled into patchbay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printer.Printf("%-10s %s\n", "NAME", "DESCRIPTION")
		for _, info := range backends.All() {
			printer.Printf("%-10s %s\n", info.Name, info.Description)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backendsCmd)
}
