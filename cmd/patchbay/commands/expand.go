package commands

import (
	"github.com/dyluth/patchbay/internal/engine"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/spf13/cobra"
)

var expandCmd = &cobra.Command{
	Use:   "expand SPEC...",
	Short: "Print the concrete channels a channel-spec expands to",
	Long: `Expand range tokens in one or more instance.channel specs.

A range token is START-END or START-END:STEP. Several tokens expand to
their cross product, rightmost varying fastest. A leading zero on START
pads every value to its width.

Examples:
  patchbay expand pad.note1-4
  patchbay expand 'grid.row1-2.col01-08:2'`,
	Args: cobra.MinimumNArgs(1),
	RunE: runExpand,
}

func init() {
	rootCmd.AddCommand(expandCmd)
}

func runExpand(cmd *cobra.Command, args []string) error {
	for _, spec := range args {
		channels, err := engine.Expand(spec)
		if err != nil {
			return printer.ErrorWithContext(
				"invalid channel-spec",
				err.Error(),
				map[string]string{"Spec": spec},
				[]string{"Write specs as instance.channel, e.g. pad.note1-16"},
			)
		}
		for _, ch := range channels {
			printer.Println(ch)
		}
	}
	return nil
}
