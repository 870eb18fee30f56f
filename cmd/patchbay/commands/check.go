package commands

import (
	"strings"

	"github.com/dyluth/patchbay/internal/engine"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/spf13/cobra"
)

var (
	checkConfigPath string
	checkVerbose    bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a configuration and print the resolved mappings",
	Long: `Perform the full setup phase without starting any backend: every
instance is created and configured, and every mapping is expanded and
resolved. The resolved edges are printed one per line.

Examples:
  patchbay check
  patchbay check -c stage.yml`,
	Args: cobra.NoArgs,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVarP(&checkConfigPath, "config", "c", defaultConfigPath, "Path to the configuration file")
	checkCmd.Flags().BoolVarP(&checkVerbose, "verbose", "v", false, "Show router log output")

	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(checkConfigPath)
	if err != nil {
		return err
	}

	eng := engine.New(cfg, engine.WithLogger(newLogger(!checkVerbose)))
	defer eng.Close()

	if err := eng.Setup(); err != nil {
		return printer.ErrorWithContext(
			"setup failed",
			err.Error(),
			map[string]string{"Path": checkConfigPath},
			[]string{"Run 'patchbay backends' to list available backends"},
		)
	}

	printer.Printf("%-15s %-10s %s\n", "INSTANCE", "BACKEND", "OPTIONS")
	for _, inst := range cfg.Instances {
		opts := make([]string, 0, len(inst.Options))
		for _, opt := range inst.Options {
			opts = append(opts, opt.Key+"="+opt.Value)
		}
		printer.Printf("%-15s %-10s %s\n", inst.Name, inst.Backend, strings.Join(opts, " "))
	}

	edges := eng.Edges()
	printer.Println()
	printer.Printf("%-30s    %s\n", "FROM", "TO")
	for _, edge := range edges {
		printer.Printf("%-30s -> %s\n", edge.From, edge.To)
	}
	printer.Println()
	if len(edges) == 0 {
		printer.Warning("No mappings configured, no events will be routed\n")
	}
	printer.Success("%d instances, %d mapping edges\n", len(cfg.Instances), len(edges))
	return nil
}
