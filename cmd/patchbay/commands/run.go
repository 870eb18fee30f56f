package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/patchbay/internal/engine"
	"github.com/dyluth/patchbay/internal/health"
	"github.com/dyluth/patchbay/internal/metrics"
	"github.com/dyluth/patchbay/internal/printer"
	"github.com/spf13/cobra"
)

var (
	runConfigPath string
	runListenAddr string
	runQuiet      bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the router until interrupted",
	Long: `Load the configuration, create every instance and mapping, start the
backends and route events until SIGINT or SIGTERM.

With --listen, an HTTP server exposes:
  /healthz  - JSON liveness report of the event loop
  /metrics  - Prometheus metrics

Examples:
  # Run with ./patchbay.yml
  patchbay run

  # Run another configuration and expose health and metrics
  patchbay run -c stage.yml --listen 127.0.0.1:9180`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", defaultConfigPath, "Path to the configuration file")
	runCmd.Flags().StringVar(&runListenAddr, "listen", "", "Address for the /healthz and /metrics server (disabled if empty)")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Suppress router log output")

	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(runConfigPath)
	if err != nil {
		return err
	}

	if len(cfg.Mappings) == 0 {
		printer.Warning("No mappings configured, no events will be routed\n")
	}

	opts := []engine.Option{engine.WithLogger(newLogger(runQuiet))}
	var m *metrics.Metrics
	if runListenAddr != "" {
		m = metrics.New()
		opts = append(opts, engine.WithObserver(m))
	}
	eng := engine.New(cfg, opts...)

	if m != nil {
		server := health.NewHealthServer(runListenAddr, m, eng.Running)
		if err := server.Start(); err != nil {
			return printer.ErrorWithContext(
				"failed to start health server",
				err.Error(),
				map[string]string{"Address": runListenAddr},
				[]string{"Choose a free address with --listen, or omit it"},
			)
		}
		defer server.Shutdown(context.Background())
		printer.Info("Health and metrics on http://%s\n", server.Addr())
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	runCtx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	printer.Step("Routing %d instances (run %s)\n", len(cfg.Instances), eng.RunID())

	errCh := make(chan error, 1)
	go func() {
		errCh <- eng.Run(runCtx)
	}()

	var runErr error
	select {
	case sig := <-sigCh:
		printer.Info("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		runErr = <-errCh
	case runErr = <-errCh:
	}

	if runErr != nil {
		return printer.Error("router stopped with an error", runErr.Error(), nil)
	}
	printer.Success("Router stopped\n")
	return nil
}
