package commands

import (
	"errors"
	"io"
	"log"
	"os"

	"github.com/dyluth/patchbay/internal/config"
	"github.com/dyluth/patchbay/internal/printer"
)

const defaultConfigPath = "patchbay.yml"

// loadConfig loads path and turns failures into printed, user-facing errors.
func loadConfig(path string) (*config.PatchbayConfig, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return nil, printer.ErrorWithContext(
			"configuration not found",
			"No patchbay configuration exists at the given path.",
			map[string]string{"Path": path},
			[]string{"Create patchbay.yml in the current directory, or pass --config <path>"},
		)
	}
	return nil, printer.ErrorWithContext(
		"invalid configuration",
		err.Error(),
		map[string]string{"Path": path},
		[]string{"Fix the configuration and run 'patchbay check' to verify it"},
	)
}

func newLogger(quiet bool) *log.Logger {
	if quiet {
		return log.New(io.Discard, "", 0)
	}
	return log.New(os.Stderr, "", log.LstdFlags)
}
