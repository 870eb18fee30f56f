package main

import (
	"os"

	"github.com/dyluth/patchbay/cmd/patchbay/commands"

	// Registers the system MIDI driver used by the midi backend.
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// Errors are printed directly by the printer package with color formatting
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
