// Package printer renders coloured CLI output. Commands print through it so
// tests can capture everything with SetOutput.
package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)

	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// SetOutput redirects regular and error output. Nil restores the process streams.
func SetOutput(out, errOut io.Writer) {
	if out == nil {
		out = os.Stdout
	}
	if errOut == nil {
		errOut = os.Stderr
	}
	stdout, stderr = out, errOut
}

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		msg = "✓ " + msg
	}
	green.Fprint(stdout, msg)
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Fprintf(stdout, format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		msg = "⚠️  " + msg
	}
	yellow.Fprint(stderr, msg)
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Fprintf(stdout, "→ %s", fmt.Sprintf(format, a...))
}

// Error creates a formatted error message with title, explanation, and suggestions
// Prints the formatted error to stderr with colors and returns a simple error for Cobra
func Error(title string, explanation string, suggestions []string) error {
	return ErrorWithContext(title, explanation, nil, suggestions)
}

// ErrorWithContext creates a formatted error with context details, printed
// in key order. Returns a simple error carrying only the title for Cobra.
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	red.Fprintf(stderr, "%s\n\n", title)

	if explanation != "" {
		fmt.Fprintf(stderr, "%s\n", explanation)
	}

	if len(context) > 0 {
		keys := make([]string, 0, len(context))
		for key := range context {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		fmt.Fprintf(stderr, "\n")
		for _, key := range keys {
			fmt.Fprintf(stderr, "  %s: %s\n", key, context[key])
		}
	}

	if len(suggestions) > 0 {
		fmt.Fprintf(stderr, "\n")
		if len(suggestions) == 1 {
			fmt.Fprintf(stderr, "%s\n", suggestions[0])
		} else {
			fmt.Fprintf(stderr, "Either:\n")
			for i, suggestion := range suggestions {
				fmt.Fprintf(stderr, "  %d. %s\n", i+1, suggestion)
			}
		}
	}

	// Return simple error for Cobra (won't be printed due to SilenceErrors)
	return fmt.Errorf("%s", title)
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	fmt.Fprintln(stdout, a...)
}

// Printf prints a plain formatted message (for output that doesn't need coloring)
func Printf(format string, a ...any) {
	fmt.Fprintf(stdout, format, a...)
}
