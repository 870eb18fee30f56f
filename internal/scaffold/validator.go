package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckExisting returns an error naming every file Initialize would
// overwrite in dir.
func CheckExisting(dir string) error {
	var existing []string
	for _, name := range []string{ConfigFile, ScriptFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
			existing = append(existing, name)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return fmt.Errorf("project already initialized (found %s)", strings.Join(existing, ", "))
}
