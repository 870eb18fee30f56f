// Package scaffold writes a starter patchbay project.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/patchbay/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile is the configuration file created by Initialize.
const ConfigFile = "patchbay.yml"

// ScriptFile is the example Lua script referenced by the starter configuration.
var ScriptFile = filepath.Join("scripts", "example.lua")

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes the starter configuration and script into dir and
// returns the created paths relative to dir. With force, existing files
// are replaced.
func Initialize(dir string, force bool) ([]string, error) {
	if force {
		if err := handleForce(dir); err != nil {
			return nil, err
		}
	}

	files, err := getTemplateFiles()
	if err != nil {
		return nil, err
	}

	created := make([]string, 0, len(files))
	for _, file := range files {
		path := filepath.Join(dir, file.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", filepath.Dir(file.Path), err)
		}
		if err := os.WriteFile(path, file.Content, file.Permissions); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
		created = append(created, file.Path)
	}

	// The starter configuration must pass the same validation as user files
	if _, err := config.Load(filepath.Join(dir, ConfigFile)); err != nil {
		return nil, fmt.Errorf("created %s is invalid: %w", ConfigFile, err)
	}
	return created, nil
}

// handleForce removes the files Initialize is about to create.
func handleForce(dir string) error {
	for _, name := range []string{ConfigFile, ScriptFile} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
	}
	return nil
}

func getTemplateFiles() ([]FileInfo, error) {
	cfg, err := templatesFS.ReadFile("templates/patchbay.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read %s template: %w", ConfigFile, err)
	}
	script, err := templatesFS.ReadFile("templates/example.lua.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read example script template: %w", err)
	}

	return []FileInfo{
		{Path: ConfigFile, Content: cfg, Permissions: 0644},
		{Path: ScriptFile, Content: script, Permissions: 0644},
	}, nil
}
