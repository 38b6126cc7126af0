package executor

import (
	"context"
	"fmt"
	"strings"

	"codechat/internal/action"
	"codechat/internal/directive"
	"codechat/internal/logging"
)

// installCommands maps a directive language to its package manager invocation.
// Package names are appended to the template.
var installCommands = map[string][]string{
	"nodejs":     {"npm", "install"},
	"javascript": {"npm", "install"},
	"typescript": {"npm", "install"},
	"python":     {"pip", "install"},
	"python3":    {"pip3", "install"},
	"go":         {"go", "get"},
	"golang":     {"go", "get"},
	"rust":       {"cargo", "add"},
	"ruby":       {"gem", "install"},
}

// PackageManager installs proposed packages by delegating to the per-language
// package manager through the shell runner.
type PackageManager struct {
	shell action.ShellRunner
}

// NewPackageManager returns an installer backed by the given shell runner.
func NewPackageManager(shell action.ShellRunner) *PackageManager {
	return &PackageManager{shell: shell}
}

// Install runs the package manager for the directive's language.
func (m *PackageManager) Install(ctx context.Context, install directive.PackageInstall) error {
	command, err := InstallCommand(install)
	if err != nil {
		return err
	}

	logging.Executor("PackageManager: %s", command)
	if _, err := m.shell.RunCommand(ctx, directive.ShellCommand{Command: command}); err != nil {
		return fmt.Errorf("install %s packages: %w", install.Language, err)
	}
	return nil
}

// InstallCommand builds the shell command for a package install directive.
func InstallCommand(install directive.PackageInstall) (string, error) {
	base, ok := installCommands[strings.ToLower(install.Language)]
	if !ok {
		return "", fmt.Errorf("no package manager known for language %q", install.Language)
	}
	if len(install.Packages) == 0 {
		return "", fmt.Errorf("no packages to install")
	}
	parts := append(append([]string(nil), base...), install.Packages...)
	return strings.Join(parts, " "), nil
}
