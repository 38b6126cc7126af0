// Package executor implements the collaborator endpoints actions are
// dispatched to: file edits, shell commands, package installs, and
// workflow/deployment configuration.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codechat/internal/directive"
	"codechat/internal/logging"
)

// ChangeType distinguishes creating a file from editing an existing one.
type ChangeType string

const (
	ChangeEdit   ChangeType = "edit"
	ChangeCreate ChangeType = "create"
)

// FileEditor applies proposed file edits inside a workspace root. Paths are
// resolved relative to the root and may not escape it.
type FileEditor struct {
	root string
}

// NewFileEditor returns a file editor rooted at the given workspace directory.
func NewFileEditor(root string) *FileEditor {
	return &FileEditor{root: root}
}

// ApplyEdit writes the edit's new content to its file. The change type is
// derived, not declared: create when no prior content exists, edit otherwise.
// A substring edit (old content present but not equal to the whole file)
// replaces the first occurrence of the old content.
func (e *FileEditor) ApplyEdit(ctx context.Context, edit directive.FileEdit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := e.resolve(edit.File)
	if err != nil {
		return err
	}

	prior, readErr := os.ReadFile(path)
	changeType := ChangeEdit
	if readErr != nil {
		if !os.IsNotExist(readErr) {
			return fmt.Errorf("read %s: %w", edit.File, readErr)
		}
		changeType = ChangeCreate
	}

	content := edit.NewContent
	if changeType == ChangeEdit && edit.OldContent != "" && edit.OldContent != string(prior) {
		existing := string(prior)
		if !strings.Contains(existing, edit.OldContent) {
			return fmt.Errorf("edit %s: old content not found in file", edit.File)
		}
		content = strings.Replace(existing, edit.OldContent, edit.NewContent, 1)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory for %s: %w", edit.File, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("write %s: %w", edit.File, err)
	}

	// The directive's counts are advisory; report what actually changed.
	added, removed := directive.CountLineChanges(string(prior), content)
	logging.Executor("FileEditor: %s %s (+%d -%d)", changeType, edit.File, added, removed)
	return nil
}

// resolve joins a relative path onto the root and rejects escapes.
func (e *FileEditor) resolve(file string) (string, error) {
	if file == "" {
		return "", fmt.Errorf("file path required")
	}
	path := filepath.Join(e.root, filepath.FromSlash(file))
	rel, err := filepath.Rel(e.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("file path escapes workspace: %s", file)
	}
	return path, nil
}
