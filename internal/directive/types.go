// Package directive implements the inline markup grammar embedded in assistant
// text and the incremental parser that extracts machine-actionable directives
// from a growing stream buffer.
package directive

import (
	"sort"
	"strings"
)

// FileEdit is a proposed change to a single file.
type FileEdit struct {
	File       string `json:"file"`
	Added      int    `json:"added"`
	Removed    int    `json:"removed"`
	OldContent string `json:"oldContent,omitempty"`
	NewContent string `json:"newContent,omitempty"`
}

// ShellCommand is a proposed shell invocation.
type ShellCommand struct {
	Command          string `json:"command"`
	WorkingDirectory string `json:"workingDirectory,omitempty"`
	IsDangerous      bool   `json:"isDangerous"`
}

// PackageInstall is a proposed dependency installation.
type PackageInstall struct {
	Language string   `json:"language"`
	Packages []string `json:"packages"`
}

// WorkflowMode controls how workflow commands run.
type WorkflowMode string

const (
	WorkflowSequential WorkflowMode = "sequential"
	WorkflowParallel   WorkflowMode = "parallel"
)

// WorkflowConfig is a proposed named command workflow. The yaml tags match
// the workflows.yaml artifact the workflow configurator writes.
type WorkflowConfig struct {
	Name         string       `json:"name" yaml:"name"`
	Commands     []string     `json:"commands" yaml:"commands"`
	Mode         WorkflowMode `json:"mode" yaml:"mode"`
	SetRunButton bool         `json:"setRunButton" yaml:"set_run_button"`
}

// DeploymentConfig is a proposed deployment configuration.
type DeploymentConfig struct {
	BuildCommand string `json:"buildCommand,omitempty" yaml:"build_command,omitempty"`
	RunCommand   string `json:"runCommand" yaml:"run_command"`
}

// ToolNudge suggests a workspace tool to the user.
type ToolNudge struct {
	ToolName string `json:"toolName"`
	Reason   string `json:"reason"`
}

// RAGSourceRef is a retrieval source reference emitted as a markdown link.
type RAGSourceRef struct {
	ID   string `json:"id"`
	Path string `json:"path"`
}

// ParsedDirectives is a snapshot of every directive found in one buffer.
// Each list is deduplicated by the element's natural key.
type ParsedDirectives struct {
	FileEdits         []FileEdit         `json:"fileEdits"`
	ShellCommands     []ShellCommand     `json:"shellCommands"`
	PackageInstalls   []PackageInstall   `json:"packageInstalls"`
	WorkflowConfigs   []WorkflowConfig   `json:"workflowConfigs"`
	DeploymentConfigs []DeploymentConfig `json:"deploymentConfigs"`
	ToolNudges        []ToolNudge        `json:"toolNudges"`
	RAGSources        []RAGSourceRef     `json:"ragSources"`
	ActionSummary     string             `json:"actionSummary,omitempty"`
}

// IsEmpty reports whether no directive of any kind was found.
func (p ParsedDirectives) IsEmpty() bool {
	return len(p.FileEdits) == 0 &&
		len(p.ShellCommands) == 0 &&
		len(p.PackageInstalls) == 0 &&
		len(p.WorkflowConfigs) == 0 &&
		len(p.DeploymentConfigs) == 0 &&
		len(p.ToolNudges) == 0 &&
		len(p.RAGSources) == 0 &&
		p.ActionSummary == ""
}

// Count returns the total number of directives in the snapshot.
func (p ParsedDirectives) Count() int {
	return len(p.FileEdits) + len(p.ShellCommands) + len(p.PackageInstalls) +
		len(p.WorkflowConfigs) + len(p.DeploymentConfigs) + len(p.ToolNudges) +
		len(p.RAGSources)
}

// Key returns the natural dedup key for a file edit: its path.
func (f FileEdit) Key() string { return f.File }

// Key returns the natural dedup key for a shell command: the exact command text.
func (s ShellCommand) Key() string { return s.Command }

// Key returns the natural dedup key for a package install: language plus the
// sorted package set, so ordering differences inside the tag do not produce
// distinct keys.
func (p PackageInstall) Key() string {
	pkgs := append([]string(nil), p.Packages...)
	sort.Strings(pkgs)
	return p.Language + ":" + strings.Join(pkgs, ",")
}

// Key returns the natural dedup key for a workflow config: its name.
func (w WorkflowConfig) Key() string { return w.Name }

// Key returns the natural dedup key for a deployment config: the run command.
func (d DeploymentConfig) Key() string { return d.RunCommand }

// Key returns the natural dedup key for a tool nudge: the tool name.
func (t ToolNudge) Key() string { return t.ToolName }

// Key returns the natural dedup key for a RAG source: its id.
func (r RAGSourceRef) Key() string { return r.ID }
