// Package action classifies detected directives into executable actions,
// applies the auto-execution policy, and runs queued actions in batches with
// per-item failure isolation.
package action

import (
	"context"
	"fmt"

	"codechat/internal/directive"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a queued action.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Kind identifies the directive family an action belongs to.
type Kind string

const (
	KindFileEdit         Kind = "file_edit"
	KindShellCommand     Kind = "shell_command"
	KindPackageInstall   Kind = "package_install"
	KindWorkflowConfig   Kind = "workflow_config"
	KindDeploymentConfig Kind = "deployment_config"
)

// Action is a closed union over the executable directive kinds. Each variant
// carries its directive payload and knows which executor serves it, so adding
// a kind without an executor fails at compile time instead of at dispatch.
type Action interface {
	Kind() Kind
	// Label is a short human-readable identifier for progress reporting.
	Label() string
	execute(ctx context.Context, execs ExecutorSet) error
}

// FileEditAction applies a proposed file edit.
type FileEditAction struct {
	Edit directive.FileEdit
}

func (a FileEditAction) Kind() Kind    { return KindFileEdit }
func (a FileEditAction) Label() string { return a.Edit.File }
func (a FileEditAction) execute(ctx context.Context, execs ExecutorSet) error {
	return execs.Files.ApplyEdit(ctx, a.Edit)
}

// ShellCommandAction runs a proposed shell command.
type ShellCommandAction struct {
	Command directive.ShellCommand
}

func (a ShellCommandAction) Kind() Kind    { return KindShellCommand }
func (a ShellCommandAction) Label() string { return a.Command.Command }
func (a ShellCommandAction) execute(ctx context.Context, execs ExecutorSet) error {
	_, err := execs.Shell.RunCommand(ctx, a.Command)
	return err
}

// PackageInstallAction installs proposed packages.
type PackageInstallAction struct {
	Install directive.PackageInstall
}

func (a PackageInstallAction) Kind() Kind    { return KindPackageInstall }
func (a PackageInstallAction) Label() string { return a.Install.Key() }
func (a PackageInstallAction) execute(ctx context.Context, execs ExecutorSet) error {
	return execs.Packages.Install(ctx, a.Install)
}

// WorkflowConfigAction applies a proposed workflow configuration.
type WorkflowConfigAction struct {
	Config directive.WorkflowConfig
}

func (a WorkflowConfigAction) Kind() Kind    { return KindWorkflowConfig }
func (a WorkflowConfigAction) Label() string { return a.Config.Name }
func (a WorkflowConfigAction) execute(ctx context.Context, execs ExecutorSet) error {
	return execs.Workflows.ConfigureWorkflow(ctx, a.Config)
}

// DeploymentConfigAction applies a proposed deployment configuration.
type DeploymentConfigAction struct {
	Config directive.DeploymentConfig
}

func (a DeploymentConfigAction) Kind() Kind    { return KindDeploymentConfig }
func (a DeploymentConfigAction) Label() string { return a.Config.RunCommand }
func (a DeploymentConfigAction) execute(ctx context.Context, execs ExecutorSet) error {
	return execs.Deployments.ConfigureDeployment(ctx, a.Config)
}

// QueuedAction is one entry in the pending-action queue. Status and Error are
// written by whichever single component is executing the item (the classifier
// for immediate execution, the batch runner during a run); they are not
// guarded by the queue's mutex.
type QueuedAction struct {
	ID     string `json:"id"`
	Action Action `json:"-"`
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// NewQueuedAction wraps an action with a fresh id in pending state.
func NewQueuedAction(a Action) *QueuedAction {
	return &QueuedAction{
		ID:     uuid.NewString(),
		Action: a,
		Status: StatusPending,
	}
}

// ShellResult is the outcome of one shell execution.
type ShellResult struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
}

// FileEditor applies proposed file edits to the workspace.
type FileEditor interface {
	ApplyEdit(ctx context.Context, edit directive.FileEdit) error
}

// ShellRunner executes proposed shell commands.
type ShellRunner interface {
	RunCommand(ctx context.Context, cmd directive.ShellCommand) (ShellResult, error)
}

// PackageInstaller installs proposed packages for a language.
type PackageInstaller interface {
	Install(ctx context.Context, install directive.PackageInstall) error
}

// WorkflowConfigurator persists proposed workflow configurations.
type WorkflowConfigurator interface {
	ConfigureWorkflow(ctx context.Context, cfg directive.WorkflowConfig) error
}

// DeploymentConfigurator persists proposed deployment configurations.
type DeploymentConfigurator interface {
	ConfigureDeployment(ctx context.Context, cfg directive.DeploymentConfig) error
}

// ExecutorSet bundles one executor per action variant.
type ExecutorSet struct {
	Files       FileEditor
	Shell       ShellRunner
	Packages    PackageInstaller
	Workflows   WorkflowConfigurator
	Deployments DeploymentConfigurator
}

// Validate reports a missing executor before any dispatch is attempted.
func (e ExecutorSet) Validate() error {
	switch {
	case e.Files == nil:
		return fmt.Errorf("executor set: file editor missing")
	case e.Shell == nil:
		return fmt.Errorf("executor set: shell runner missing")
	case e.Packages == nil:
		return fmt.Errorf("executor set: package installer missing")
	case e.Workflows == nil:
		return fmt.Errorf("executor set: workflow configurator missing")
	case e.Deployments == nil:
		return fmt.Errorf("executor set: deployment configurator missing")
	}
	return nil
}
