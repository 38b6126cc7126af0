package action

import (
	"context"
	"fmt"

	"codechat/internal/directive"
	"codechat/internal/logging"
)

// Mode selects the assistant's feature surface.
type Mode string

const (
	ModeBasic    Mode = "basic"
	ModeAdvanced Mode = "advanced"
)

// Settings are the user-controlled knobs the classifier consults.
type Settings struct {
	AutoApplyChanges bool `json:"autoApplyChanges" yaml:"auto_apply_changes"`
	Mode             Mode `json:"mode" yaml:"mode"`
}

// NotifyLevel grades user-visible notifications.
type NotifyLevel string

const (
	NotifyInfo    NotifyLevel = "info"
	NotifySuccess NotifyLevel = "success"
	NotifyError   NotifyLevel = "error"
)

// Notifier is the user-visible notification channel.
type Notifier interface {
	Notify(level NotifyLevel, message string)
}

// Classifier routes freshly-detected directives: execute immediately when the
// auto-apply policy allows it, otherwise park them on the pending queue for
// user confirmation. Tool nudges bypass the policy entirely and always surface
// as notifications.
type Classifier struct {
	execs    ExecutorSet
	queue    *Queue
	notifier Notifier
	settings func() Settings
}

// NewClassifier wires a classifier. settings is consulted on every dispatch so
// a hot-reloaded auto-apply toggle takes effect mid-stream.
func NewClassifier(execs ExecutorSet, queue *Queue, notifier Notifier, settings func() Settings) (*Classifier, error) {
	if err := execs.Validate(); err != nil {
		return nil, err
	}
	if queue == nil {
		return nil, fmt.Errorf("classifier: queue required")
	}
	if settings == nil {
		return nil, fmt.Errorf("classifier: settings source required")
	}
	return &Classifier{execs: execs, queue: queue, notifier: notifier, settings: settings}, nil
}

// Dispatch handles every directive in a freshly-detected batch. Directives the
// policy defers are enqueued; the rest execute immediately, each reporting its
// own success or failure without affecting siblings.
func (c *Classifier) Dispatch(ctx context.Context, fresh directive.ParsedDirectives) {
	for _, nudge := range fresh.ToolNudges {
		c.notify(NotifyInfo, fmt.Sprintf("Tool suggestion: %s (%s)", nudge.ToolName, nudge.Reason))
	}

	for _, edit := range fresh.FileEdits {
		c.route(ctx, FileEditAction{Edit: edit})
	}
	for _, cmd := range fresh.ShellCommands {
		c.route(ctx, ShellCommandAction{Command: cmd})
	}
	for _, install := range fresh.PackageInstalls {
		c.route(ctx, PackageInstallAction{Install: install})
	}
	for _, wf := range fresh.WorkflowConfigs {
		c.route(ctx, WorkflowConfigAction{Config: wf})
	}
	for _, dep := range fresh.DeploymentConfigs {
		c.route(ctx, DeploymentConfigAction{Config: dep})
	}
}

// route applies the policy table for one action.
func (c *Classifier) route(ctx context.Context, a Action) {
	if c.autoExecutable(a) {
		c.executeNow(ctx, a)
		return
	}
	c.queue.Enqueue(a)
}

// autoExecutable implements the policy table. A dangerous shell command is
// never auto-executed, whatever the settings say.
func (c *Classifier) autoExecutable(a Action) bool {
	if sh, ok := a.(ShellCommandAction); ok && sh.Command.IsDangerous {
		return false
	}
	return c.settings().AutoApplyChanges
}

// executeNow runs a single auto-applied action and reports the outcome on the
// notification channel.
func (c *Classifier) executeNow(ctx context.Context, a Action) {
	logging.Action("Classifier: auto-executing %s %q", a.Kind(), a.Label())
	if err := a.execute(ctx, c.execs); err != nil {
		logging.ActionError("Classifier: %s %q failed: %v", a.Kind(), a.Label(), err)
		c.notify(NotifyError, fmt.Sprintf("%s failed: %s", a.Kind(), errorMessage(err)))
		return
	}
	c.notify(NotifySuccess, fmt.Sprintf("Applied %s: %s", a.Kind(), a.Label()))
}

func (c *Classifier) notify(level NotifyLevel, message string) {
	if c.notifier != nil {
		c.notifier.Notify(level, message)
	}
}

// errorMessage prefers the collaborator's own reason string; "Unknown error"
// is the fallback only when nothing better is available.
func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return "Unknown error"
	}
	return err.Error()
}
