package action

import (
	"context"
	"fmt"
	"sync"

	"codechat/internal/directive"
)

// fakeExecutors records every call and can be told to fail on specific labels.
type fakeExecutors struct {
	mu       sync.Mutex
	calls    []string
	failKeys map[string]bool
}

func newFakeExecutors() *fakeExecutors {
	return &fakeExecutors{failKeys: make(map[string]bool)}
}

func (f *fakeExecutors) set() ExecutorSet {
	return ExecutorSet{
		Files:       f,
		Shell:       f,
		Packages:    f,
		Workflows:   f,
		Deployments: f,
	}
}

func (f *fakeExecutors) failOn(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failKeys[key] = true
}

func (f *fakeExecutors) record(kind Kind, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s:%s", kind, key))
	if f.failKeys[key] {
		return fmt.Errorf("forced failure for %s", key)
	}
	return nil
}

func (f *fakeExecutors) callList() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeExecutors) ApplyEdit(_ context.Context, edit directive.FileEdit) error {
	return f.record(KindFileEdit, edit.File)
}

func (f *fakeExecutors) RunCommand(_ context.Context, cmd directive.ShellCommand) (ShellResult, error) {
	err := f.record(KindShellCommand, cmd.Command)
	if err != nil {
		return ShellResult{ExitCode: 1}, err
	}
	return ShellResult{Output: "ok", ExitCode: 0}, nil
}

func (f *fakeExecutors) Install(_ context.Context, install directive.PackageInstall) error {
	return f.record(KindPackageInstall, install.Key())
}

func (f *fakeExecutors) ConfigureWorkflow(_ context.Context, cfg directive.WorkflowConfig) error {
	return f.record(KindWorkflowConfig, cfg.Name)
}

func (f *fakeExecutors) ConfigureDeployment(_ context.Context, cfg directive.DeploymentConfig) error {
	return f.record(KindDeploymentConfig, cfg.RunCommand)
}

// fakeNotifier collects notifications.
type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *fakeNotifier) Notify(level NotifyLevel, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, fmt.Sprintf("[%s] %s", level, message))
}

func (n *fakeNotifier) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.messages...)
}
