package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"codechat/internal/action"
	"codechat/internal/directive"
	"codechat/internal/logging"
)

const defaultCommandTimeout = 30 * time.Second

// ShellRunner executes proposed shell commands in the workspace.
type ShellRunner struct {
	root    string
	timeout time.Duration
}

// NewShellRunner returns a runner rooted at the workspace directory.
func NewShellRunner(root string) *ShellRunner {
	return &ShellRunner{root: root, timeout: defaultCommandTimeout}
}

// SetTimeout overrides the per-command timeout.
func (r *ShellRunner) SetTimeout(d time.Duration) {
	if d > 0 {
		r.timeout = d
	}
}

// RunCommand executes one command through the shell. The working directory
// defaults to the workspace root. A non-zero exit reports an error carrying
// the command output, so a failed command marks its queue item failed with a
// usable reason.
func (r *ShellRunner) RunCommand(ctx context.Context, cmd directive.ShellCommand) (action.ShellResult, error) {
	if strings.TrimSpace(cmd.Command) == "" {
		return action.ShellResult{ExitCode: -1}, fmt.Errorf("empty command")
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	dir := r.root
	if cmd.WorkingDirectory != "" {
		dir = cmd.WorkingDirectory
	}

	logging.Executor("ShellRunner: running %q in %s", cmd.Command, dir)
	c := exec.CommandContext(ctx, "sh", "-c", cmd.Command)
	c.Dir = dir

	output, err := c.CombinedOutput()
	result := action.ShellResult{Output: string(output), ExitCode: -1}
	if c.ProcessState != nil {
		result.ExitCode = c.ProcessState.ExitCode()
	}

	if ctx.Err() == context.DeadlineExceeded {
		return result, fmt.Errorf("command timed out after %v: %s", r.timeout, cmd.Command)
	}
	if err != nil {
		logging.ExecutorError("ShellRunner: %q failed: %v", cmd.Command, err)
		return result, fmt.Errorf("command failed (exit %d): %s", result.ExitCode, firstLine(result.Output))
	}

	logging.ExecutorDebug("ShellRunner: %q exit=0 output_len=%d", cmd.Command, len(result.Output))
	return result, nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	if s == "" {
		return "no output"
	}
	return s
}
