package action

import (
	"context"
	"testing"

	"codechat/internal/directive"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunner_AllItemsReachTerminalStatus(t *testing.T) {
	execs := newFakeExecutors()
	notifier := &fakeNotifier{}
	runner, err := NewRunner(execs.set(), notifier, nil)
	require.NoError(t, err)

	items := []*QueuedAction{
		NewQueuedAction(PackageInstallAction{Install: directive.PackageInstall{Language: "nodejs", Packages: []string{"lodash"}}}),
		NewQueuedAction(FileEditAction{Edit: directive.FileEdit{File: "index.js"}}),
		NewQueuedAction(ShellCommandAction{Command: directive.ShellCommand{Command: "npm test"}}),
	}

	summary, err := runner.Run(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, Summary{Total: 3, Completed: 3, Failed: 0}, summary)
	for _, item := range items {
		assert.Equal(t, StatusCompleted, item.Status)
		assert.Empty(t, item.Error)
	}
	// Ordering dependency: install ran before the file that imports it.
	assert.Equal(t, []string{
		"package_install:nodejs:lodash",
		"file_edit:index.js",
		"shell_command:npm test",
	}, execs.callList())
	// One summary for the whole batch, not one per item.
	require.Len(t, notifier.all(), 1)
	assert.Contains(t, notifier.all()[0], "3/3")
}

func TestRunner_FailureIsolation(t *testing.T) {
	// For each possible failing position k, every other item still completes.
	const n = 4
	for k := 0; k < n; k++ {
		execs := newFakeExecutors()
		runner, err := NewRunner(execs.set(), nil, nil)
		require.NoError(t, err)

		var items []*QueuedAction
		for i := 0; i < n; i++ {
			file := string(rune('a'+i)) + ".go"
			if i == k {
				execs.failOn(file)
			}
			items = append(items, NewQueuedAction(FileEditAction{Edit: directive.FileEdit{File: file}}))
		}

		summary, err := runner.Run(context.Background(), items)
		require.NoError(t, err)
		assert.Equal(t, Summary{Total: n, Completed: n - 1, Failed: 1}, summary, "failing index %d", k)

		for i, item := range items {
			if i == k {
				assert.Equal(t, StatusFailed, item.Status)
				assert.Contains(t, item.Error, "forced failure")
			} else {
				assert.Equal(t, StatusCompleted, item.Status)
			}
		}
	}
}

func TestRunner_ProgressUpdates(t *testing.T) {
	execs := newFakeExecutors()
	var updates []Progress
	runner, err := NewRunner(execs.set(), nil, func(p Progress) { updates = append(updates, p) })
	require.NoError(t, err)

	items := []*QueuedAction{
		NewQueuedAction(ShellCommandAction{Command: directive.ShellCommand{Command: "ls"}}),
		NewQueuedAction(ShellCommandAction{Command: directive.ShellCommand{Command: "pwd"}}),
	}

	_, err = runner.Run(context.Background(), items)
	require.NoError(t, err)

	// Two updates per item: current set, then counters advanced.
	require.Len(t, updates, 4)
	assert.Equal(t, Progress{Total: 2, Current: "ls"}, updates[0])
	assert.Equal(t, Progress{Total: 2, Completed: 1}, updates[1])
	assert.Equal(t, Progress{Total: 2, Completed: 1, Current: "pwd"}, updates[2])
	assert.Equal(t, Progress{Total: 2, Completed: 2}, updates[3])
}

func TestRunner_SkipsNonPendingItems(t *testing.T) {
	execs := newFakeExecutors()
	runner, err := NewRunner(execs.set(), nil, nil)
	require.NoError(t, err)

	done := NewQueuedAction(ShellCommandAction{Command: directive.ShellCommand{Command: "ls"}})
	done.Status = StatusCompleted
	fresh := NewQueuedAction(ShellCommandAction{Command: directive.ShellCommand{Command: "pwd"}})

	summary, err := runner.Run(context.Background(), []*QueuedAction{done, fresh})
	require.NoError(t, err)

	assert.Equal(t, []string{"shell_command:pwd"}, execs.callList())
	assert.Equal(t, 1, summary.Completed)
}

func TestRunner_CancelledContextLeavesRemainderPending(t *testing.T) {
	execs := newFakeExecutors()
	runner, err := NewRunner(execs.set(), nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	items := []*QueuedAction{
		NewQueuedAction(ShellCommandAction{Command: directive.ShellCommand{Command: "first"}}),
		NewQueuedAction(ShellCommandAction{Command: directive.ShellCommand{Command: "second"}}),
	}
	cancel() // cancelled before the inter-item delay fires

	_, runErr := runner.Run(ctx, items)
	require.ErrorIs(t, runErr, context.Canceled)

	// The in-flight item finished; the rest stay pending for a later run.
	assert.Equal(t, StatusCompleted, items[0].Status)
	assert.Equal(t, StatusPending, items[1].Status)
}

// Statuses observed through the queue from the onProgress callback (same
// goroutine as the run) are always coherent: the current item in_progress or
// terminal, later items still pending.
func TestRunner_QueueReadsDuringRunAreCoherent(t *testing.T) {
	execs := newFakeExecutors()
	queue := NewQueue()
	queue.Enqueue(FileEditAction{Edit: directive.FileEdit{File: "a.go"}})
	queue.Enqueue(FileEditAction{Edit: directive.FileEdit{File: "b.go"}})
	items := queue.Pending()

	var snapshots [][]Status
	runner, err := NewRunner(execs.set(), nil, func(p Progress) {
		var statuses []Status
		for _, item := range queue.Items() {
			statuses = append(statuses, item.Status)
		}
		snapshots = append(snapshots, statuses)
	})
	require.NoError(t, err)

	_, err = runner.Run(context.Background(), items)
	require.NoError(t, err)

	// Two progress reports per item: one entering, one leaving.
	require.Len(t, snapshots, 4)
	assert.Equal(t, []Status{StatusInProgress, StatusPending}, snapshots[0])
	assert.Equal(t, []Status{StatusCompleted, StatusPending}, snapshots[1])
	assert.Equal(t, []Status{StatusCompleted, StatusInProgress}, snapshots[2])
	assert.Equal(t, []Status{StatusCompleted, StatusCompleted}, snapshots[3])
	assert.Empty(t, queue.Pending())
}

func TestQueue_ClearCompleted(t *testing.T) {
	queue := NewQueue()
	a := queue.Enqueue(ShellCommandAction{Command: directive.ShellCommand{Command: "ls"}})
	b := queue.Enqueue(ShellCommandAction{Command: directive.ShellCommand{Command: "pwd"}})
	c := queue.Enqueue(ShellCommandAction{Command: directive.ShellCommand{Command: "whoami"}})
	a.Status = StatusCompleted
	b.Status = StatusFailed

	removed := queue.ClearCompleted()

	assert.Equal(t, 1, removed)
	items := queue.Items()
	require.Len(t, items, 2)
	assert.Equal(t, b.ID, items[0].ID)
	assert.Equal(t, c.ID, items[1].ID)
}

func TestQueue_ClearAll(t *testing.T) {
	queue := NewQueue()
	queue.Enqueue(ShellCommandAction{Command: directive.ShellCommand{Command: "ls"}})
	queue.Enqueue(ShellCommandAction{Command: directive.ShellCommand{Command: "pwd"}})

	assert.Equal(t, 2, queue.ClearAll())
	assert.Zero(t, queue.Len())
	assert.Zero(t, queue.ClearAll())
}

func TestQueue_Pending(t *testing.T) {
	queue := NewQueue()
	a := queue.Enqueue(ShellCommandAction{Command: directive.ShellCommand{Command: "ls"}})
	b := queue.Enqueue(ShellCommandAction{Command: directive.ShellCommand{Command: "pwd"}})
	a.Status = StatusCompleted

	pending := queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, b.ID, pending[0].ID)
}
