package action

import (
	"context"
	"fmt"
	"sync"
	"time"

	"codechat/internal/logging"
)

// interItemDelay spaces out executor calls so a long batch does not hammer
// the downstream endpoints. Deliberate rate limit, not an artifact.
const interItemDelay = 150 * time.Millisecond

// Progress is the aggregate state of a running batch, updated after every item.
type Progress struct {
	Total     int    `json:"total"`
	Completed int    `json:"completed"`
	Failed    int    `json:"failed"`
	Current   string `json:"current,omitempty"`
}

// Summary is emitted once at the end of a batch run.
type Summary struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Runner executes an ordered list of heterogeneous queued actions one at a
// time. Actions may depend on earlier ones (a package install before the file
// that imports it), so there is no concurrency within a batch.
type Runner struct {
	execs      ExecutorSet
	notifier   Notifier
	onProgress func(Progress)

	mu      sync.Mutex
	running bool
}

// NewRunner wires a batch runner. onProgress may be nil.
func NewRunner(execs ExecutorSet, notifier Notifier, onProgress func(Progress)) (*Runner, error) {
	if err := execs.Validate(); err != nil {
		return nil, err
	}
	return &Runner{execs: execs, notifier: notifier, onProgress: onProgress}, nil
}

// Run executes the given items sequentially. Every item reaches a terminal
// status: a failure is captured on the item and never halts the remainder.
// One summary notification is emitted for the whole batch rather than one per
// item. Only one batch may run at a time per runner.
//
// Run owns the items' Status and Error fields for the duration of the batch:
// hand it a snapshot (Queue.Pending) and read statuses from the same
// goroutine, via the onProgress callback, or after Run returns. The queue's
// mutex guards list membership, not item fields.
func (r *Runner) Run(ctx context.Context, items []*QueuedAction) (Summary, error) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return Summary{}, fmt.Errorf("batch already running")
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	summary := Summary{Total: len(items)}
	progress := Progress{Total: len(items)}
	logging.Action("Runner: starting batch of %d actions", len(items))

	for i, item := range items {
		if item.Status != StatusPending {
			continue
		}

		item.Status = StatusInProgress
		progress.Current = item.Action.Label()
		r.reportProgress(progress)

		logging.ActionDebug("Runner: [%d/%d] %s %q", i+1, len(items), item.Action.Kind(), item.Action.Label())
		if err := item.Action.execute(ctx, r.execs); err != nil {
			item.Status = StatusFailed
			item.Error = errorMessage(err)
			summary.Failed++
			progress.Failed++
			logging.ActionError("Runner: %s %q failed: %v", item.Action.Kind(), item.Action.Label(), err)
		} else {
			item.Status = StatusCompleted
			summary.Completed++
			progress.Completed++
		}
		progress.Current = ""
		r.reportProgress(progress)

		if i < len(items)-1 {
			select {
			case <-time.After(interItemDelay):
			case <-ctx.Done():
				// Remaining items stay pending; the caller decides whether to
				// resume or clear them.
				logging.Action("Runner: batch interrupted after %d/%d items", i+1, len(items))
				r.notifySummary(summary)
				return summary, ctx.Err()
			}
		}
	}

	logging.Action("Runner: batch finished completed=%d failed=%d", summary.Completed, summary.Failed)
	r.notifySummary(summary)
	return summary, nil
}

func (r *Runner) reportProgress(p Progress) {
	if r.onProgress != nil {
		r.onProgress(p)
	}
}

func (r *Runner) notifySummary(s Summary) {
	if r.notifier == nil {
		return
	}
	if s.Failed == 0 {
		r.notifier.Notify(NotifySuccess, fmt.Sprintf("Batch complete: %d/%d actions applied", s.Completed, s.Total))
		return
	}
	r.notifier.Notify(NotifyError, fmt.Sprintf("Batch complete: %d applied, %d failed", s.Completed, s.Failed))
}
