package executor

import (
	"fmt"
	"io"
	"sync"

	"codechat/internal/action"
	"codechat/internal/logging"
)

// WriterNotifier is the user-visible notification channel: one line per
// notification to the given writer (stdout in the CLI), mirrored to the
// action log.
type WriterNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewWriterNotifier returns a notifier writing to out.
func NewWriterNotifier(out io.Writer) *WriterNotifier {
	return &WriterNotifier{out: out}
}

// Notify prints one notification line.
func (n *WriterNotifier) Notify(level action.NotifyLevel, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	logging.Action("notify [%s] %s", level, message)
	if n.out != nil {
		fmt.Fprintf(n.out, "[%s] %s\n", level, message)
	}
}
