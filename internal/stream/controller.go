// Package stream owns the lifecycle of one streaming chat turn: open the
// upstream request, decode the SSE wire, apply content deltas in order,
// surface newly detected directives, and finalize the assistant message
// exactly once when the stream reaches a terminal state.
package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"

	"codechat/internal/chat"
	"codechat/internal/directive"
	"codechat/internal/logging"
)

// State is the controller's turn state. Paused is a sub-state of streaming,
// exposed separately via Paused().
type State string

const (
	StateIdle      State = "idle"
	StateStreaming State = "streaming"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateErrored   State = "errored"
)

// cancelledMarker is appended to partial content when a turn is cancelled.
const cancelledMarker = "[Response cancelled]"

// Dispatcher receives newly detected directives as the buffer grows.
// Implemented by the action classifier.
type Dispatcher interface {
	Dispatch(ctx context.Context, fresh directive.ParsedDirectives)
}

// Config wires a Controller's collaborators.
type Config struct {
	Store      *chat.Store
	Transport  Transport
	Dispatcher Dispatcher
	// OnDelta, if set, is invoked with each applied content delta. Used by
	// callers that mirror the stream (terminal output, downstream SSE).
	OnDelta func(messageID, delta string)
}

// Controller runs one chat turn at a time. Pause, Resume and Cancel may be
// called from other goroutines while Send is in flight.
type Controller struct {
	store      *chat.Store
	transport  Transport
	dispatcher Dispatcher
	onDelta    func(messageID, delta string)

	mu        sync.Mutex
	cond      *sync.Cond
	state     State
	paused    bool
	cancelled bool
	cancel    context.CancelFunc
}

// NewController validates collaborators and returns an idle controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("stream controller requires a store")
	}
	if cfg.Transport == nil {
		return nil, fmt.Errorf("stream controller requires a transport")
	}
	c := &Controller{
		store:      cfg.Store,
		transport:  cfg.Transport,
		dispatcher: cfg.Dispatcher,
		onDelta:    cfg.OnDelta,
		state:      StateIdle,
	}
	c.cond = sync.NewCond(&c.mu)
	return c, nil
}

// State returns the current turn state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Paused reports whether delta application is currently held.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Pause holds content deltas before they are applied. Bytes keep arriving
// and are buffered by the transport; nothing is dropped.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateStreaming {
		c.paused = true
		logging.Stream("Controller: paused")
	}
}

// Resume releases held deltas.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		logging.Stream("Controller: resumed")
	}
	c.cond.Broadcast()
}

// Cancel aborts the in-flight turn. Already-streamed content is preserved
// and already-dispatched actions are not rolled back.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateStreaming {
		return
	}
	c.cancelled = true
	if c.cancel != nil {
		c.cancel()
	}
	c.cond.Broadcast()
	logging.Stream("Controller: cancel requested")
}

// Send runs one complete chat turn: persist the user message, append a
// placeholder assistant message, stream the response into it, and finalize.
// It returns the assistant message in its terminal form. Only one turn may
// be active at a time.
func (c *Controller) Send(ctx context.Context, req Request) (*chat.Message, error) {
	c.mu.Lock()
	if c.state == StateStreaming {
		c.mu.Unlock()
		return nil, fmt.Errorf("a stream is already active")
	}
	c.state = StateStreaming
	c.paused = false
	c.cancelled = false
	streamCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	sessionID := req.SessionID
	if sessionID == "" {
		session := chat.NewSession(sessionTitle(req.Message))
		if err := c.store.CreateSession(session); err != nil {
			c.setState(StateErrored)
			return nil, fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = session.ID
	}

	// The user message is persisted before any network activity so the
	// conversation log reflects intent even if the request fails.
	userMsg := chat.NewMessage(sessionID, chat.RoleUser, req.Message)
	for _, f := range req.Files {
		userMsg.MentionedFiles = append(userMsg.MentionedFiles, f.Name)
	}
	if err := c.store.AppendMessage(userMsg); err != nil {
		c.setState(StateErrored)
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	assistant := chat.NewMessage(sessionID, chat.RoleAssistant, "")
	if err := c.store.AppendMessage(assistant); err != nil {
		c.setState(StateErrored)
		return nil, fmt.Errorf("failed to persist assistant placeholder: %w", err)
	}

	logging.Stream("Controller: turn started session=%s assistant=%s", sessionID, assistant.ID)

	body, err := c.transport.Open(streamCtx, req)
	if err != nil {
		if c.isCancelled() {
			return c.finalizeCancelled(assistant, "")
		}
		c.finalizeError(assistant, fmt.Sprintf("Error: %s", err))
		return assistant, fmt.Errorf("failed to open stream: %w", err)
	}
	defer body.Close()

	return c.consume(streamCtx, assistant, body)
}

// consume reads the SSE wire to a terminal state.
func (c *Controller) consume(ctx context.Context, assistant *chat.Message, body io.Reader) (*chat.Message, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	tracker := directive.NewTracker()
	var buffer strings.Builder
	var metadataPatch map[string]json.RawMessage
	sawDone := false

scan:
	for scanner.Scan() {
		evt, ok, err := decodeEventLine(scanner.Text())
		if err != nil {
			// One bad line must not kill an otherwise-healthy stream.
			logging.StreamDebug("Controller: skipping malformed event: %v", err)
			continue
		}
		if !ok {
			continue
		}

		if evt.Error != "" {
			c.finalizeError(assistant, "Error: "+evt.Error)
			return assistant, fmt.Errorf("stream error: %s", evt.Error)
		}

		if evt.Content != "" {
			if !c.waitWhilePaused() {
				break scan
			}
			buffer.WriteString(evt.Content)
			if err := c.store.UpdateMessageContent(assistant.ID, buffer.String()); err != nil {
				logging.StreamWarn("Controller: failed to persist delta: %v", err)
			}
			if c.onDelta != nil {
				c.onDelta(assistant.ID, evt.Content)
			}
			c.dispatchNew(ctx, tracker, buffer.String())
		}

		if len(evt.CodeChanges) > 0 && c.dispatcher != nil {
			c.dispatcher.Dispatch(ctx, directive.ParsedDirectives{FileEdits: withLineCounts(evt.CodeChanges)})
		}

		if len(evt.Metadata) > 0 {
			if metadataPatch == nil {
				metadataPatch = make(map[string]json.RawMessage)
			}
			for key, value := range evt.Metadata {
				metadataPatch[key] = value
			}
		}

		if evt.Done {
			sawDone = true
			break
		}
	}

	if c.isCancelled() {
		return c.finalizeCancelled(assistant, buffer.String())
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return c.finalizeCancelled(assistant, buffer.String())
		}
		c.finalizeError(assistant, fmt.Sprintf("Error: stream interrupted: %s", err))
		return assistant, fmt.Errorf("stream interrupted: %w", err)
	}
	if !sawDone {
		c.finalizeError(assistant, "Error: stream ended without completion")
		return assistant, fmt.Errorf("stream ended without done event")
	}

	return c.finalizeCompleted(assistant, buffer.String(), metadataPatch)
}

// withLineCounts recomputes added/removed for edits that carry their old and
// new content. codeChanges payloads arrive with the content but zeroed counts.
func withLineCounts(edits []directive.FileEdit) []directive.FileEdit {
	out := make([]directive.FileEdit, len(edits))
	for i, edit := range edits {
		if edit.OldContent != "" || edit.NewContent != "" {
			edit = edit.WithLineCounts(edit.OldContent, edit.NewContent)
		}
		out[i] = edit
	}
	return out
}

// dispatchNew re-parses the grown buffer and forwards only newly appeared
// directives.
func (c *Controller) dispatchNew(ctx context.Context, tracker *directive.Tracker, buffer string) {
	if c.dispatcher == nil {
		return
	}
	fresh := tracker.Diff(directive.Parse(buffer))
	if fresh.IsEmpty() {
		return
	}
	logging.StreamDebug("Controller: dispatching %d new directives", fresh.Count())
	c.dispatcher.Dispatch(ctx, fresh)
}

// finalizeCompleted parses the full buffer one final time and attaches the
// resulting directive set to the assistant message, exactly once.
func (c *Controller) finalizeCompleted(assistant *chat.Message, content string, patch map[string]json.RawMessage) (*chat.Message, error) {
	final := overlayMetadata(directive.Parse(content), patch)
	if err := c.store.AttachMetadata(assistant.ID, &final); err != nil {
		logging.StreamWarn("Controller: metadata attach skipped: %v", err)
	} else {
		assistant.Metadata = &final
	}
	assistant.Content = content
	c.setState(StateCompleted)
	logging.Stream("Controller: turn completed assistant=%s content_len=%d directives=%d",
		assistant.ID, len(content), final.Count())
	return assistant, nil
}

// finalizeCancelled preserves partial content and appends the cancellation
// marker. Cancellation is a user action, not a failure.
func (c *Controller) finalizeCancelled(assistant *chat.Message, content string) (*chat.Message, error) {
	final := content
	if final != "" {
		final += "\n\n"
	}
	final += cancelledMarker
	if err := c.store.UpdateMessageContent(assistant.ID, final); err != nil {
		logging.StreamWarn("Controller: failed to persist cancelled content: %v", err)
	}
	assistant.Content = final
	c.setState(StateCancelled)
	logging.Stream("Controller: turn cancelled assistant=%s kept=%d bytes", assistant.ID, len(content))
	return assistant, nil
}

// finalizeError replaces the assistant content with a user-visible error
// string. The failure is not retried.
func (c *Controller) finalizeError(assistant *chat.Message, message string) {
	if err := c.store.UpdateMessageContent(assistant.ID, message); err != nil {
		logging.StreamError("Controller: failed to persist error content: %v", err)
	}
	assistant.Content = message
	c.setState(StateErrored)
	logging.StreamError("Controller: turn errored assistant=%s: %s", assistant.ID, message)
}

// waitWhilePaused blocks until the controller is resumed or cancelled.
// Returns false when the wait ended because of cancellation.
func (c *Controller) waitWhilePaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.paused && !c.cancelled {
		c.cond.Wait()
	}
	return !c.cancelled
}

func (c *Controller) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.paused = false
	c.cond.Broadcast()
}

// sessionTitle derives a session title from the first line of the opening
// message, truncated to a display-friendly length.
func sessionTitle(message string) string {
	title := strings.TrimSpace(message)
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = strings.TrimSpace(title[:idx])
	}
	if title == "" {
		return "New chat"
	}
	const maxLen = 60
	if utf8.RuneCountInString(title) > maxLen {
		runes := []rune(title)
		title = string(runes[:maxLen]) + "..."
	}
	return title
}
