package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"codechat/internal/chat"
	"codechat/internal/directive"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestStore(t *testing.T) *chat.Store {
	t.Helper()
	store, err := chat.NewStore(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// scriptedTransport returns a fixed sequence of wire lines.
type scriptedTransport struct {
	lines []string
}

func (s *scriptedTransport) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(strings.Join(s.lines, "\n") + "\n")), nil
}

// pipeTransport lets a test drive the stream line by line.
type pipeTransport struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func newPipeTransport() *pipeTransport {
	r, w := io.Pipe()
	return &pipeTransport{r: r, w: w}
}

func (p *pipeTransport) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	go func() {
		<-ctx.Done()
		p.r.CloseWithError(ctx.Err())
	}()
	return p.r, nil
}

func (p *pipeTransport) send(t *testing.T, line string) {
	t.Helper()
	_, err := p.w.Write([]byte(line + "\n"))
	require.NoError(t, err)
}

type recordingDispatcher struct {
	mu      sync.Mutex
	batches []directive.ParsedDirectives
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, fresh directive.ParsedDirectives) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, fresh)
}

func (d *recordingDispatcher) all() []directive.ParsedDirectives {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]directive.ParsedDirectives(nil), d.batches...)
}

func contentEvent(s string) string {
	b, _ := json.Marshal(map[string]string{"content": s})
	return "data: " + string(b)
}

func TestController_CompletedTurn(t *testing.T) {
	store := newTestStore(t)
	transport := &scriptedTransport{lines: []string{
		contentEvent("Hello "),
		`: keep-alive`,
		contentEvent("world"),
		`data: {"done":true}`,
	}}
	ctrl, err := NewController(Config{Store: store, Transport: transport})
	require.NoError(t, err)

	msg, err := ctrl.Send(context.Background(), Request{Message: "hi there"})
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, ctrl.State())
	assert.Equal(t, "Hello world", msg.Content)
	require.NotNil(t, msg.Metadata)

	// Both the user message and the finalized assistant message are persisted.
	messages, err := store.ListMessages(msg.SessionID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, chat.RoleUser, messages[0].Role)
	assert.Equal(t, "hi there", messages[0].Content)
	assert.Equal(t, chat.RoleAssistant, messages[1].Role)
	assert.Equal(t, "Hello world", messages[1].Content)
	require.NotNil(t, messages[1].Metadata)
}

func TestController_MalformedLinesSkipped(t *testing.T) {
	store := newTestStore(t)
	transport := &scriptedTransport{lines: []string{
		contentEvent("a"),
		`data: {broken json`,
		contentEvent("b"),
		`data: {"done":true}`,
	}}
	ctrl, err := NewController(Config{Store: store, Transport: transport})
	require.NoError(t, err)

	msg, err := ctrl.Send(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ab", msg.Content)
}

func TestController_ErrorEventReplacesContent(t *testing.T) {
	store := newTestStore(t)
	transport := &scriptedTransport{lines: []string{
		contentEvent("partial"),
		`data: {"error":"model overloaded"}`,
	}}
	ctrl, err := NewController(Config{Store: store, Transport: transport})
	require.NoError(t, err)

	msg, err := ctrl.Send(context.Background(), Request{Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, StateErrored, ctrl.State())
	assert.Equal(t, "Error: model overloaded", msg.Content)

	stored, err := store.GetMessage(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "Error: model overloaded", stored.Content)
	assert.Nil(t, stored.Metadata)
}

func TestController_MissingDoneIsAnError(t *testing.T) {
	store := newTestStore(t)
	transport := &scriptedTransport{lines: []string{contentEvent("hello")}}
	ctrl, err := NewController(Config{Store: store, Transport: transport})
	require.NoError(t, err)

	msg, err := ctrl.Send(context.Background(), Request{Message: "hi"})
	require.Error(t, err)
	assert.Equal(t, StateErrored, ctrl.State())
	assert.Contains(t, msg.Content, "without completion")
}

func TestController_UserMessagePersistedBeforeTransportFailure(t *testing.T) {
	store := newTestStore(t)
	transport := failingTransport{}
	ctrl, err := NewController(Config{Store: store, Transport: transport})
	require.NoError(t, err)

	msg, err := ctrl.Send(context.Background(), Request{Message: "record me"})
	require.Error(t, err)
	assert.Equal(t, StateErrored, ctrl.State())

	messages, err := store.ListMessages(msg.SessionID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "record me", messages[0].Content)
	assert.Contains(t, messages[1].Content, "Error:")
}

type failingTransport struct{}

func (failingTransport) Open(ctx context.Context, req Request) (io.ReadCloser, error) {
	return nil, fmt.Errorf("connection refused")
}

func TestController_DispatchesNewDirectivesOnce(t *testing.T) {
	store := newTestStore(t)
	dispatcher := &recordingDispatcher{}
	// The install tag is split across deltas; it must only be dispatched once
	// it is complete, and exactly once despite later re-parses.
	transport := &scriptedTransport{lines: []string{
		contentEvent(`Installing: <proposed_package_install language="python" `),
		contentEvent(`package_list="flask,requests"/>`),
		contentEvent(" done."),
		`data: {"done":true}`,
	}}
	ctrl, err := NewController(Config{Store: store, Transport: transport, Dispatcher: dispatcher})
	require.NoError(t, err)

	msg, err := ctrl.Send(context.Background(), Request{Message: "add deps"})
	require.NoError(t, err)

	var installs []directive.PackageInstall
	for _, batch := range dispatcher.all() {
		installs = append(installs, batch.PackageInstalls...)
	}
	require.Len(t, installs, 1)
	assert.Equal(t, "python", installs[0].Language)
	assert.Equal(t, []string{"flask", "requests"}, installs[0].Packages)

	// Final metadata carries the full parsed set.
	require.NotNil(t, msg.Metadata)
	require.Len(t, msg.Metadata.PackageInstalls, 1)
}

func TestController_CodeChangesForwarded(t *testing.T) {
	store := newTestStore(t)
	dispatcher := &recordingDispatcher{}
	transport := &scriptedTransport{lines: []string{
		`data: {"codeChanges":[{"file":"main.go","added":3,"removed":1}]}`,
		`data: {"done":true}`,
	}}
	ctrl, err := NewController(Config{Store: store, Transport: transport, Dispatcher: dispatcher})
	require.NoError(t, err)

	_, err = ctrl.Send(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)

	batches := dispatcher.all()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].FileEdits, 1)
	assert.Equal(t, "main.go", batches[0].FileEdits[0].File)
}

func TestController_CodeChangesCarryLineCounts(t *testing.T) {
	store := newTestStore(t)
	dispatcher := &recordingDispatcher{}
	payload, err := json.Marshal(map[string]interface{}{
		"codeChanges": []directive.FileEdit{{
			File:       "main.go",
			OldContent: "line1\nline2\n",
			NewContent: "line1\nline2 changed\nline3\n",
		}},
	})
	require.NoError(t, err)
	transport := &scriptedTransport{lines: []string{
		"data: " + string(payload),
		`data: {"done":true}`,
	}}
	ctrl, err := NewController(Config{Store: store, Transport: transport, Dispatcher: dispatcher})
	require.NoError(t, err)

	_, err = ctrl.Send(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)

	batches := dispatcher.all()
	require.Len(t, batches, 1)
	require.Len(t, batches[0].FileEdits, 1)
	edit := batches[0].FileEdits[0]
	assert.Equal(t, "main.go", edit.File)
	assert.Equal(t, 2, edit.Added)
	assert.Equal(t, 1, edit.Removed)
	assert.Equal(t, "line1\nline2\n", edit.OldContent)
}

func TestController_MetadataPatchOverlaysParsed(t *testing.T) {
	store := newTestStore(t)
	transport := &scriptedTransport{lines: []string{
		contentEvent(`<proposed_package_install language="go" package_list="cobra"/>`),
		`data: {"metadata":{"actionSummary":"install cobra"}}`,
		`data: {"done":true}`,
	}}
	ctrl, err := NewController(Config{Store: store, Transport: transport})
	require.NoError(t, err)

	msg, err := ctrl.Send(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	require.NotNil(t, msg.Metadata)
	assert.Equal(t, "install cobra", msg.Metadata.ActionSummary)
	require.Len(t, msg.Metadata.PackageInstalls, 1)
}

func TestController_PauseDelaysButNeverDrops(t *testing.T) {
	store := newTestStore(t)
	transport := newPipeTransport()

	var mu sync.Mutex
	var msgID string
	applied := make(chan string, 10)
	ctrl, err := NewController(Config{
		Store:     store,
		Transport: transport,
		OnDelta: func(id, delta string) {
			mu.Lock()
			msgID = id
			mu.Unlock()
			applied <- delta
		},
	})
	require.NoError(t, err)

	result := make(chan *chat.Message, 1)
	go func() {
		msg, sendErr := ctrl.Send(context.Background(), Request{Message: "hi"})
		assert.NoError(t, sendErr)
		result <- msg
	}()

	transport.send(t, contentEvent("Hello "))
	require.Equal(t, "Hello ", <-applied)

	ctrl.Pause()
	assert.True(t, ctrl.Paused())
	transport.send(t, contentEvent("world"))

	// While paused the delta is held, not applied and not dropped.
	select {
	case delta := <-applied:
		t.Fatalf("delta %q applied while paused", delta)
	case <-time.After(200 * time.Millisecond):
	}
	mu.Lock()
	id := msgID
	mu.Unlock()
	stored, err := store.GetMessage(id)
	require.NoError(t, err)
	assert.Equal(t, "Hello ", stored.Content)

	ctrl.Resume()
	require.Equal(t, "world", <-applied)
	transport.send(t, `data: {"done":true}`)

	msg := <-result
	assert.Equal(t, StateCompleted, ctrl.State())
	assert.Equal(t, "Hello world", msg.Content)
}

func TestController_CancelPreservesPartialContent(t *testing.T) {
	store := newTestStore(t)
	transport := newPipeTransport()
	applied := make(chan string, 10)
	ctrl, err := NewController(Config{
		Store:     store,
		Transport: transport,
		OnDelta:   func(id, delta string) { applied <- delta },
	})
	require.NoError(t, err)

	result := make(chan *chat.Message, 1)
	go func() {
		msg, sendErr := ctrl.Send(context.Background(), Request{Message: "hi"})
		assert.NoError(t, sendErr)
		result <- msg
	}()

	transport.send(t, contentEvent("Hello"))
	require.Equal(t, "Hello", <-applied)

	ctrl.Cancel()

	msg := <-result
	assert.Equal(t, StateCancelled, ctrl.State())
	assert.Equal(t, "Hello\n\n"+cancelledMarker, msg.Content)

	stored, err := store.GetMessage(msg.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Content, stored.Content)
	assert.Nil(t, stored.Metadata)
}

func TestController_CancelWhilePaused(t *testing.T) {
	store := newTestStore(t)
	transport := newPipeTransport()
	applied := make(chan string, 10)
	ctrl, err := NewController(Config{
		Store:     store,
		Transport: transport,
		OnDelta:   func(id, delta string) { applied <- delta },
	})
	require.NoError(t, err)

	result := make(chan *chat.Message, 1)
	go func() {
		msg, sendErr := ctrl.Send(context.Background(), Request{Message: "hi"})
		assert.NoError(t, sendErr)
		result <- msg
	}()

	transport.send(t, contentEvent("kept"))
	require.Equal(t, "kept", <-applied)

	ctrl.Pause()
	transport.send(t, contentEvent("held"))
	time.Sleep(50 * time.Millisecond)
	ctrl.Cancel()

	msg := <-result
	assert.Equal(t, StateCancelled, ctrl.State())
	assert.Contains(t, msg.Content, "kept")
	assert.Contains(t, msg.Content, cancelledMarker)
}

func TestController_RejectsConcurrentTurns(t *testing.T) {
	store := newTestStore(t)
	transport := newPipeTransport()
	applied := make(chan string, 10)
	ctrl, err := NewController(Config{
		Store:     store,
		Transport: transport,
		OnDelta:   func(id, delta string) { applied <- delta },
	})
	require.NoError(t, err)

	result := make(chan *chat.Message, 1)
	go func() {
		msg, _ := ctrl.Send(context.Background(), Request{Message: "first"})
		result <- msg
	}()
	transport.send(t, contentEvent("x"))
	require.Equal(t, "x", <-applied)

	_, err = ctrl.Send(context.Background(), Request{Message: "second"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already active")

	transport.send(t, `data: {"done":true}`)
	<-result
}

func TestHTTPTransport_RoundTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hi", req.Message)
		require.Len(t, req.Files, 1)
		assert.Equal(t, "main.go", req.Files[0].Name)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, contentEvent("ok")+"\n")
		fmt.Fprint(w, `data: {"done":true}`+"\n")
	}))
	defer server.Close()

	store := newTestStore(t)
	ctrl, err := NewController(Config{
		Store:     store,
		Transport: NewHTTPTransport(server.URL, 5*time.Second),
	})
	require.NoError(t, err)

	msg, err := ctrl.Send(context.Background(), Request{
		Message: "hi",
		Files:   []chat.MentionedFile{{Name: "main.go", Content: "package main", Language: "go"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content)
}

func TestHTTPTransport_Non200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	transport := NewHTTPTransport(server.URL, 5*time.Second)
	_, err := transport.Open(context.Background(), Request{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}
