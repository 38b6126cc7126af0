// Package server exposes the chat API: a streaming POST /api/chat endpoint
// speaking the data: <json> wire, plus session and message lookups backed by
// the chat store.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"codechat/internal/chat"
	"codechat/internal/logging"
	"codechat/internal/provider"
	"codechat/internal/rag"
)

const defaultSystemPrompt = `You are a coding assistant working inside the user's workspace.
When you propose actions, express them with the workspace directive tags
(proposed_file_replace_substring, proposed_file_replace, proposed_file_insert,
proposed_shell_command, proposed_package_install, proposed_workflow_configuration,
proposed_deployment_configuration, proposed_workspace_tool_nudge, proposed_actions)
so the client can apply them.`

// Config wires a Server's collaborators.
type Config struct {
	Addr         string
	Store        *chat.Store
	LLM          provider.Client
	Retriever    *rag.Retriever // optional
	SystemPrompt string
}

// Server serves the chat API on one listener.
type Server struct {
	addr         string
	store        *chat.Store
	llm          provider.Client
	retriever    *rag.Retriever
	systemPrompt string
	httpServer   *http.Server
}

// New validates collaborators and builds the server with its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("server requires a store")
	}
	if cfg.LLM == nil {
		return nil, fmt.Errorf("server requires an LLM client")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8400"
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}

	s := &Server{
		addr:         cfg.Addr,
		store:        cfg.Store,
		llm:          cfg.LLM,
		retriever:    cfg.Retriever,
		systemPrompt: cfg.SystemPrompt,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.handleListMessages)
	mux.HandleFunc("GET /api/messages/{id}", s.handleGetMessage)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the route table for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	logging.Server("Server: listening on %s model=%s", listener.Addr(), s.llm.Model())

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("serve failed: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
