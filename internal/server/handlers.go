package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"codechat/internal/chat"
	"codechat/internal/directive"
	"codechat/internal/logging"
	"codechat/internal/rag"
)

// chatRequest is the POST /api/chat body.
type chatRequest struct {
	Message      string               `json:"message"`
	Files        []chat.MentionedFile `json:"files,omitempty"`
	SystemPrompt string               `json:"systemPrompt,omitempty"`
	AgentName    string               `json:"agentName,omitempty"`
}

// handleChat streams the model reply as data: <json> events: content deltas,
// one metadata patch carrying server-side knowledge (retrieved sources), and
// a terminal {done:true}.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	systemPrompt := s.systemPrompt
	if req.SystemPrompt != "" {
		systemPrompt = req.SystemPrompt
	}

	userPrompt, sources := s.buildUserPrompt(r, req)
	logging.Server("Chat: streaming reply message_len=%d files=%d sources=%d",
		len(req.Message), len(req.Files), len(sources))

	contentChan, errorChan := s.llm.StreamChat(r.Context(), systemPrompt, userPrompt)
	for delta := range contentChan {
		writeEvent(w, flusher, map[string]string{"content": delta})
	}
	if err := <-errorChan; err != nil {
		logging.Get(logging.CategoryServer).Error("Chat: upstream error: %v", err)
		writeEvent(w, flusher, map[string]string{"error": err.Error()})
		return
	}

	if len(sources) > 0 {
		writeEvent(w, flusher, map[string]interface{}{
			"metadata": map[string]interface{}{"ragSources": sources},
		})
	}
	writeEvent(w, flusher, map[string]bool{"done": true})
}

// buildUserPrompt assembles the upstream prompt: retrieved workspace context
// first, then mentioned files, then the user message.
func (s *Server) buildUserPrompt(r *http.Request, req chatRequest) (string, []directive.RAGSourceRef) {
	var sb strings.Builder
	var sources []directive.RAGSourceRef

	if s.retriever != nil && s.retriever.Len() > 0 {
		results, err := s.retriever.Retrieve(r.Context(), req.Message)
		if err != nil {
			// Retrieval is best-effort; the chat proceeds without context.
			logging.Get(logging.CategoryServer).Warn("Chat: retrieval failed: %v", err)
		} else if len(results) > 0 {
			sb.WriteString(rag.BuildContext(results))
			sb.WriteString("\n")
			sources = rag.Sources(results)
		}
	}

	for _, f := range req.Files {
		fmt.Fprintf(&sb, "File %s:\n```%s\n%s\n```\n\n", f.Name, f.Language, f.Content)
	}
	sb.WriteString(req.Message)
	return sb.String(), sources
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logging.Get(logging.CategoryServer).Error("Chat: failed to marshal event: %v", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}

type createSessionRequest struct {
	Title string `json:"title"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	session := chat.NewSession(req.Title)
	if err := s.store.CreateSession(session); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.GetSession(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	messages, err := s.store.ListMessages(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := s.store.GetMessage(r.PathValue("id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Get(logging.CategoryServer).Error("Failed to encode response: %v", err)
	}
}
