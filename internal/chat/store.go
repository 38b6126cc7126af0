package chat

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codechat/internal/action"
	"codechat/internal/directive"
	"codechat/internal/logging"

	_ "modernc.org/sqlite"
)

// Store persists sessions, messages and settings in SQLite.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewStore initializes the SQLite database at the given path.
func NewStore(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}

	store := &Store{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Store opened at %s", path)
	return store, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		mentioned_files TEXT,
		metadata TEXT,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateSession persists a new session.
func (s *Store) CreateSession(session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		session.ID, session.Title, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	logging.StoreDebug("Created session %s (%q)", session.ID, session.Title)
	return nil
}

// GetSession loads one session by id.
func (s *Store) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var session Session
	err := s.db.QueryRow(
		`SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?`, id).
		Scan(&session.ID, &session.Title, &session.CreatedAt, &session.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions() ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, title, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var session Session
		if err := rows.Scan(&session.ID, &session.Title, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

// AppendMessage persists a message and bumps its session's updated_at.
func (s *Store) AppendMessage(msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := encodeJSON(msg.MentionedFiles)
	if err != nil {
		return fmt.Errorf("encode mentioned files: %w", err)
	}
	metadata, err := encodeJSON(msg.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO messages (id, session_id, role, content, mentioned_files, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.SessionID, msg.Role, msg.Content, files, metadata, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}

	if _, err := s.db.Exec(
		`UPDATE sessions SET updated_at = ? WHERE id = ?`,
		time.Now().UTC(), msg.SessionID); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}

	logging.StoreDebug("Appended %s message %s to session %s", msg.Role, msg.ID, msg.SessionID)
	return nil
}

// UpdateMessageContent replaces a message's content (used while an assistant
// message streams, and for the terminal cancelled/error markers).
func (s *Store) UpdateMessageContent(id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`UPDATE messages SET content = ? WHERE id = ?`, content, id)
	if err != nil {
		return fmt.Errorf("update message content: %w", err)
	}
	return requireOneRow(res, id)
}

// AttachMetadata writes a message's parsed directive metadata. It may succeed
// at most once per message: the final snapshot is the record of truth and is
// never overwritten by later writes.
func (s *Store) AttachMetadata(id string, metadata *directive.ParsedDirectives) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := encodeJSON(metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}

	res, err := s.db.Exec(
		`UPDATE messages SET metadata = ? WHERE id = ? AND metadata IS NULL`, encoded, id)
	if err != nil {
		return fmt.Errorf("attach metadata: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("attach metadata: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("metadata already attached to message %s", id)
	}
	return nil
}

// GetMessage loads one message by id.
func (s *Store) GetMessage(id string) (*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, session_id, role, content, mentioned_files, metadata, created_at
		 FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message not found: %s", id)
	}
	return msg, err
}

// ListMessages returns a session's messages in creation order.
func (s *Store) ListMessages(sessionID string) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, session_id, role, content, mentioned_files, metadata, created_at
		 FROM messages WHERE session_id = ? ORDER BY created_at, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// SaveSettings persists the user settings.
func (s *Store) SaveSettings(settings action.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	encoded, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO settings (key, value) VALUES ('user', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, string(encoded))
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

// LoadSettings returns the persisted settings, or defaults when none exist.
func (s *Store) LoadSettings() (action.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defaults := action.Settings{AutoApplyChanges: false, Mode: action.ModeBasic}

	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = 'user'`).Scan(&value)
	if err == sql.ErrNoRows {
		return defaults, nil
	}
	if err != nil {
		return defaults, fmt.Errorf("load settings: %w", err)
	}

	var settings action.Settings
	if err := json.Unmarshal([]byte(value), &settings); err != nil {
		return defaults, fmt.Errorf("decode settings: %w", err)
	}
	return settings, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var files, metadata sql.NullString
	if err := row.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &files, &metadata, &msg.CreatedAt); err != nil {
		return nil, err
	}
	if files.Valid && files.String != "" {
		if err := json.Unmarshal([]byte(files.String), &msg.MentionedFiles); err != nil {
			return nil, fmt.Errorf("decode mentioned files: %w", err)
		}
	}
	if metadata.Valid && metadata.String != "" {
		msg.Metadata = &directive.ParsedDirectives{}
		if err := json.Unmarshal([]byte(metadata.String), msg.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &msg, nil
}

// encodeJSON marshals v, mapping nil pointers and empty slices to SQL NULL.
func encodeJSON(v interface{}) (interface{}, error) {
	switch value := v.(type) {
	case []string:
		if len(value) == 0 {
			return nil, nil
		}
	case *directive.ParsedDirectives:
		if value == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func requireOneRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("message not found: %s", id)
	}
	return nil
}
