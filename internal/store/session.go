package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session is one persisted conversation.
type Session struct {
	ID      string
	Title   string
	Created time.Time
	Updated time.Time
}

// SessionMessage is the serializable conversation-snapshot record: role,
// content, and the optional tool-call correlation fields.
type SessionMessage struct {
	Role       string
	Content    string
	ToolCallID string
	ToolCalls  json.RawMessage // JSON array, empty when absent
	CreatedAt  time.Time
}

// CreateSession inserts a new session and returns its id.
func (s *Store) CreateSession(title string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("store not open")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := time.Now().Unix()
	err := withBusyRetry(func() error {
		_, err := s.db.Exec(
			"INSERT INTO sessions (id, title, created, updated) VALUES (?, ?, ?, ?)",
			id, title, now, now,
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// SaveMessages appends a batch of snapshot records atomically.
func (s *Store) SaveMessages(sessionID string, msgs []SessionMessage) error {
	if s == nil || len(msgs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return withBusyRetry(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		for _, m := range msgs {
			created := m.CreatedAt
			if created.IsZero() {
				created = time.Now()
			}
			_, err := tx.Exec(
				"INSERT INTO messages (session_id, role, content, tool_call_id, tool_calls, created) VALUES (?, ?, ?, ?, ?, ?)",
				sessionID, m.Role, m.Content, m.ToolCallID, string(m.ToolCalls), created.Unix(),
			)
			if err != nil {
				return err
			}
		}
		if _, err := tx.Exec("UPDATE sessions SET updated = ? WHERE id = ?", time.Now().Unix(), sessionID); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// LoadMessages returns a session's snapshot records in insertion order.
func (s *Store) LoadMessages(sessionID string) ([]SessionMessage, error) {
	if s == nil {
		return nil, fmt.Errorf("store not open")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		"SELECT role, content, tool_call_id, tool_calls, created FROM messages WHERE session_id = ? ORDER BY id",
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var msgs []SessionMessage
	for rows.Next() {
		var m SessionMessage
		var toolCalls string
		var created int64
		if err := rows.Scan(&m.Role, &m.Content, &m.ToolCallID, &toolCalls, &created); err != nil {
			return nil, err
		}
		if toolCalls != "" {
			m.ToolCalls = json.RawMessage(toolCalls)
		}
		m.CreatedAt = time.Unix(created, 0)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ListSessions returns all sessions, most recently updated first.
func (s *Store) ListSessions() ([]Session, error) {
	if s == nil {
		return nil, fmt.Errorf("store not open")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query("SELECT id, title, created, updated FROM sessions ORDER BY updated DESC")
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var created, updated int64
		if err := rows.Scan(&sess.ID, &sess.Title, &created, &updated); err != nil {
			return nil, err
		}
		sess.Created = time.Unix(created, 0)
		sess.Updated = time.Unix(updated, 0)
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// DeleteSession removes a session and its messages.
func (s *Store) DeleteSession(sessionID string) error {
	if s == nil {
		return fmt.Errorf("store not open")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return withBusyRetry(func() error {
		if _, err := s.db.Exec("DELETE FROM messages WHERE session_id = ?", sessionID); err != nil {
			return err
		}
		_, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", sessionID)
		if err != nil {
			log.Warn().Err(err).Str("session", sessionID).Msg("store: delete session")
		}
		return err
	})
}
