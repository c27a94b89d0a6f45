package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Session struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	Task        string     `json:"task"`
	Status      string     `json:"status"`
	Output      string     `json:"output,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type SessionMessage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) SaveSession(sess *Session) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (id, kind, task, status)
		VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Kind, sess.Task, sess.Status)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *Store) CompleteSession(id, status, output, reason string) error {
	_, err := s.db.Exec(`
		UPDATE sessions
		SET status = ?, output = ?, reason = ?, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		status, output, reason, id)
	if err != nil {
		return fmt.Errorf("complete session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(id string) (*Session, error) {
	sess := &Session{}
	var output, reason sql.NullString
	var completedAt sql.NullTime
	err := s.db.QueryRow(`
		SELECT id, kind, task, status, output, reason, started_at, completed_at
		FROM sessions WHERE id = ?`, id).
		Scan(&sess.ID, &sess.Kind, &sess.Task, &sess.Status, &output, &reason, &sess.StartedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	sess.Output = output.String
	sess.Reason = reason.String
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}
	return sess, nil
}

func (s *Store) ListSessions(limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, kind, task, status, output, reason, started_at, completed_at
		FROM sessions
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		var output, reason sql.NullString
		var completedAt sql.NullTime
		if err := rows.Scan(&sess.ID, &sess.Kind, &sess.Task, &sess.Status, &output, &reason, &sess.StartedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sess.Output = output.String
		sess.Reason = reason.String
		if completedAt.Valid {
			sess.CompletedAt = &completedAt.Time
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *Store) SaveSessionMessage(msg *SessionMessage) error {
	result, err := s.db.Exec(`
		INSERT INTO session_messages (session_id, speaker, content)
		VALUES (?, ?, ?)`,
		msg.SessionID, msg.Speaker, msg.Content)
	if err != nil {
		return fmt.Errorf("save session message: %w", err)
	}
	msg.ID, _ = result.LastInsertId()
	return nil
}

// GetSessionMessages returns a session's messages in append order. The
// autoincrement id is the ordering key, not the wall-clock timestamp.
func (s *Store) GetSessionMessages(sessionID string) ([]SessionMessage, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, speaker, content, created_at
		FROM session_messages
		WHERE session_id = ?
		ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session messages: %w", err)
	}
	defer rows.Close()

	var messages []SessionMessage
	for rows.Next() {
		var m SessionMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Speaker, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
