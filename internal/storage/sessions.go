package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"kopilka/internal/core"
)

// SessionStore keeps capture sessions in the sessions table so in-progress
// conversations survive process restarts. One row per chat id; the state
// column is the JSON-encoded core.Capture.
type SessionStore struct {
	db *sql.DB
}

func (s *SessionStore) Get(ctx context.Context, chatID string) (core.Capture, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE chat_id = ?`, chatID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Capture{}, false, nil
	}
	if err != nil {
		return core.Capture{}, false, fmt.Errorf("query session: %w", err)
	}

	var c core.Capture
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return core.Capture{}, false, fmt.Errorf("decode session: %w", err)
	}
	return c, c.Active(), nil
}

func (s *SessionStore) Put(ctx context.Context, chatID string, c core.Capture) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (chat_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (chat_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		chatID, string(raw), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (s *SessionStore) Clear(ctx context.Context, chatID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE chat_id = ?`, chatID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}
