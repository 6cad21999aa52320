package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore wraps an open connection. driver is the database/sql driver name and
// selects the placeholder style.
func NewSQLStore(conn *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: sqlx.NewDb(conn, driver)}
}

const responseColumns = `id, user_id, session_id, question, answer, COALESCE(final_answer, '') AS final_answer, status, created_at`

func (s *SQLStore) AppendResponse(ctx context.Context, key SessionKey, questionID int, answer, finalAnswer string) (int64, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin append tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE responses
		SET status = ?
		WHERE user_id = ? AND session_id = ? AND question = ? AND status = ?`),
		string(StatusInactive), key.UserID, key.SessionID, questionID, string(StatusActive),
	); err != nil {
		return 0, fmt.Errorf("demote prior responses: %w", err)
	}

	var id int64
	if err := tx.QueryRowxContext(ctx, tx.Rebind(`
		INSERT INTO responses (user_id, session_id, question, answer, final_answer, status)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		key.UserID, key.SessionID, questionID, answer, nullIfEmpty(finalAnswer), string(StatusActive),
	).Scan(&id); err != nil {
		return 0, fmt.Errorf("insert response: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append tx: %w", err)
	}
	return id, nil
}

func (s *SQLStore) DemoteQuestions(ctx context.Context, key SessionKey, questionIDs []int) error {
	questionIDs = uniqueIDs(questionIDs)
	if len(questionIDs) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		UPDATE responses
		SET status = ?
		WHERE user_id = ? AND session_id = ? AND status = ? AND question IN (?)`,
		string(StatusInactive), key.UserID, key.SessionID, string(StatusActive), questionIDs)
	if err != nil {
		return fmt.Errorf("build demote query: %w", err)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin demote tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("demote responses: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit demote tx: %w", err)
	}
	return nil
}

func (s *SQLStore) ActiveResponses(ctx context.Context, key SessionKey) ([]Response, error) {
	items := make([]Response, 0)
	err := s.db.SelectContext(ctx, &items, s.db.Rebind(`
		SELECT `+responseColumns+`
		FROM responses
		WHERE user_id = ? AND session_id = ? AND status = ?
		ORDER BY question ASC, id ASC`),
		key.UserID, key.SessionID, string(StatusActive))
	if err != nil {
		return nil, fmt.Errorf("list active responses: %w", err)
	}
	return items, nil
}

func (s *SQLStore) AllResponses(ctx context.Context, key SessionKey) ([]Response, error) {
	items := make([]Response, 0)
	err := s.db.SelectContext(ctx, &items, s.db.Rebind(`
		SELECT `+responseColumns+`
		FROM responses
		WHERE user_id = ? AND session_id = ?
		ORDER BY question ASC, id ASC`),
		key.UserID, key.SessionID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	return items, nil
}

func (s *SQLStore) LoadState(ctx context.Context, key SessionKey) ([]byte, error) {
	var raw string
	err := s.db.GetContext(ctx, &raw, s.db.Rebind(`
		SELECT user_state
		FROM responses
		WHERE user_id = ? AND session_id = ? AND user_state IS NOT NULL
		ORDER BY id DESC
		LIMIT 1`),
		key.UserID, key.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("load session state: %w", err)
	}
	return []byte(raw), nil
}

func (s *SQLStore) SaveState(ctx context.Context, key SessionKey, state []byte) error {
	return s.updateLatest(ctx, key, "user_state", string(state))
}

func (s *SQLStore) SavePortrait(ctx context.Context, key SessionKey, portrait string) error {
	return s.updateLatest(ctx, key, "user_portrait", portrait)
}

func (s *SQLStore) Portrait(ctx context.Context, key SessionKey) (string, error) {
	var portrait string
	err := s.db.GetContext(ctx, &portrait, s.db.Rebind(`
		SELECT user_portrait
		FROM responses
		WHERE user_id = ? AND session_id = ? AND user_portrait IS NOT NULL
		ORDER BY id DESC
		LIMIT 1`),
		key.UserID, key.SessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("load portrait: %w", err)
	}
	return portrait, nil
}

// updateLatest sets one snapshot column on the newest row of the session. column is
// always a literal from this file.
func (s *SQLStore) updateLatest(ctx context.Context, key SessionKey, column, value string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE responses
		SET `+column+` = ?
		WHERE id = (
			SELECT MAX(id) FROM responses WHERE user_id = ? AND session_id = ?
		)`),
		value, key.UserID, key.SessionID)
	if err != nil {
		return fmt.Errorf("update %s: %w", column, err)
	}
	return nil
}

func (s *SQLStore) NextSessionID(ctx context.Context, userID int64) (int, error) {
	var next int
	err := s.db.GetContext(ctx, &next, s.db.Rebind(`
		SELECT COALESCE(MAX(session_id), 0) + 1 FROM responses WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("next session id: %w", err)
	}
	return next, nil
}

func (s *SQLStore) LatestSessionID(ctx context.Context, userID int64) (int, error) {
	var latest sql.NullInt64
	err := s.db.GetContext(ctx, &latest, s.db.Rebind(`
		SELECT MAX(session_id) FROM responses WHERE user_id = ?`), userID)
	if err != nil {
		return 0, fmt.Errorf("latest session id: %w", err)
	}
	if !latest.Valid {
		return 0, ErrNoSession
	}
	return int(latest.Int64), nil
}

func nullIfEmpty(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
