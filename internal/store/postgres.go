package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT id, display_name, created_at FROM users WHERE id=$1`, userID).
		Scan(&user.ID, &user.DisplayName, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name)
		VALUES ($1, $2)
		ON CONFLICT (id) DO NOTHING
	`, user.ID, user.DisplayName)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountBoards(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM boards`).Scan(&count); err != nil {
		return 0, fmt.Errorf("count boards: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) GetBoard(ctx context.Context, boardID string) (Board, error) {
	var board Board
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, owner_id, created_at, updated_at
		FROM boards
		WHERE id=$1
	`, boardID).Scan(&board.ID, &board.Title, &board.OwnerID, &board.CreatedAt, &board.UpdatedAt)
	if err != nil {
		return Board{}, err
	}
	return board, nil
}

// CreateBoard inserts the board together with its owner membership row.
func (s *PostgresStore) CreateBoard(ctx context.Context, board Board) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin board tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO boards (id, title, owner_id)
		VALUES ($1, $2, $3)
	`, board.ID, board.Title, board.OwnerID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert board: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO board_memberships (user_id, board_id, role)
		VALUES ($1, $2, 'OWNER')
		ON CONFLICT (user_id, board_id) DO UPDATE SET role='OWNER'
	`, board.OwnerID, board.ID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert owner membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit board tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePage(ctx context.Context, page Page) error {
	settings := page.Settings
	if len(settings) == 0 {
		settings = json.RawMessage(`{}`)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pages (id, board_id, position, settings)
		VALUES ($1, $2, $3, $4::jsonb)
	`, page.ID, page.BoardID, page.Position, string(settings))
	if err != nil {
		return fmt.Errorf("insert page: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListPages(ctx context.Context, boardID string) ([]Page, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, board_id, position, settings, created_at
		FROM pages
		WHERE board_id=$1
		ORDER BY position ASC, created_at ASC
	`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list pages: %w", err)
	}
	defer rows.Close()

	items := make([]Page, 0)
	for rows.Next() {
		var item Page
		var settings []byte
		if err := rows.Scan(&item.ID, &item.BoardID, &item.Position, &settings, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan page: %w", err)
		}
		item.Settings = json.RawMessage(settings)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) PageInBoard(ctx context.Context, pageID, boardID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM pages WHERE id=$1 AND board_id=$2)`, pageID, boardID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check page: %w", err)
	}
	return exists, nil
}

func (s *PostgresStore) GetMembership(ctx context.Context, userID, boardID string) (Membership, error) {
	membership := Membership{UserID: userID, BoardID: boardID}
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM board_memberships WHERE user_id=$1 AND board_id=$2
	`, userID, boardID).Scan(&membership.Role)
	if err != nil {
		return Membership{}, err
	}
	return membership, nil
}

func (s *PostgresStore) UpsertMembership(ctx context.Context, membership Membership) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO board_memberships (user_id, board_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id, board_id) DO UPDATE SET role=EXCLUDED.role
	`, membership.UserID, membership.BoardID, membership.Role)
	if err != nil {
		return fmt.Errorf("upsert membership: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateShareLink(ctx context.Context, link ShareLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO share_links (id, board_id, token_hash, can_edit)
		VALUES ($1, $2, $3, $4)
	`, link.ID, link.BoardID, link.TokenHash, link.CanEdit)
	if err != nil {
		return fmt.Errorf("insert share link: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetShareLinkByTokenHash(ctx context.Context, tokenHash string) (ShareLink, error) {
	var link ShareLink
	err := s.db.QueryRowContext(ctx, `
		SELECT id, board_id, token_hash, can_edit, created_at
		FROM share_links
		WHERE token_hash=$1
	`, tokenHash).Scan(&link.ID, &link.BoardID, &link.TokenHash, &link.CanEdit, &link.CreatedAt)
	if err != nil {
		return ShareLink{}, err
	}
	return link, nil
}

// AppendEvent inserts one event and returns it with the assigned sequence and
// timestamp. Each insert commits on its own.
func (s *PostgresStore) AppendEvent(ctx context.Context, event Event) (Event, error) {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO events (board_id, page_id, type, payload, created_at)
		VALUES ($1, $2, $3, $4::jsonb, $5)
		RETURNING seq, created_at
	`, event.BoardID, nullable(event.PageID), event.Type, string(event.Payload), createdAt).Scan(&event.Seq, &event.CreatedAt)
	if err != nil {
		return Event{}, fmt.Errorf("append event: %w", err)
	}
	return event, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, query EventQuery) ([]Event, error) {
	limit := query.Limit
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, board_id, COALESCE(page_id, ''), type, payload, created_at
		FROM events
		WHERE board_id=$1
			AND ($2 = '' OR page_id = $2)
			AND seq > $3
		ORDER BY seq ASC
		LIMIT $4
	`, query.BoardID, query.PageID, query.AfterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	items := make([]Event, 0)
	for rows.Next() {
		var item Event
		var payload []byte
		if err := rows.Scan(&item.Seq, &item.BoardID, &item.PageID, &item.Type, &payload, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		item.Payload = json.RawMessage(payload)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1 AND expires_at > NOW())`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// IsNotFound reports whether err is a lookup miss.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
