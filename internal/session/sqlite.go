package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLStore はSQLiteのsessionsテーブルにセッションを保持するStore。
// テーブルはdatabase.Openのマイグレーションで作成される。
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLStore はSQLiteを使うStoreを生成する。
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// Get はIDに対応する期限内のセッションを返す。
func (s *SQLStore) Get(ctx context.Context, id string) (*Record, error) {
	var (
		rec                  Record
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, email, name, company_id, backend_token, created_at, expires_at
		FROM sessions
		WHERE id = ? AND expires_at > ?`,
		id, s.now().Unix(),
	).Scan(&rec.ID, &rec.UserID, &rec.Email, &rec.Name, &rec.CompanyID, &rec.BackendToken, &createdAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	rec.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return &rec, nil
}

// Set はセッションを保存する。
func (s *SQLStore) Set(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, email, name, company_id, backend_token, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			email = excluded.email,
			name = excluded.name,
			company_id = excluded.company_id,
			backend_token = excluded.backend_token,
			expires_at = excluded.expires_at`,
		rec.ID, rec.UserID, rec.Email, rec.Name, rec.CompanyID, rec.BackendToken,
		createdAt.Unix(), rec.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("セッションの保存に失敗: %w", err)
	}
	return nil
}

// Clear はセッションを削除する。
func (s *SQLStore) Clear(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("セッションの削除に失敗: %w", err)
	}
	return nil
}

// Ping はデータベースへの疎通を確認する。
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Purge は期限切れのセッションを削除し、削除件数を返す。
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}
	return res.RowsAffected()
}
