// Package audit はアクセス監査イベントをSQLiteに追記・取得する。
//
// イベントは不変であり、追記のみで運用する。
// テーブルはdatabase.Openのマイグレーションで作成される。
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nao1215/safein/pkg/event"
)

// DefaultLimit はListByUserで件数を省略した場合の取得件数。
const DefaultLimit = 50

// MaxLimit は一度に取得できる最大件数。
const MaxLimit = 500

// Store はaccess_eventsテーブルへのイベントの追記と取得を行う。
type Store struct {
	db *sql.DB
}

// NewStore はSQLiteを使うStoreを生成する。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Append はイベントを追記する。同じIDのイベントは追記できない。
func (s *Store) Append(ctx context.Context, e *event.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO access_events (id, aggregate_id, aggregate_type, event_type, user_id, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AggregateID, string(e.AggregateType), string(e.EventType), e.UserID, string(e.Data),
		createdAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("イベントの追記に失敗: %w", err)
	}
	return nil
}

// ListByUser はユーザーのイベントを新しい順に最大limit件返す。
// limitが0以下の場合はDefaultLimit、MaxLimitを超える場合はMaxLimitになる。
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]*event.Event, error) {
	return s.list(ctx, `WHERE user_id = ?`, userID, limit)
}

// ListByType はイベントの種類ごとに新しい順に最大limit件返す。
func (s *Store) ListByType(ctx context.Context, t event.Type, limit int) ([]*event.Event, error) {
	return s.list(ctx, `WHERE event_type = ?`, string(t), limit)
}

// CountByType はイベントの種類ごとの件数を返す。
func (s *Store) CountByType(ctx context.Context) (map[event.Type]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_type, COUNT(*) FROM access_events GROUP BY event_type`)
	if err != nil {
		return nil, fmt.Errorf("イベント件数の取得に失敗: %w", err)
	}
	defer rows.Close()

	counts := make(map[event.Type]int)
	for rows.Next() {
		var (
			t string
			n int
		)
		if err := rows.Scan(&t, &n); err != nil {
			return nil, fmt.Errorf("イベント件数の読み取りに失敗: %w", err)
		}
		counts[event.Type(t)] = n
	}
	return counts, rows.Err()
}

func (s *Store) list(ctx context.Context, where string, arg any, limit int) ([]*event.Event, error) {
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, aggregate_id, aggregate_type, event_type, user_id, data, created_at
		FROM access_events `+where+`
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, arg, limit)
	if err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}
	defer rows.Close()

	events := make([]*event.Event, 0)
	for rows.Next() {
		var (
			e                  event.Event
			aggType, eventType string
			data               string
			createdAt          int64
		)
		if err := rows.Scan(&e.ID, &e.AggregateID, &aggType, &eventType, &e.UserID, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("イベントの読み取りに失敗: %w", err)
		}
		e.AggregateType = event.AggregateType(aggType)
		e.EventType = event.Type(eventType)
		e.Data = []byte(data)
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("イベントの取得に失敗: %w", err)
	}
	return events, nil
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}
