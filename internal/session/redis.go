package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix はRedisのキーに付ける既定のプレフィックス。
const DefaultRedisPrefix = "safein:session:"

// RedisStore はRedisにセッションを保持するStore。
// キーのTTLはレコードの有効期限に合わせるため、期限切れのレコードはRedis側で消える。
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore はRedisを使うStoreを生成する。prefixが空の場合はDefaultRedisPrefixを使う。
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + id
}

// Get はIDに対応するセッションを返す。
func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	val, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("セッションの取得に失敗: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("セッションのデシリアライズに失敗: %w", err)
	}
	if rec.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	return &rec, nil
}

// Set はセッションを有効期限までのTTL付きで保存する。
func (s *RedisStore) Set(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return s.Clear(ctx, rec.ID)
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("セッションのシリアライズに失敗: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rec.ID), b, ttl).Err(); err != nil {
		return fmt.Errorf("セッションの保存に失敗: %w", err)
	}
	return nil
}

// Clear はセッションを削除する。
func (s *RedisStore) Clear(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("セッションの削除に失敗: %w", err)
	}
	return nil
}

// Ping はRedisへの疎通を確認する。
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
