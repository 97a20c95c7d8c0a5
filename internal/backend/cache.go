package backend

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zeebo/blake3"
)

// DefaultCacheTTL は問い合わせ結果をキャッシュする既定の期間。
const DefaultCacheTTL = 30 * time.Second

// Fingerprint はトークンをキャッシュキーに使える固定長の文字列に変換する。
// トークンそのものはキャッシュのキーに含めない。
func Fingerprint(token string) string {
	sum := blake3.Sum256([]byte(token))
	return hex.EncodeToString(sum[:16])
}

// Cache は問い合わせ結果の短期キャッシュ。
type Cache interface {
	// Get はキーに対応する値を返す。存在しない場合は第2戻り値がfalse。
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set は値をttlの間保持する。
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// Delete はキーを削除する。
	Delete(ctx context.Context, keys ...string) error
}

type memoryEntry struct {
	val     []byte
	expires time.Time
}

// MemoryCache はプロセス内のマップを使うCache。
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryCache は空のMemoryCacheを生成する。
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get はキーに対応する期限内の値を返す。
func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.val, true, nil
}

// Set は値を保持する。
func (m *MemoryCache) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = memoryEntry{val: val, expires: m.now().Add(ttl)}
	return nil
}

// Delete はキーを削除する。
func (m *MemoryCache) Delete(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

// DefaultCachePrefix はRedisのキーに付ける既定のプレフィックス。
const DefaultCachePrefix = "safein:lookup:"

// RedisCache はRedisを使うCache。複数のgatewayインスタンスで結果を共有できる。
type RedisCache struct {
	client redis.Cmdable
	prefix string
}

// NewRedisCache はRedisを使うCacheを生成する。prefixが空の場合はDefaultCachePrefixを使う。
func NewRedisCache(client redis.Cmdable, prefix string) *RedisCache {
	if prefix == "" {
		prefix = DefaultCachePrefix
	}
	return &RedisCache{client: client, prefix: prefix}
}

// Get はキーに対応する値を返す。
func (r *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("キャッシュの取得に失敗: %w", err)
	}
	return val, true, nil
}

// Set は値をTTL付きで保存する。
func (r *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, val, ttl).Err(); err != nil {
		return fmt.Errorf("キャッシュの保存に失敗: %w", err)
	}
	return nil
}

// Delete はキーを削除する。
func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.prefix + k
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("キャッシュの削除に失敗: %w", err)
	}
	return nil
}
