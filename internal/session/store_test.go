package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nao1215/safein/internal/database"
)

func newRecord(id string, ttl time.Duration) *Record {
	now := time.Now().UTC().Truncate(time.Second)
	return &Record{
		ID:           id,
		UserID:       "user-" + id,
		Email:        id + "@example.com",
		Name:         "テストユーザー",
		CompanyID:    "company-1",
		BackendToken: "backend-token-" + id,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
}

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, ""), mr
}

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := database.Open(context.Background(), database.MemoryDSN, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewSQLStore(db)
}

// すべての実装が同じ振る舞いをすることを確認する。
func TestStore_Conformance(t *testing.T) {
	t.Parallel()

	stores := map[string]func(t *testing.T) Store{
		"memory": func(*testing.T) Store { return NewMemoryStore() },
		"redis": func(t *testing.T) Store {
			s, _ := newRedisStore(t)
			return s
		},
		"sqlite": func(t *testing.T) Store { return newSQLStore(t) },
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			t.Run("保存したセッションを取得できること", func(t *testing.T) {
				s := newStore(t)
				rec := newRecord("s1", time.Hour)
				require.NoError(t, s.Set(ctx, rec))

				got, err := s.Get(ctx, "s1")
				require.NoError(t, err)
				assert.Equal(t, rec.UserID, got.UserID)
				assert.Equal(t, rec.Email, got.Email)
				assert.Equal(t, rec.CompanyID, got.CompanyID)
				assert.Equal(t, rec.BackendToken, got.BackendToken)
				assert.True(t, rec.ExpiresAt.Equal(got.ExpiresAt))
			})

			t.Run("存在しないセッションはErrNotFoundになること", func(t *testing.T) {
				s := newStore(t)
				_, err := s.Get(ctx, "missing")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("上書きとClearができること", func(t *testing.T) {
				s := newStore(t)
				rec := newRecord("s2", time.Hour)
				require.NoError(t, s.Set(ctx, rec))

				rec.CompanyID = "company-2"
				require.NoError(t, s.Set(ctx, rec))
				got, err := s.Get(ctx, "s2")
				require.NoError(t, err)
				assert.Equal(t, "company-2", got.CompanyID)

				require.NoError(t, s.Clear(ctx, "s2"))
				_, err = s.Get(ctx, "s2")
				assert.ErrorIs(t, err, ErrNotFound)

				require.NoError(t, s.Clear(ctx, "s2"), "存在しないIDのClearも成功する")
			})

			t.Run("不正なレコードは保存できないこと", func(t *testing.T) {
				s := newStore(t)
				assert.Error(t, s.Set(ctx, nil))
				assert.Error(t, s.Set(ctx, &Record{ExpiresAt: time.Now().Add(time.Hour)}))
				assert.Error(t, s.Set(ctx, &Record{ID: "no-expiry"}))
			})

			t.Run("Pingが成功すること", func(t *testing.T) {
				assert.NoError(t, newStore(t).Ping(ctx))
			})
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, newRecord("s1", time.Minute)))
	_, err := s.Get(ctx, "s1")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Len(), "期限切れのレコードは取得時に削除される")
}

func TestRedisStore_TTL(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, s.Set(ctx, newRecord("s1", time.Minute)))
	assert.True(t, mr.Exists(DefaultRedisPrefix+"s1"))
	assert.InDelta(t, time.Minute.Seconds(), mr.TTL(DefaultRedisPrefix+"s1").Seconds(), 2)

	mr.FastForward(2 * time.Minute)
	_, err := s.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Errors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("壊れたデータはエラーになること", func(t *testing.T) {
		t.Parallel()
		s, mr := newRedisStore(t)
		require.NoError(t, mr.Set(DefaultRedisPrefix+"broken", "{not json"))
		_, err := s.Get(ctx, "broken")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})

	t.Run("接続できない場合はErrNotFound以外のエラーになること", func(t *testing.T) {
		t.Parallel()
		s, mr := newRedisStore(t)
		mr.Close()
		_, err := s.Get(ctx, "s1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
		assert.Error(t, s.Ping(ctx))
	})

	t.Run("期限切れのレコードは保存されないこと", func(t *testing.T) {
		t.Parallel()
		s, mr := newRedisStore(t)
		require.NoError(t, s.Set(ctx, newRecord("old", -time.Minute)))
		assert.False(t, mr.Exists(DefaultRedisPrefix+"old"))
	})
}

func TestSQLStore_Purge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newSQLStore(t)
	require.NoError(t, s.Set(ctx, newRecord("live", time.Hour)))
	require.NoError(t, s.Set(ctx, newRecord("dead", -time.Hour)))

	_, err := s.Get(ctx, "dead")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := s.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = s.Get(ctx, "live")
	assert.NoError(t, err)
}

func TestRecord_Session(t *testing.T) {
	t.Parallel()

	rec := newRecord("s1", time.Hour)
	s := rec.Session()
	assert.True(t, s.IsAuthenticated)
	assert.Equal(t, rec.BackendToken, s.Token)
	assert.Equal(t, "user-s1", s.User.ID)

	rec.BackendToken = "undefined"
	assert.False(t, rec.Session().IsAuthenticated)
}
