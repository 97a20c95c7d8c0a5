package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nao1215/safein/pkg/access"
	"github.com/nao1215/safein/pkg/httpclient"
)

const testToken = "backend-token-0123456789"

// fakeBackend はバックエンドAPIの代わりになるテストサーバー。
type fakeBackend struct {
	companyCalls      atomic.Int32
	subscriptionCalls atomic.Int32
	exists            atomic.Bool
	unauthorized      atomic.Bool
	subscription      access.SubscriptionRecord
	// gate が設定されている場合、会社情報の確認は gate が閉じるまで待つ。
	gate chan struct{}
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	auth := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if f.unauthorized.Load() || r.Header.Get("Authorization") != "Bearer "+testToken {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if body["password"] != "correct-horse" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(LoginResult{
			Token: testToken,
			User:  access.UserProfile{ID: "u1", Email: body["email"], Name: "山田"},
		})
	})
	mux.HandleFunc("GET /auth/profile", auth(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(access.UserProfile{ID: "u1", Email: "u1@example.com", CompanyID: "c1"})
	}))
	mux.HandleFunc("GET /companies/exists", auth(func(w http.ResponseWriter, _ *http.Request) {
		f.companyCalls.Add(1)
		if f.gate != nil {
			<-f.gate
		}
		json.NewEncoder(w).Encode(map[string]bool{"exists": f.exists.Load()})
	}))
	mux.HandleFunc("GET /subscriptions/status", auth(func(w http.ResponseWriter, _ *http.Request) {
		f.subscriptionCalls.Add(1)
		json.NewEncoder(w).Encode(f.subscription)
	}))
	return mux
}

func newTestClient(t *testing.T, f *fakeBackend, opts ...Option) *Client {
	t.Helper()
	ts := httptest.NewServer(f.handler())
	t.Cleanup(ts.Close)
	return New(httpclient.New(ts.URL), opts...)
}

func authed() access.Session {
	return access.NewSession(testToken, nil)
}

func TestClient_Login(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c := newTestClient(t, &fakeBackend{})

	res, err := c.Login(ctx, "u1@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, testToken, res.Token)
	assert.Equal(t, "u1@example.com", res.User.Email)

	_, err = c.Login(ctx, "u1@example.com", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_Profile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	f := &fakeBackend{}
	c := newTestClient(t, f)

	u, err := c.Profile(ctx, testToken)
	require.NoError(t, err)
	assert.Equal(t, "c1", u.CompanyID)

	_, err = c.Profile(ctx, "other-token-0123456789")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestClient_CompanyExists(t *testing.T) {
	t.Parallel()

	t.Run("結果がキャッシュされること", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f := &fakeBackend{}
		f.exists.Store(true)
		c := newTestClient(t, f)

		for range 3 {
			ok, err := c.CompanyExists(ctx, authed())
			require.NoError(t, err)
			assert.True(t, ok)
		}
		assert.EqualValues(t, 1, f.companyCalls.Load())

		f.exists.Store(false)
		require.NoError(t, c.Invalidate(ctx, testToken))
		ok, err := c.CompanyExists(ctx, authed())
		require.NoError(t, err)
		assert.False(t, ok, "Invalidate後は最新の結果を取得する")
		assert.EqualValues(t, 2, f.companyCalls.Load())
	})

	t.Run("同時の問い合わせが1回にまとめられること", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f := &fakeBackend{gate: make(chan struct{})}
		f.exists.Store(true)
		c := newTestClient(t, f, WithCache(NewMemoryCache(), 0))

		const n = 8
		var wg sync.WaitGroup
		results := make([]bool, n)
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := c.CompanyExists(ctx, authed())
				assert.NoError(t, err)
				results[i] = ok
			}()
		}
		require.Eventually(t, func() bool { return f.companyCalls.Load() == 1 }, time.Second, 5*time.Millisecond)
		time.Sleep(50 * time.Millisecond)
		close(f.gate)
		wg.Wait()

		assert.EqualValues(t, 1, f.companyCalls.Load())
		for _, ok := range results {
			assert.True(t, ok)
		}
	})

	t.Run("未登録の結果はキャッシュされないこと", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		f := &fakeBackend{}
		c := newTestClient(t, f)

		for range 2 {
			ok, err := c.CompanyExists(ctx, authed())
			require.NoError(t, err)
			assert.False(t, ok)
		}
		assert.EqualValues(t, 2, f.companyCalls.Load())

		// 会社登録の直後はInvalidateを待たずに登録済みになる
		f.exists.Store(true)
		ok, err := c.CompanyExists(ctx, authed())
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("先に待っていた呼び出し元のキャンセルが他の呼び出し元に波及しないこと", func(t *testing.T) {
		t.Parallel()

		f := &fakeBackend{gate: make(chan struct{})}
		f.exists.Store(true)
		c := newTestClient(t, f, WithCache(NewMemoryCache(), 0))

		ctxA, cancelA := context.WithCancel(context.Background())
		errA := make(chan error, 1)
		go func() {
			_, err := c.CompanyExists(ctxA, authed())
			errA <- err
		}()
		require.Eventually(t, func() bool { return f.companyCalls.Load() == 1 }, time.Second, 5*time.Millisecond)

		type result struct {
			ok  bool
			err error
		}
		resB := make(chan result, 1)
		go func() {
			ok, err := c.CompanyExists(context.Background(), authed())
			resB <- result{ok: ok, err: err}
		}()
		time.Sleep(20 * time.Millisecond)

		cancelA()
		select {
		case err := <-errA:
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(time.Second):
			t.Fatal("キャンセルした呼び出し元が戻らない")
		}

		close(f.gate)
		got := <-resB
		require.NoError(t, got.err)
		assert.True(t, got.ok)
		assert.EqualValues(t, 1, f.companyCalls.Load())
	})

	t.Run("まとめた問い合わせにはWithLookupTimeoutの上限が適用されること", func(t *testing.T) {
		t.Parallel()

		f := &fakeBackend{gate: make(chan struct{})}
		c := newTestClient(t, f, WithLookupTimeout(30*time.Millisecond))
		// テストサーバーの停止より先にハンドラを解放する
		t.Cleanup(func() { close(f.gate) })

		_, err := c.CompanyExists(context.Background(), authed())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("401はErrUnauthorizedになること", func(t *testing.T) {
		t.Parallel()

		f := &fakeBackend{}
		f.unauthorized.Store(true)
		c := newTestClient(t, f)

		_, err := c.CompanyExists(context.Background(), authed())
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("接続できない場合はErrUnauthorized以外のエラーになること", func(t *testing.T) {
		t.Parallel()

		c := New(httpclient.New("http://127.0.0.1:1"))
		_, err := c.CompanyExists(context.Background(), authed())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("Gateのlookupとして使えること", func(t *testing.T) {
		t.Parallel()

		f := &fakeBackend{}
		c := newTestClient(t, f)
		g, err := access.New(access.DefaultOptions())
		require.NoError(t, err)

		d, err := g.Evaluate(context.Background(), access.Request{Path: "/dashboard", Session: authed()}, c)
		require.NoError(t, err)
		assert.Equal(t, access.ActionRedirectCompanyCreate, d.Action)
	})
}

func TestClient_Subscription(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	expiry := now.Add(72 * time.Hour)
	f := &fakeBackend{subscription: access.SubscriptionRecord{HasActiveSubscription: true, ExpiryDate: &expiry}}
	c := newTestClient(t, f, WithExpiryWarningDays(5))
	c.now = func() time.Time { return now }

	st, err := c.Subscription(context.Background(), testToken)
	require.NoError(t, err)
	assert.True(t, st.HasActiveSubscription)
	require.NotNil(t, st.ExpiryWarningDays)
	assert.Equal(t, 3, *st.ExpiryWarningDays)

	_, err = c.Subscription(context.Background(), testToken)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.subscriptionCalls.Load())
}

func TestRedisCache(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })

	f := &fakeBackend{}
	f.exists.Store(true)
	cache := NewRedisCache(rc, "")
	c := newTestClient(t, f, WithCache(cache, time.Minute))

	_, err := c.CompanyExists(ctx, authed())
	require.NoError(t, err)

	key := DefaultCachePrefix + "company:" + Fingerprint(testToken)
	assert.True(t, mr.Exists(key))
	assert.False(t, strings.Contains(strings.Join(mr.Keys(), ","), testToken), "トークンそのものはキーに含まれない")

	mr.FastForward(2 * time.Minute)
	_, ok, err := cache.Get(ctx, "company:"+Fingerprint(testToken))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCache_Expiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryCache()
	now := time.Now()
	m.now = func() time.Time { return now }

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Second))
	v, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))

	now = now.Add(time.Second)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	a := Fingerprint(testToken)
	assert.Len(t, a, 32)
	assert.Equal(t, a, Fingerprint(testToken))
	assert.NotEqual(t, a, Fingerprint(testToken+"x"))
}
