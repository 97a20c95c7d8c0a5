package gateway

import (
	"context"
	"net/http"
	"testing"

	"github.com/nao1215/safein/internal/config"
	"github.com/nao1215/safein/pkg/event"
	"github.com/nao1215/safein/pkg/middleware"
)

// TestHandleLogin はログインハンドラのテスト。
func TestHandleLogin(t *testing.T) {
	t.Parallel()

	t.Run("ログインに成功するとセッションCookieを発行する", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		resp, body := env.do(t, http.MethodPost, "/auth/login", map[string]string{
			"email": "u1@example.com", "password": testPassword, "redirect": "/visitor/list",
		})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d: %s", resp.StatusCode, http.StatusOK, body)
		}

		var cookie *http.Cookie
		for _, c := range resp.Cookies() {
			if c.Name == config.DefaultCookieName {
				cookie = c
			}
		}
		if cookie == nil {
			t.Fatal("セッションCookieが設定されていない")
		}
		if !cookie.HttpOnly || cookie.Path != "/" || cookie.SameSite != http.SameSiteLaxMode {
			t.Errorf("Cookieの属性が不正: %+v", cookie)
		}
		if cookie.Secure {
			t.Error("開発環境ではSecureを付けない")
		}
		if cookie.MaxAge != 7*24*60*60 {
			t.Errorf("MaxAge: got %d", cookie.MaxAge)
		}

		claims, err := middleware.ParseSessionToken(testJWTSecret, cookie.Value)
		if err != nil {
			t.Fatalf("セッショントークンの検証に失敗: %v", err)
		}
		rec, err := env.store.Get(context.Background(), claims.SessionID())
		if err != nil {
			t.Fatalf("セッションが保存されていない: %v", err)
		}
		if rec.BackendToken != testBackendToken || rec.UserID != "u1" {
			t.Errorf("セッション: got %+v", rec)
		}

		res := decodeJSON(t, body)
		if res["redirect"] != "/visitor/list" {
			t.Errorf("redirect: got %v", res["redirect"])
		}

		events, err := env.audit.ListByUser(context.Background(), "u1", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(events) != 1 || events[0].EventType != event.TypeSessionStarted {
			t.Errorf("SessionStartedイベント: got %+v", events)
		}
	})

	t.Run("パスワードが誤っている場合は401", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		resp, _ := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "u1@example.com", "password": "wrong"})
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", resp.StatusCode, http.StatusUnauthorized)
		}
		if env.store.Len() != 0 {
			t.Error("セッションが作成されている")
		}
	})

	t.Run("入力が不足している場合は400", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		resp, _ := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "not-an-email"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("ステータスコード: got %d, want %d", resp.StatusCode, http.StatusBadRequest)
		}
	})

	t.Run("本番環境ではSecure属性を付ける", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, func(c *config.Config) { c.App.Environment = config.EnvProd })
		resp, _ := env.do(t, http.MethodPost, "/auth/login", map[string]string{"email": "u1@example.com", "password": testPassword})
		for _, c := range resp.Cookies() {
			if c.Name == config.DefaultCookieName && !c.Secure {
				t.Error("Secure属性が付いていない")
			}
		}
	})
}

// TestHandleLogout はログアウトハンドラのテスト。
func TestHandleLogout(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.login(t)

	resp, body := env.do(t, http.MethodPost, "/auth/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ステータスコード: got %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := decodeJSON(t, body)["redirect"]; got != "/login" {
		t.Errorf("redirect: got %v", got)
	}
	if env.store.Len() != 0 {
		t.Errorf("セッションが削除されていない: %d 件", env.store.Len())
	}
	if env.sessionCookie() != nil {
		t.Error("セッションCookieが削除されていない")
	}

	resp, _ = env.do(t, http.MethodGet, "/dashboard", nil)
	if resp.StatusCode != http.StatusTemporaryRedirect {
		t.Errorf("ログアウト後のダッシュボード: got %d", resp.StatusCode)
	}

	// セッションが無い状態でも成功する
	resp, _ = env.do(t, http.MethodPost, "/auth/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("2回目のログアウト: got %d", resp.StatusCode)
	}
}

// TestHandleDevToken は開発用トークン発行ハンドラのテスト。
func TestHandleDevToken(t *testing.T) {
	t.Parallel()

	t.Run("開発環境ではトークンを発行する", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		resp, body := env.do(t, http.MethodPost, "/auth/dev-token", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", resp.StatusCode, http.StatusOK)
		}

		res := decodeJSON(t, body)
		if res["user_id"] != devUserID {
			t.Errorf("user_id: got %v", res["user_id"])
		}
		token, _ := res["token"].(string)
		claims, err := middleware.ParseSessionToken(testJWTSecret, token)
		if err != nil {
			t.Fatalf("発行されたトークンの検証に失敗: %v", err)
		}
		if claims.SessionID() != res["session_id"] {
			t.Errorf("session_id: got %v, want %v", res["session_id"], claims.SessionID())
		}
	})

	t.Run("バックエンドトークンを指定できる", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.backend.companyExists.Store(true)
		resp, _ := env.do(t, http.MethodPost, "/auth/dev-token", map[string]string{"user_id": "u1", "backend_token": testBackendToken})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ステータスコード: got %d", resp.StatusCode)
		}
		resp, _ = env.do(t, http.MethodGet, "/dashboard", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("ダッシュボード: got %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("開発環境以外では発行しない", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t, func(c *config.Config) { c.App.Environment = config.EnvStaging })
		resp, _ := env.do(t, http.MethodPost, "/auth/dev-token", nil)
		if resp.StatusCode == http.StatusOK {
			t.Error("開発環境以外でトークンが発行された")
		}
		if env.store.Len() != 0 {
			t.Error("セッションが作成されている")
		}
	})
}

// TestHandleMe はログイン中のユーザー情報取得のテスト。
func TestHandleMe(t *testing.T) {
	t.Parallel()

	t.Run("未ログインは401", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		resp, _ := env.do(t, http.MethodGet, "/auth/me", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", resp.StatusCode, http.StatusUnauthorized)
		}
	})

	t.Run("会社登録後のプロフィールをセッションに反映する", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.login(t)
		env.backend.profileCompany.Store("c1")

		resp, body := env.do(t, http.MethodGet, "/auth/me", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("ステータスコード: got %d, want %d", resp.StatusCode, http.StatusOK)
		}
		res := decodeJSON(t, body)
		if res["id"] != "u1" || res["company_id"] != "c1" {
			t.Errorf("レスポンス: got %v", res)
		}

		claims, err := middleware.ParseSessionToken(testJWTSecret, env.sessionCookie().Value)
		if err != nil {
			t.Fatal(err)
		}
		rec, err := env.store.Get(context.Background(), claims.SessionID())
		if err != nil {
			t.Fatal(err)
		}
		if rec.CompanyID != "c1" {
			t.Errorf("セッションの会社ID: got %q, want %q", rec.CompanyID, "c1")
		}
	})

	t.Run("バックエンドが拒否した場合はセッションを破棄する", func(t *testing.T) {
		t.Parallel()

		env := newTestEnv(t)
		env.login(t)
		env.backend.revoked.Store(true)

		resp, _ := env.do(t, http.MethodGet, "/auth/me", nil)
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", resp.StatusCode, http.StatusUnauthorized)
		}
		if env.store.Len() != 0 {
			t.Error("セッションが削除されていない")
		}
	})
}
