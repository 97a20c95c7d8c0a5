// Package backend はSafeInのREST APIバックエンドへの問い合わせを提供する。
//
// 会社情報の有無とサブスクリプション状態はページ遷移のたびに必要になるため、
// 同一トークンの同時問い合わせをまとめ、結果を短時間キャッシュする。
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nao1215/safein/pkg/access"
	"github.com/nao1215/safein/pkg/httpclient"
)

// ErrUnauthorized はバックエンドがトークンを拒否した（401）ことを表す。
var ErrUnauthorized = errors.New("バックエンドが認証を拒否しました")

// バックエンドのエンドポイント。
const (
	pathLogin        = "/auth/login"
	pathProfile      = "/auth/profile"
	pathCompanyCheck = "/companies/exists"
	pathSubscription = "/subscriptions/status"
)

// キャッシュキーの種類。
const (
	kindCompany      = "company"
	kindSubscription = "subscription"
)

// LoginResult はログインAPIのレスポンス。
type LoginResult struct {
	// Token はバックエンドが発行した認証トークン。
	Token string `json:"token"`
	// User はログインしたユーザーの情報。
	User access.UserProfile `json:"user"`
}

// companyResponse は会社情報確認APIのレスポンス。
type companyResponse struct {
	Exists bool `json:"exists"`
}

// Client はバックエンドへの問い合わせを行う。
type Client struct {
	// http はバックエンドAPI用のHTTPクライアント。
	http *httpclient.Client
	// cache は問い合わせ結果のキャッシュ。
	cache Cache
	// ttl はキャッシュの保持期間。
	ttl time.Duration
	// warnDays はサブスクリプションの期限切れ警告を出し始める残り日数。
	warnDays int
	// timeout はまとめた問い合わせ1回の上限時間。
	timeout time.Duration
	// group は同一キーの同時問い合わせをまとめる。
	group singleflight.Group
	// logger はキャッシュ障害などの記録に使う。
	logger *zap.Logger
	// now は現在時刻を返す。
	now func() time.Time
}

// Option はClientの設定オプション。
type Option func(*Client)

// WithCache はキャッシュの実装と保持期間を設定する。ttlが0以下の場合はキャッシュしない。
func WithCache(c Cache, ttl time.Duration) Option {
	return func(cl *Client) {
		cl.cache = c
		cl.ttl = ttl
	}
}

// WithExpiryWarningDays はサブスクリプションの期限切れ警告を出し始める残り日数を設定する。
func WithExpiryWarningDays(days int) Option {
	return func(cl *Client) {
		cl.warnDays = days
	}
}

// WithLookupTimeout はまとめた問い合わせ1回の上限時間を設定する。0以下の場合は既定値のまま。
func WithLookupTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithLogger はロガーを設定する。
func WithLogger(l *zap.Logger) Option {
	return func(cl *Client) {
		cl.logger = l
	}
}

// New はバックエンドのクライアントを生成する。
func New(hc *httpclient.Client, opts ...Option) *Client {
	c := &Client{
		http:     hc,
		cache:    NewMemoryCache(),
		ttl:      DefaultCacheTTL,
		timeout:  httpclient.DefaultTimeout,
		warnDays: access.DefaultExpiryWarningDays,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login はメールアドレスとパスワードでログインする。
func (c *Client) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	body := map[string]string{"email": email, "password": password}
	var res LoginResult
	if err := c.http.PostJSON(ctx, pathLogin, body, &res); err != nil {
		return nil, wrap("ログイン", err)
	}
	if !access.ValidToken(res.Token) {
		return nil, errors.New("ログイン: バックエンドが不正なトークンを返しました")
	}
	return &res, nil
}

// Profile はトークンに対応するユーザー情報を取得する。
func (c *Client) Profile(ctx context.Context, token string) (*access.UserProfile, error) {
	var u access.UserProfile
	if err := c.http.GetJSON(httpclient.WithToken(ctx, token), pathProfile, &u); err != nil {
		return nil, wrap("プロフィール取得", err)
	}
	return &u, nil
}

// CompanyExists はセッションのユーザーが会社情報を登録済みかどうかを返す。
// access.CompanyLookupを満たす。未登録の結果は会社登録の直後に変わるためキャッシュしない。
func (c *Client) CompanyExists(ctx context.Context, s access.Session) (bool, error) {
	var res companyResponse
	if err := c.cached(ctx, kindCompany, s.Token, pathCompanyCheck, &res, companyRegistered); err != nil {
		return false, err
	}
	return res.Exists, nil
}

// Subscription はトークンに対応するサブスクリプション状態を取得する。
func (c *Client) Subscription(ctx context.Context, token string) (access.SubscriptionStatus, error) {
	var rec access.SubscriptionRecord
	if err := c.cached(ctx, kindSubscription, token, pathSubscription, &rec, nil); err != nil {
		return access.SubscriptionStatus{}, err
	}
	return access.DeriveSubscription(rec, c.now(), c.warnDays), nil
}

// Invalidate はトークンに関するキャッシュを削除する。
// ログアウト、401の検知、会社情報やサブスクリプションを更新するAPIの成功時に呼び出す。
func (c *Client) Invalidate(ctx context.Context, token string) error {
	fp := Fingerprint(token)
	return c.cache.Delete(ctx, cacheKey(kindCompany, fp), cacheKey(kindSubscription, fp))
}

// cached はキャッシュを確認し、無ければ同一キーの問い合わせをまとめてバックエンドに問い合わせる。
// keepがfalseを返したレスポンスはキャッシュしない。nilの場合はすべてキャッシュする。
//
// まとめた問い合わせは最初の呼び出し元のキャンセルに影響されないよう独立したcontextで実行し、
// 各呼び出し元は自身のctxが終了した時点で待機をやめる。
func (c *Client) cached(ctx context.Context, kind, token, path string, out any, keep func(json.RawMessage) bool) error {
	if !access.ValidToken(token) {
		return fmt.Errorf("%s: %w", kind, ErrUnauthorized)
	}
	key := cacheKey(kind, Fingerprint(token))

	if c.ttl > 0 {
		if b, ok, err := c.cache.Get(ctx, key); err != nil {
			c.logger.Warn("キャッシュの取得に失敗しました", zap.String("kind", kind), zap.Error(err))
		} else if ok {
			if err := json.Unmarshal(b, out); err == nil {
				return nil
			}
		}
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(fetchCtx, c.timeout)
		defer cancel()

		var raw json.RawMessage
		if err := c.http.GetJSON(httpclient.WithToken(fctx, token), path, &raw); err != nil {
			return nil, wrap(kind, err)
		}
		if c.ttl > 0 && (keep == nil || keep(raw)) {
			if err := c.cache.Set(fctx, key, raw, c.ttl); err != nil {
				c.logger.Warn("キャッシュの保存に失敗しました", zap.String("kind", kind), zap.Error(err))
			}
		}
		return raw, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", kind, ctx.Err())
	case res = <-ch:
	}
	if res.Err != nil {
		return res.Err
	}
	if err := json.Unmarshal(res.Val.(json.RawMessage), out); err != nil {
		return fmt.Errorf("%s: レスポンスの解析に失敗: %w", kind, err)
	}
	return nil
}

// companyRegistered は会社情報確認APIのレスポンスが登録済みを表すかを返す。
func companyRegistered(raw json.RawMessage) bool {
	var res companyResponse
	return json.Unmarshal(raw, &res) == nil && res.Exists
}

func cacheKey(kind, fingerprint string) string {
	return kind + ":" + fingerprint
}

// wrap は401をErrUnauthorizedに変換し、それ以外のエラーには操作名を付ける。
func wrap(op string, err error) error {
	if httpclient.IsStatus(err, http.StatusUnauthorized) {
		return fmt.Errorf("%s: %w", op, ErrUnauthorized)
	}
	return fmt.Errorf("%s: %w", op, err)
}
