package gateway

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/safein/internal/backend"
	"github.com/nao1215/safein/internal/session"
	"github.com/nao1215/safein/pkg/access"
	"github.com/nao1215/safein/pkg/event"
)

// サブスクリプション状態を通知するレスポンスヘッダー。
const (
	HeaderSubscription      = "X-Safein-Subscription"
	HeaderExpiryWarningDays = "X-Safein-Expiry-Warning-Days"
)

// バックエンド問い合わせの種類。メトリクスのラベルになる。
const (
	lookupCompany      = "company"
	lookupSubscription = "subscription"
	lookupProfile      = "profile"
)

// handlePage はページへのアクセスを判定し、許可した場合はフロントエンドに転送するハンドラを返す。
func (s *Server) handlePage() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		rec, d, sub := s.decide(c, path)
		s.metrics.ObserveDecision(d.Action.String(), d.Guard)

		if d.Action.IsRedirect() {
			s.recordRedirect(c, rec, path, d)
			c.Redirect(http.StatusTemporaryRedirect, d.Target)
			return
		}

		if rec != nil && d.Guard != access.GuardAsset {
			c.Header(HeaderSubscription, sub.Label())
			if sub.ExpiryWarningDays != nil {
				c.Header(HeaderExpiryWarningDays, strconv.Itoa(*sub.ExpiryWarningDays))
			}
		}
		s.pageProxy.ServeHTTP(c.Writer, c.Request)
	}
}

// decide はセッションを解決してpathへのアクセスを判定する。
// 許可した認証済みのページについてはサブスクリプション状態もあわせて返す。
// 問い合わせ中にバックエンドが401を返した場合は、セッションを破棄して未ログインとして判定し直す。
func (s *Server) decide(c *gin.Context, path string) (*session.Record, access.Decision, access.SubscriptionStatus) {
	ctx := lookupContext(c)
	rec, sess := s.currentSession(c)

	d, err := s.gate.Evaluate(ctx, access.Request{Path: path, Session: sess}, s.backend)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			s.expireSession(c, rec, sourceLookup)
			return nil, s.gate.Decide(access.Request{Path: path, Session: access.Anonymous()}), access.SubscriptionStatus{}
		}
		s.metrics.ObserveLookupError(lookupCompany)
		s.logger.Warn("会社情報の確認に失敗したため会社登録画面へ誘導します",
			zap.String("path", path), zap.String("target", d.Target), zap.Error(err))
		if rec != nil {
			s.record(ctx, rec.ID, event.AggregateTypeCompany, event.TypeCompanyCheckFailed, rec.UserID,
				event.CompanyCheckFailedData{Path: path, Error: err.Error()})
		}
		return rec, d, access.SubscriptionStatus{}
	}

	if rec == nil || d.Action.IsRedirect() || d.Guard == access.GuardAsset {
		return rec, d, access.SubscriptionStatus{}
	}

	sub, err := s.backend.Subscription(ctx, sess.Token)
	switch {
	case errors.Is(err, backend.ErrUnauthorized):
		s.expireSession(c, rec, sourceLookup)
		return nil, s.gate.Decide(access.Request{Path: path, Session: access.Anonymous()}), access.SubscriptionStatus{}
	case err != nil:
		s.metrics.ObserveLookupError(lookupSubscription)
		s.logger.Warn("サブスクリプション状態の取得に失敗しました", zap.String("path", path), zap.Error(err))
		return rec, d, access.SubscriptionStatus{}
	}
	return rec, d, sub
}

// recordRedirect はリダイレクトの監査イベントを記録する。未ログインのリダイレクトは記録しない。
func (s *Server) recordRedirect(c *gin.Context, rec *session.Record, path string, d access.Decision) {
	if rec == nil {
		return
	}
	s.record(c.Request.Context(), rec.ID, event.AggregateTypeSession, event.TypeAccessRedirected, rec.UserID,
		event.AccessRedirectedData{
			Path:   path,
			Action: d.Action.String(),
			Target: d.Target,
			Guard:  d.Guard,
			Reason: d.Reason,
		})
}

// newPageProxy はフロントエンドへのリバースプロキシを生成する。
func (s *Server) newPageProxy(target *url.URL) *httputil.ReverseProxy {
	p := httputil.NewSingleHostReverseProxy(target)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.Error("フロントエンドとの通信に失敗しました", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, gin.H{"error": "フロントエンドとの通信に失敗しました"})
	}
	return p
}
