package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/safein/internal/backend"
	"github.com/nao1215/safein/internal/session"
	"github.com/nao1215/safein/pkg/access"
	"github.com/nao1215/safein/pkg/event"
	"github.com/nao1215/safein/pkg/httpclient"
	"github.com/nao1215/safein/pkg/middleware"
	"github.com/nao1215/safein/pkg/route"
)

// recordKey はGinコンテキストに解決済みのセッションを保存するキー。
const recordKey = "session_record"

// ログイン方法。
const (
	methodPassword = "password"
	methodDev      = "dev"
)

// 401を検知した箇所。
const (
	sourceProxy  = "proxy"
	sourceLookup = "lookup"
)

// 開発用セッションの既定値。
const (
	devUserID       = "dev-user"
	devEmail        = "dev@localhost"
	devBackendToken = "dev-backend-token"
)

// loginRequest はログインAPIのリクエストボディ。
type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
	// Redirect はログイン後に戻るページ。
	Redirect string `json:"redirect"`
}

// devTokenRequest は開発用トークン発行APIのリクエストボディ。すべて省略できる。
type devTokenRequest struct {
	UserID       string `json:"user_id"`
	Email        string `json:"email"`
	CompanyID    string `json:"company_id"`
	BackendToken string `json:"backend_token"`
}

// handleLogin はバックエンドで認証し、セッションを開始するハンドラを返す。
func (s *Server) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "メールアドレスとパスワードを入力してください"})
			return
		}

		res, err := s.backend.Login(lookupContext(c), req.Email, req.Password)
		if errors.Is(err, backend.ErrUnauthorized) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "メールアドレスまたはパスワードが正しくありません"})
			return
		}
		if err != nil {
			s.logger.Error("ログインに失敗しました", zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"error": "バックエンドとの通信に失敗しました"})
			return
		}

		rec := &session.Record{
			UserID:       res.User.ID,
			Email:        res.User.Email,
			Name:         res.User.Name,
			CompanyID:    res.User.CompanyID,
			BackendToken: res.Token,
		}
		token, err := s.startSession(c, rec, methodPassword)
		if err != nil {
			s.logger.Error("セッションの開始に失敗しました", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "セッションの開始に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":    token,
			"user":     res.User,
			"redirect": safeRedirect(req.Redirect, route.PathDashboard),
		})
	}
}

// handleLogout はセッションを破棄するハンドラを返す。セッションが無い場合も成功する。
func (s *Server) handleLogout() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if rec, _ := s.currentSession(c); rec != nil {
			s.dropSession(ctx, rec)
			s.record(ctx, rec.ID, event.AggregateTypeSession, event.TypeSessionEnded, rec.UserID,
				event.SessionEndedData{Reason: "logout"})
		}
		s.clearCookie(c)
		c.JSON(http.StatusOK, gin.H{"redirect": route.PathLogin})
	}
}

// handleDevToken は開発用のセッションを発行するハンドラを返す。
// 開発環境でのみルーティングされる。
func (s *Server) handleDevToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストの形式が不正です"})
				return
			}
		}

		rec := &session.Record{
			UserID:       orDefault(req.UserID, devUserID),
			Email:        orDefault(req.Email, devEmail),
			Name:         "開発ユーザー",
			CompanyID:    req.CompanyID,
			BackendToken: orDefault(req.BackendToken, devBackendToken),
		}
		token, err := s.startSession(c, rec, methodDev)
		if err != nil {
			s.logger.Error("開発用セッションの発行に失敗しました", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"token":      token,
			"user_id":    rec.UserID,
			"session_id": rec.ID,
		})
	}
}

// handleMe はログイン中のユーザー情報を返すハンドラを返す。
// バックエンドから最新のプロフィールを取得し、会社IDが変わっていればセッションに反映する。
func (s *Server) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := lookupContext(c)
		rec, _ := s.currentSession(c)
		if rec == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ログインが必要です"})
			return
		}

		profile, err := s.backend.Profile(ctx, rec.BackendToken)
		switch {
		case errors.Is(err, backend.ErrUnauthorized):
			s.expireSession(c, rec, sourceLookup)
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgSessionExpired, "redirect": route.PathLogin})
			return
		case err != nil:
			s.metrics.ObserveLookupError(lookupProfile)
			s.logger.Warn("プロフィールの取得に失敗したため保存済みの情報を返します", zap.Error(err))
		case profile.CompanyID != rec.CompanyID:
			updated := *rec
			updated.CompanyID = profile.CompanyID
			if profile.Name != "" {
				updated.Name = profile.Name
			}
			if err := s.store.Set(ctx, &updated); err != nil {
				s.logger.Warn("セッションの更新に失敗しました", zap.Error(err))
			} else {
				rec = &updated
				_ = s.backend.Invalidate(ctx, rec.BackendToken)
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"id":                 rec.UserID,
			"email":              rec.Email,
			"name":               rec.Name,
			"company_id":         rec.CompanyID,
			"session_expires_at": rec.ExpiresAt,
		})
	}
}

// startSession はセッションを保存し、署名したセッショントークンをCookieに設定する。
// recのIDと日時はここで設定する。
func (s *Server) startSession(c *gin.Context, rec *session.Record, method string) (string, error) {
	ttl := s.cfg.SessionTTL()
	now := time.Now()
	rec.ID = uuid.NewString()
	rec.CreatedAt = now
	rec.ExpiresAt = now.Add(ttl)

	token, err := middleware.GenerateSessionToken(s.cfg.Session.JWTSecret, rec.ID, rec.UserID, rec.Email, ttl)
	if err != nil {
		return "", err
	}
	if err := s.store.Set(c.Request.Context(), rec); err != nil {
		return "", err
	}

	http.SetCookie(c.Writer, s.sessionCookie(token, int(ttl.Seconds())))
	s.record(c.Request.Context(), rec.ID, event.AggregateTypeSession, event.TypeSessionStarted, rec.UserID,
		event.SessionStartedData{Email: rec.Email, Method: method})
	s.logger.Info("セッションを開始しました", zap.String("user_id", rec.UserID), zap.String("method", method))
	return token, nil
}

// currentSession はリクエストのセッションを解決する。
// Cookieが無い、署名が不正、保存先にレコードが無いいずれの場合も未ログインとして扱う。
func (s *Server) currentSession(c *gin.Context) (*session.Record, access.Session) {
	if v, ok := c.Get(recordKey); ok {
		if rec, ok := v.(*session.Record); ok && rec != nil {
			return rec, rec.Session()
		}
		return nil, access.Anonymous()
	}

	claims, ok := middleware.GetClaims(c)
	if !ok {
		return nil, access.Anonymous()
	}

	rec, err := s.store.Get(c.Request.Context(), claims.SessionID())
	switch {
	case errors.Is(err, session.ErrNotFound):
		s.clearCookie(c)
		rec = nil
	case err != nil:
		s.logger.Warn("セッションの取得に失敗しました", zap.Error(err))
		rec = nil
	case rec.UserID != claims.UserID:
		s.logger.Warn("セッションとトークンのユーザーが一致しません", zap.String("session_id", rec.ID))
		rec = nil
	}
	c.Set(recordKey, rec)
	if rec == nil {
		return nil, access.Anonymous()
	}
	return rec, rec.Session()
}

// expireSession はバックエンドが401を返したセッションを破棄し、Cookieを削除する。
func (s *Server) expireSession(c *gin.Context, rec *session.Record, source string) {
	s.expireRecord(c.Request.Context(), rec, source, c.Request.URL.Path)
	s.clearCookie(c)
	c.Set(recordKey, (*session.Record)(nil))
}

// expireRecord はセッションのレコードとキャッシュを破棄し、監査イベントを記録する。
func (s *Server) expireRecord(ctx context.Context, rec *session.Record, source, path string) {
	if rec == nil {
		return
	}
	s.dropSession(ctx, rec)
	s.record(ctx, rec.ID, event.AggregateTypeSession, event.TypeSessionExpired, rec.UserID,
		event.SessionExpiredData{Source: source, Path: path})
	s.logger.Info("セッションの有効期限切れを検知しました",
		zap.String("user_id", rec.UserID), zap.String("source", source), zap.String("path", path))
}

// dropSession はセッションのレコードと問い合わせ結果のキャッシュを削除する。
func (s *Server) dropSession(ctx context.Context, rec *session.Record) {
	if err := s.store.Clear(ctx, rec.ID); err != nil {
		s.logger.Warn("セッションの削除に失敗しました", zap.Error(err))
	}
	if err := s.backend.Invalidate(ctx, rec.BackendToken); err != nil {
		s.logger.Warn("キャッシュの削除に失敗しました", zap.Error(err))
	}
}

// sessionCookie はセッションCookieを組み立てる。maxAgeが負の場合は削除用になる。
func (s *Server) sessionCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     s.cfg.Session.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   !s.cfg.IsDev(),
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Server) clearCookie(c *gin.Context) {
	http.SetCookie(c.Writer, s.sessionCookie("", -1))
}

// safeRedirect は同一オリジン内のパスのみを許可し、それ以外はfallbackを返す。
func safeRedirect(p, fallback string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.ContainsAny(p, "\\\r\n") {
		return fallback
	}
	return p
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// lookupContext はバックエンドへの問い合わせ用に、リクエストの相関IDを引き継いだcontextを返す。
func lookupContext(c *gin.Context) context.Context {
	return httpclient.WithCorrelationID(c.Request.Context(), middleware.GetCorrelationID(c))
}
