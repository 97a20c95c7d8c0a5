package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/safein/internal/audit"
	"github.com/nao1215/safein/internal/backend"
	"github.com/nao1215/safein/internal/config"
	"github.com/nao1215/safein/internal/session"
	"github.com/nao1215/safein/pkg/access"
	"github.com/nao1215/safein/pkg/middleware"
)

// apiPrefix はバックエンドAPIに転送するパスのプレフィックス。
const apiPrefix = "/api/"

// Server はゲートウェイのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg はゲートウェイの設定。
	cfg *config.Config
	// gate はページのアクセス判定を行う。
	gate *access.Gate
	// store はセッションの保存先。
	store session.Store
	// backend はバックエンドAPIへの問い合わせを行う。
	backend *backend.Client
	// audit はアクセス監査イベントの保存先。nilの場合は記録しない。
	audit *audit.Store
	// metrics はPrometheusメトリクス。
	metrics *middleware.Metrics
	// logger は構造化ログの出力先。
	logger *zap.Logger
	// apiProxy はバックエンドAPIへのリバースプロキシ。
	apiProxy *httputil.ReverseProxy
	// pageProxy はフロントエンドへのリバースプロキシ。
	pageProxy *httputil.ReverseProxy
}

// Deps はServerが依存するコンポーネント。
type Deps struct {
	Config  *config.Config
	Gate    *access.Gate
	Store   session.Store
	Backend *backend.Client
	Audit   *audit.Store
	Metrics *middleware.Metrics
	Logger  *zap.Logger
}

// NewServer は新しいゲートウェイサーバーを生成する。
func NewServer(d Deps) (*Server, error) {
	switch {
	case d.Config == nil:
		return nil, errors.New("設定が指定されていません")
	case d.Gate == nil:
		return nil, errors.New("アクセス判定が指定されていません")
	case d.Store == nil:
		return nil, errors.New("セッションの保存先が指定されていません")
	case d.Backend == nil:
		return nil, errors.New("バックエンドのクライアントが指定されていません")
	}
	if d.Metrics == nil {
		d.Metrics = middleware.NewMetrics()
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	backendURL, err := url.Parse(d.Config.Backend.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("バックエンドURLが不正です: %w", err)
	}
	frontendURL, err := url.Parse(d.Config.Frontend.URL)
	if err != nil {
		return nil, fmt.Errorf("フロントエンドURLが不正です: %w", err)
	}

	s := &Server{
		cfg:     d.Config,
		gate:    d.Gate,
		store:   d.Store,
		backend: d.Backend,
		audit:   d.Audit,
		metrics: d.Metrics,
		logger:  d.Logger,
	}
	s.apiProxy = s.newAPIProxy(backendURL)
	s.pageProxy = s.newPageProxy(frontendURL)

	router := gin.New()
	router.Use(middleware.Recovery(s.logger))
	router.Use(middleware.Correlation())
	router.Use(middleware.AccessLog(s.logger, "/health", "/ready", "/metrics"))
	router.Use(s.metrics.Middleware())
	router.Use(middleware.CORS(append([]string{d.Config.Frontend.URL}, d.Config.Server.CORSOrigins...)))
	router.Use(middleware.SessionAuth(d.Config.Session.JWTSecret, d.Config.Session.CookieName))
	s.router = router
	s.setupRoutes()

	return s, nil
}

// Handler はhttp.Serverに渡すハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes はルーティングを設定する。
func (s *Server) setupRoutes() {
	auth := s.router.Group("/auth")
	{
		auth.POST("/login", s.handleLogin())
		auth.POST("/logout", s.handleLogout())
		auth.GET("/me", middleware.RequireSession(), s.handleMe())
		// 開発用トークン発行
		if s.cfg.IsDev() {
			auth.POST("/dev-token", s.handleDevToken())
		}
	}

	// ゲートウェイ自身が応答するAPI。それ以外の /api/ はNoRouteでバックエンドに転送する。
	api := s.router.Group("/api/v1")
	{
		api.GET("/access/decision", s.handleDecision())
		api.GET("/access/state", middleware.RequireSession(), s.handleState())
		api.GET("/events", middleware.RequireSession(), s.handleEvents())
	}

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": s.cfg.App.Name})
	})
	s.router.GET("/ready", s.handleReady())
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	s.router.NoRoute(s.handleFallback())
}

// handleReady はセッションの保存先に到達できる場合のみ200を返すハンドラを返す。
func (s *Server) handleReady() gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			s.logger.Warn("セッションの保存先に到達できません", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "セッションの保存先に到達できません"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// handleFallback はルートに一致しなかったリクエストを、/api/ 以下ならバックエンドへ、
// それ以外ならアクセス判定の後にフロントエンドへ転送するハンドラを返す。
func (s *Server) handleFallback() gin.HandlerFunc {
	page := s.handlePage()
	api := s.handleAPIProxy()
	return func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, apiPrefix) {
			api(c)
			return
		}
		page(c)
	}
}
