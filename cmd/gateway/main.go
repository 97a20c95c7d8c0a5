// SafeInゲートウェイのエントリポイント。
// ページ遷移のアクセス判定、ログインセッションの管理、バックエンドAPIへのプロキシを担当する。
// ブラウザからアクセス可能な唯一のサービスであり、認証の境界線となる。
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nao1215/safein/internal/audit"
	"github.com/nao1215/safein/internal/backend"
	"github.com/nao1215/safein/internal/config"
	"github.com/nao1215/safein/internal/database"
	"github.com/nao1215/safein/internal/gateway"
	"github.com/nao1215/safein/internal/session"
	"github.com/nao1215/safein/pkg/access"
	"github.com/nao1215/safein/pkg/httpclient"
	"github.com/nao1215/safein/pkg/middleware"
)

// purgeInterval はSQLiteの期限切れセッションを削除する間隔。
const purgeInterval = time.Hour

// backendIdleConns はバックエンドへの問い合わせで保持するアイドル接続数の上限。
// ページ遷移ごとに同じホストへ問い合わせるため、net/httpの既定値(2)より多く保持する。
const backendIdleConns = 64

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Gatewayサービスの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"), os.Getenv("ENV_CONFIG_PATH"))
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.Open(ctx, database.DSN(cfg.Database.Path), logger)
	if err != nil {
		return err
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("起動時にRedisへ接続できません", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
	}

	store, err := newSessionStore(ctx, cfg, db, rdb, logger)
	if err != nil {
		return err
	}

	opts, err := cfg.GateOptions()
	if err != nil {
		return err
	}
	gate, err := access.New(opts)
	if err != nil {
		return fmt.Errorf("アクセス判定の初期化に失敗: %w", err)
	}

	backendTimeout := config.ParseDuration(cfg.Backend.Timeout, httpclient.DefaultTimeout)
	client := backend.New(
		httpclient.New(cfg.Backend.BaseURL,
			httpclient.WithHTTPClient(&http.Client{Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        backendIdleConns,
				MaxIdleConnsPerHost: backendIdleConns,
				IdleConnTimeout:     90 * time.Second,
			}}),
			httpclient.WithTimeout(backendTimeout),
		),
		backend.WithCache(newCache(cfg, rdb), config.ParseDuration(cfg.Backend.CacheTTL, backend.DefaultCacheTTL)),
		backend.WithLookupTimeout(backendTimeout),
		backend.WithExpiryWarningDays(cfg.Gate.ExpiryWarningDays),
		backend.WithLogger(logger),
	)

	if !cfg.IsDev() {
		gin.SetMode(gin.ReleaseMode)
	}
	server, err := gateway.NewServer(gateway.Deps{
		Config:  cfg,
		Gate:    gate,
		Store:   store,
		Backend: client,
		Audit:   audit.NewStore(db),
		Metrics: middleware.NewMetrics(),
		Logger:  logger,
	})
	if err != nil {
		return fmt.Errorf("Gatewayサーバーの初期化に失敗: %w", err)
	}

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       config.ParseDuration(cfg.Server.ReadTimeout, 10*time.Second),
		WriteTimeout:      config.ParseDuration(cfg.Server.WriteTimeout, 30*time.Second),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Gatewayサービスを起動します",
			zap.Int("port", cfg.Server.Port),
			zap.String("environment", cfg.App.Environment),
			zap.String("session_store", cfg.Session.Store),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("HTTPサーバーが停止しました: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Gatewayサービスを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ParseDuration(cfg.Server.ShutdownTimeout, 15*time.Second))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// newLogger は設定のログレベルでzapのロガーを生成する。開発環境では人が読みやすい形式で出力する。
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.IsDev() {
		zc = zap.NewDevelopmentConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	zc.Level = level
	logger, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", cfg.App.Name)), nil
}

// newSessionStore は設定に応じたセッションの保存先を生成する。
func newSessionStore(ctx context.Context, cfg *config.Config, db *sql.DB, rdb *redis.Client, logger *zap.Logger) (session.Store, error) {
	switch cfg.Session.Store {
	case "redis":
		if rdb == nil {
			return nil, errors.New("Redisの接続先が設定されていません")
		}
		return session.NewRedisStore(rdb, session.DefaultRedisPrefix), nil
	case "sqlite":
		store := session.NewSQLStore(db)
		go purgeLoop(ctx, store, logger)
		return store, nil
	default:
		return session.NewMemoryStore(), nil
	}
}

// newCache は設定に応じた問い合わせ結果のキャッシュを生成する。
func newCache(cfg *config.Config, rdb *redis.Client) backend.Cache {
	if cfg.Backend.Cache == "redis" && rdb != nil {
		return backend.NewRedisCache(rdb, backend.DefaultCachePrefix)
	}
	return backend.NewMemoryCache()
}

// purgeLoop は期限切れのセッションを定期的に削除する。
func purgeLoop(ctx context.Context, store *session.SQLStore, logger *zap.Logger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := store.Purge(ctx)
			if err != nil {
				logger.Warn("期限切れセッションの削除に失敗しました", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("期限切れセッションを削除しました", zap.Int64("count", n))
			}
		}
	}
}
