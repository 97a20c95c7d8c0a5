// Package config はgatewayの設定を読み込む。
//
// 既定値の上にYAMLの基本設定、環境別の上書き設定、環境変数の順で重ね、
// 最後にバリデーションを行う。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nao1215/safein/pkg/access"
	"github.com/nao1215/safein/pkg/route"
)

// 環境名。
const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

// DefaultCookieName はセッションCookieの既定の名前。
const DefaultCookieName = "safein_auth_token"

// devSecret は開発環境でのみ使うJWT署名鍵。
const devSecret = "dev-secret-key-do-not-use-in-prod"

// Config はgatewayの設定。
type Config struct {
	App      AppConfig      `yaml:"app"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Session  SessionConfig  `yaml:"session"`
	Backend  BackendConfig  `yaml:"backend"`
	Frontend FrontendConfig `yaml:"frontend"`
	Redis    RedisConfig    `yaml:"redis"`
	Database DatabaseConfig `yaml:"database"`
	Gate     GateConfig     `yaml:"gate"`
	Routes   RoutesConfig   `yaml:"routes"`
}

// AppConfig はサービスの識別情報。
type AppConfig struct {
	Name        string `yaml:"name" validate:"required"`
	Environment string `yaml:"environment" validate:"oneof=dev staging prod"`
}

// ServerConfig はHTTPサーバーの設定。
type ServerConfig struct {
	Port            int      `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     string   `yaml:"read_timeout"`
	WriteTimeout    string   `yaml:"write_timeout"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
	CORSOrigins     []string `yaml:"cors_origins" validate:"dive,url"`
}

// LogConfig はログの設定。
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// SessionConfig はセッションの設定。
type SessionConfig struct {
	// Store はセッションの保存先（memory, redis, sqlite）。
	Store      string `yaml:"store" validate:"oneof=memory redis sqlite"`
	CookieName string `yaml:"cookie_name" validate:"required"`
	TTL        string `yaml:"ttl"`
	JWTSecret  string `yaml:"jwt_secret" validate:"required,min=16"`
}

// BackendConfig はREST APIバックエンドの設定。
type BackendConfig struct {
	BaseURL  string `yaml:"base_url" validate:"required,url"`
	Timeout  string `yaml:"timeout"`
	CacheTTL string `yaml:"cache_ttl"`
	// Cache は問い合わせ結果のキャッシュ先（memory, redis）。
	Cache string `yaml:"cache" validate:"oneof=memory redis"`
	// SilentPrefixes は失敗してもトースト表示を抑止する二次的なAPIのパスプレフィックス。
	SilentPrefixes []string `yaml:"silent_prefixes"`
	// InvalidatePrefixes は更新系のリクエストが成功したら問い合わせ結果のキャッシュを破棄するAPIのパスプレフィックス。
	InvalidatePrefixes []string `yaml:"invalidate_prefixes"`
}

// FrontendConfig はフロントエンドの設定。
type FrontendConfig struct {
	URL string `yaml:"url" validate:"required,url"`
}

// RedisConfig はRedisの接続設定。
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"min=0"`
}

// DatabaseConfig はSQLiteの設定。
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// GateConfig はアクセス判定の設定。空の項目は既定値を使う。
type GateConfig struct {
	Undeclared            string   `yaml:"undeclared" validate:"omitempty,oneof=closed open"`
	Assets                []string `yaml:"assets"`
	AlwaysAllowed         []string `yaml:"always_allowed"`
	PublicActions         []string `yaml:"public_actions"`
	SubscriptionCallbacks []string `yaml:"subscription_callbacks"`
	ExpiryWarningDays     int      `yaml:"expiry_warning_days" validate:"min=0"`
}

// RoutesConfig はルートテーブル。両方とも空の場合は既定のテーブルを使う。
type RoutesConfig struct {
	Public  map[string]string `yaml:"public"`
	Private map[string]string `yaml:"private"`
}

// Default は既定の設定を返す。
func Default() *Config {
	return &Config{
		App:    AppConfig{Name: "safein-gateway", Environment: EnvDev},
		Server: ServerConfig{Port: 8080, ReadTimeout: "10s", WriteTimeout: "30s", ShutdownTimeout: "15s"},
		Log:    LogConfig{Level: "info"},
		Session: SessionConfig{
			Store:      "memory",
			CookieName: DefaultCookieName,
			TTL:        "168h",
		},
		Backend: BackendConfig{
			BaseURL:            "http://localhost:4000",
			Timeout:            "10s",
			CacheTTL:           "30s",
			Cache:              "memory",
			SilentPrefixes:     []string{"/api/stats", "/api/trash"},
			InvalidatePrefixes: []string{"/api/companies", "/api/subscriptions"},
		},
		Frontend: FrontendConfig{URL: "http://localhost:3000"},
		Database: DatabaseConfig{Path: "/data/safein.db"},
		Gate:     GateConfig{Undeclared: "closed", ExpiryWarningDays: access.DefaultExpiryWarningDays},
	}
}

// Load は既定値にbasePathのYAMLとenvPathの上書き設定を重ね、環境変数を適用して検証する。
// basePathが空の場合は既定値と環境変数のみを使う。
func Load(basePath string, envPath ...string) (*Config, error) {
	cfg, err := Read(basePath, envPath...)
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if cfg.Session.JWTSecret == "" && cfg.App.Environment == EnvDev {
		cfg.Session.JWTSecret = devSecret
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read は既定値にYAMLファイルを重ねた設定を返す。環境変数の適用と検証は行わない。
// ルートテーブルだけを参照するCLIが使う。
func Read(basePath string, envPath ...string) (*Config, error) {
	cfg := Default()

	if basePath != "" {
		if err := mergeFile(cfg, basePath); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}
	if len(envPath) > 0 && envPath[0] != "" {
		if err := mergeFile(cfg, envPath[0]); err != nil {
			return nil, fmt.Errorf("環境別設定の読み込みに失敗: %w", err)
		}
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%s の解析に失敗: %w", path, err)
	}
	return nil
}

// ApplyEnv は環境変数で設定を上書きする。lookupにはos.LookupEnvを渡す。
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"SAFEIN_ENV":    &c.App.Environment,
		"LOG_LEVEL":     &c.Log.Level,
		"JWT_SECRET":    &c.Session.JWTSecret,
		"SESSION_STORE": &c.Session.Store,
		"BACKEND_URL":   &c.Backend.BaseURL,
		"FRONTEND_URL":  &c.Frontend.URL,
		"REDIS_ADDR":    &c.Redis.Addr,
		"DATABASE_PATH": &c.Database.Path,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("環境変数PORTが不正です: %q", v)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate は設定値を検証する。
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("設定の検証に失敗: %w", err)
	}
	if (c.Session.Store == "redis" || c.Backend.Cache == "redis") && c.Redis.Addr == "" {
		return errors.New("設定の検証に失敗: Redisを使う場合は redis.addr が必須です")
	}
	if c.Session.Store == "sqlite" && c.Database.Path == "" {
		return errors.New("設定の検証に失敗: SQLiteを使う場合は database.path が必須です")
	}
	if c.App.Environment != EnvDev && c.Session.JWTSecret == devSecret {
		return errors.New("設定の検証に失敗: 開発用のJWT署名鍵は開発環境以外で使用できません")
	}
	return nil
}

// IsDev は開発環境かどうかを返す。
func (c *Config) IsDev() bool {
	return c.App.Environment == EnvDev
}

// SessionTTL はセッションの有効期間を返す。
func (c *Config) SessionTTL() time.Duration {
	return ParseDuration(c.Session.TTL, 7*24*time.Hour)
}

// GateOptions はアクセス判定の設定を組み立てる。
func (c *Config) GateOptions() (access.Options, error) {
	opts := access.DefaultOptions()

	if len(c.Routes.Public) > 0 || len(c.Routes.Private) > 0 {
		table, err := route.NewTable(c.Routes.Public, c.Routes.Private)
		if err != nil {
			return access.Options{}, fmt.Errorf("ルートテーブルの構築に失敗: %w", err)
		}
		opts.Routes = table
	}

	policy, err := access.ParseUndeclaredPolicy(c.Gate.Undeclared)
	if err != nil {
		return access.Options{}, err
	}
	opts.Undeclared = policy

	if len(c.Gate.Assets) > 0 {
		opts.Assets = c.Gate.Assets
	}
	if len(c.Gate.AlwaysAllowed) > 0 {
		opts.AlwaysAllowed = c.Gate.AlwaysAllowed
	}
	if len(c.Gate.PublicActions) > 0 {
		opts.PublicActions = c.Gate.PublicActions
	}
	if len(c.Gate.SubscriptionCallbacks) > 0 {
		opts.SubscriptionCallbacks = c.Gate.SubscriptionCallbacks
	}
	return opts, nil
}

// ParseDuration は期間を表す文字列を解析する。空文字や不正な値の場合はfallbackを返す。
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
