package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultSessionTTL はセッショントークンの既定の有効期間（7日）。
const DefaultSessionTTL = 7 * 24 * time.Hour

// sessionIssuer はgatewayが発行するトークンのiss。
const sessionIssuer = "safein-gateway"

// ClaimsKey は検証済みのSessionClaimsを格納するGinコンテキストのキー。
const ClaimsKey = "session_claims"

// ErrInvalidToken はトークンの署名・形式・有効期限のいずれかが不正であることを表す。
var ErrInvalidToken = errors.New("トークンが無効です")

// SessionClaims はセッションCookieに格納するJWTのクレーム。
// jti（RegisteredClaims.ID）がサーバー側のセッションレコードのキーになる。
type SessionClaims struct {
	jwt.RegisteredClaims
	// UserID は認証済みユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
}

// SessionID はセッションレコードのキーを返す。
func (c *SessionClaims) SessionID() string {
	return c.ID
}

// GenerateSessionToken はセッションIDとユーザー情報からHS256で署名したトークンを生成する。
// ttlが0以下の場合はDefaultSessionTTLを使う。
func GenerateSessionToken(secret, sessionID, userID, email string, ttl time.Duration) (string, error) {
	if sessionID == "" {
		return "", errors.New("セッションIDが空です")
	}
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	now := time.Now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    sessionIssuer,
		},
		UserID: userID,
		Email:  email,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("セッショントークンの署名に失敗: %w", err)
	}
	return signed, nil
}

// ParseSessionToken はトークンの署名と有効期限を検証してクレームを返す。
// HS256以外のアルゴリズムやjtiのないトークンはErrInvalidTokenになる。
func ParseSessionToken(secret, tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid || claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// TokenFromRequest はCookie、次にAuthorizationヘッダーのBearerトークンの順に生トークンを取り出す。
func TokenFromRequest(c *gin.Context, cookieName string) string {
	if v, err := c.Cookie(cookieName); err == nil && v != "" {
		return v
	}
	if v, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// SessionAuth はセッショントークンを検証するGinミドルウェアを返す。
// 未ログインのリクエストも通過させ、検証に成功した場合のみコンテキストにクレームを設定する。
// ページのアクセス判定は未ログインでも行う必要があるため、ここでは拒否しない。
func SessionAuth(secret, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := TokenFromRequest(c, cookieName)
		if raw == "" {
			c.Next()
			return
		}
		claims, err := ParseSessionToken(secret, raw)
		if err == nil {
			c.Set(ClaimsKey, claims)
		}
		c.Next()
	}
}

// RequireSession はSessionAuthでクレームが設定されていないリクエストを401で拒否する。
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := GetClaims(c); !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "ログインが必要です",
			})
			return
		}
		c.Next()
	}
}

// GetClaims はGinコンテキストから検証済みのクレームを取得する。
func GetClaims(c *gin.Context) (*SessionClaims, bool) {
	v, ok := c.Get(ClaimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*SessionClaims)
	return claims, ok
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// SessionAuthミドルウェアが事前に適用されている必要がある。
func GetUserID(c *gin.Context) string {
	if claims, ok := GetClaims(c); ok {
		return claims.UserID
	}
	return ""
}
