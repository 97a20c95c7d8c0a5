package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/safein/pkg/httpclient"
)

// CORS は指定されたオリジンからのクロスオリジンリクエストを許可するGinミドルウェアを返す。
// セッションCookieを送れるよう、許可したオリジンには資格情報の送信も許可する。
func CORS(allowedOrigins []string) gin.HandlerFunc {
	originsSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originsSet[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if _, ok := originsSet[origin]; ok {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, "+httpclient.HeaderCorrelationID)
			c.Header("Access-Control-Expose-Headers", exposedHeaders)
			c.Header("Access-Control-Max-Age", "86400")
			c.Header("Vary", "Origin")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// exposedHeaders はフロントエンドが読み取るレスポンスヘッダー。
const exposedHeaders = httpclient.HeaderCorrelationID + ", X-Safein-Session-Expired, X-Safein-Silent, X-Safein-Subscription, X-Safein-Expiry-Warning-Days"
