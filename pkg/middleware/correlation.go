package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nao1215/safein/pkg/httpclient"
)

// CorrelationIDKey は相関IDを格納するGinコンテキストのキー。
const CorrelationIDKey = "correlation_id"

// maxCorrelationIDLen を超える受信値は捨てて採番し直す。
const maxCorrelationIDLen = 128

// Correlation は受信したX-Correlation-Idを引き継ぎ、無ければ採番するGinミドルウェアを返す。
// 相関IDはレスポンスヘッダーにも設定する。
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(httpclient.HeaderCorrelationID)
		if id == "" || len(id) > maxCorrelationIDLen {
			id = uuid.New().String()
		}
		c.Set(CorrelationIDKey, id)
		c.Header(httpclient.HeaderCorrelationID, id)
		c.Next()
	}
}

// GetCorrelationID はGinコンテキストから相関IDを取得する。
func GetCorrelationID(c *gin.Context) string {
	if v, ok := c.Get(CorrelationIDKey); ok {
		if id, ok := v.(string); ok {
			return id
		}
	}
	return ""
}
