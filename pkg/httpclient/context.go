package httpclient

import (
	"context"
	"net/http"
)

// contextKey はコンテキストキーの型。
type contextKey string

const (
	// contextKeyToken はコンテキストに認証トークンを格納するためのキー。
	contextKeyToken contextKey = "token"
	// contextKeyCorrelationID はコンテキストに相関IDを格納するためのキー。
	contextKeyCorrelationID contextKey = "correlation_id"
)

// HeaderCorrelationID は相関IDを伝播するHTTPヘッダー名。
const HeaderCorrelationID = "X-Correlation-Id"

// WithToken はコンテキストにバックエンドの認証トークンを設定する。
// 設定したトークンはAuthorizationヘッダーにBearer形式で付与される。
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, contextKeyToken, token)
}

// WithCorrelationID はコンテキストに相関IDを設定する。
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyCorrelationID, id)
}

// applyContextHeaders はリクエストのコンテキストに格納された値をヘッダーへ反映する。
// 呼び出し側が明示的に設定したヘッダーは上書きしない。
func applyContextHeaders(req *http.Request) {
	ctx := req.Context()
	if token, ok := ctx.Value(contextKeyToken).(string); ok && token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id, ok := ctx.Value(contextKeyCorrelationID).(string); ok && id != "" && req.Header.Get(HeaderCorrelationID) == "" {
		req.Header.Set(HeaderCorrelationID, id)
	}
}
