package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/safein/internal/config"
	"github.com/nao1215/safein/internal/session"
	"github.com/nao1215/safein/pkg/httpclient"
	"github.com/nao1215/safein/pkg/middleware"
	"github.com/nao1215/safein/pkg/route"
)

// プロキシのレスポンスに付けるヘッダー。
const (
	// HeaderSessionExpired はバックエンドの401によりセッションを破棄したことを表す。
	HeaderSessionExpired = "X-Safein-Session-Expired"
	// HeaderSilent はフロントエンドにエラー通知を抑止させる。
	HeaderSilent = "X-Safein-Silent"
)

const msgSessionExpired = "セッションの有効期限が切れました"

// proxyStateKey はプロキシ中のリクエストの状態をcontextに保存するキー。
type proxyStateKey struct{}

// proxyState はModifyResponseで参照するリクエスト時点の情報。
type proxyState struct {
	// path はプレフィックスを取り除く前のリクエストパス。
	path string
	// rec はリクエストのセッション。未ログインの場合はnil。
	rec *session.Record
}

// handleAPIProxy は /api/ 以下のリクエストをバックエンドに転送するハンドラを返す。
// セッションのバックエンドトークンをAuthorizationヘッダーに付け、Cookieは転送しない。
func (s *Server) handleAPIProxy() gin.HandlerFunc {
	return func(c *gin.Context) {
		rec, sess := s.currentSession(c)
		path := c.Request.URL.Path

		ctx := context.WithValue(c.Request.Context(), proxyStateKey{}, &proxyState{path: path, rec: rec})
		req := c.Request.Clone(ctx)
		req.URL.Path = strings.TrimPrefix(path, "/api")
		req.URL.RawPath = ""
		req.Header.Del("Cookie")
		req.Header.Del("Authorization")
		if sess.IsAuthenticated {
			req.Header.Set("Authorization", "Bearer "+sess.Token)
		}
		if cid := middleware.GetCorrelationID(c); cid != "" {
			req.Header.Set(httpclient.HeaderCorrelationID, cid)
		}

		s.apiProxy.ServeHTTP(c.Writer, req)
	}
}

// newAPIProxy はバックエンドへのリバースプロキシを生成する。
func (s *Server) newAPIProxy(target *url.URL) *httputil.ReverseProxy {
	p := httputil.NewSingleHostReverseProxy(target)
	p.Transport = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: config.ParseDuration(s.cfg.Backend.Timeout, 0),
	}
	p.ModifyResponse = s.modifyAPIResponse
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.logger.Error("バックエンドとの通信に失敗しました", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, gin.H{"error": "バックエンドとの通信に失敗しました"})
	}
	return p
}

// modifyAPIResponse はバックエンドの401をセッション切れの応答に置き換え、
// 二次的なAPIの404と5xxにはエラー通知を抑止するヘッダーを付ける。
// 会社情報やサブスクリプションを更新するAPIが成功した場合は、問い合わせ結果のキャッシュを破棄する。
func (s *Server) modifyAPIResponse(resp *http.Response) error {
	st, _ := resp.Request.Context().Value(proxyStateKey{}).(*proxyState)
	if st == nil {
		return nil
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		s.expireRecord(context.WithoutCancel(resp.Request.Context()), st.rec, sourceProxy, st.path)
		return s.rewriteUnauthorized(resp)
	case (resp.StatusCode == http.StatusNotFound || resp.StatusCode >= http.StatusInternalServerError) && hasPathPrefix(st.path, s.cfg.Backend.SilentPrefixes):
		resp.Header.Set(HeaderSilent, "1")
	case st.rec != nil && isWrite(resp.Request.Method) && resp.StatusCode >= 200 && resp.StatusCode < 300 &&
		hasPathPrefix(st.path, s.cfg.Backend.InvalidatePrefixes):
		if err := s.backend.Invalidate(context.WithoutCancel(resp.Request.Context()), st.rec.BackendToken); err != nil {
			s.logger.Warn("問い合わせ結果のキャッシュの破棄に失敗しました", zap.String("path", st.path), zap.Error(err))
		}
	}
	return nil
}

// isWrite はmethodが更新系のHTTPメソッドかを返す。
func isWrite(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

// rewriteUnauthorized はレスポンスをログインへの誘導に置き換え、セッションCookieを削除する。
func (s *Server) rewriteUnauthorized(resp *http.Response) error {
	body, err := json.Marshal(gin.H{"error": msgSessionExpired, "redirect": route.PathLogin})
	if err != nil {
		return err
	}
	_ = resp.Body.Close()

	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Del("Content-Encoding")
	resp.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Header.Set(HeaderSessionExpired, "1")
	resp.Header.Add("Set-Cookie", s.sessionCookie("", -1).String())
	return nil
}

// hasPathPrefix はpathがprefixesのいずれかと一致するか、その配下にあるかを返す。
func hasPathPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, strings.TrimSuffix(p, "/")+"/") {
			return true
		}
	}
	return false
}

// writeJSON はGinコンテキストの外でJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
