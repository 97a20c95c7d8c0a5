package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetrics はMetricsを検証する。
func TestMetrics(t *testing.T) {
	t.Parallel()

	t.Run("ルートごとにリクエスト数が記録されること", func(t *testing.T) {
		t.Parallel()

		m := NewMetrics()
		router := gin.New()
		router.Use(m.Middleware())
		router.GET("/api/v1/access/decision", func(c *gin.Context) { c.Status(http.StatusOK) })
		router.NoRoute(func(c *gin.Context) { c.Status(http.StatusTemporaryRedirect) })

		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/access/decision", nil))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/visitor/list", nil))
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/employee/list", nil))

		if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/v1/access/decision", "200")); got != 1 {
			t.Errorf("decision = %v, want 1", got)
		}
		if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "unmatched", "307")); got != 2 {
			t.Errorf("unmatched = %v, want 2", got)
		}
	})

	t.Run("判定結果と問い合わせ失敗が記録されること", func(t *testing.T) {
		t.Parallel()

		m := NewMetrics()
		m.ObserveDecision("redirect_login", "anonymous_private")
		m.ObserveDecision("redirect_login", "anonymous_private")
		m.ObserveLookupError("company")

		if got := testutil.ToFloat64(m.Decisions.WithLabelValues("redirect_login", "anonymous_private")); got != 2 {
			t.Errorf("decisions = %v, want 2", got)
		}
		if got := testutil.ToFloat64(m.LookupErrors.WithLabelValues("company")); got != 1 {
			t.Errorf("lookup errors = %v, want 1", got)
		}
	})

	t.Run("Handlerが専用レジストリの内容を出力すること", func(t *testing.T) {
		t.Parallel()

		m := NewMetrics()
		m.ObserveDecision("allow", "default")

		ts := httptest.NewServer(m.Handler())
		defer ts.Close()

		resp, err := http.Get(ts.URL)
		if err != nil {
			t.Fatalf("メトリクスの取得に失敗: %v", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		if !strings.Contains(string(body), `safein_access_decisions_total{action="allow",guard="default"} 1`) {
			t.Errorf("出力に判定メトリクスが含まれていない:\n%s", body)
		}
	})
}
