package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/safein/internal/backend"
	"github.com/nao1215/safein/pkg/access"
	"github.com/nao1215/safein/pkg/event"
	"github.com/nao1215/safein/pkg/route"
)

// handleDecision はページ遷移を行わずにアクセス判定の結果だけを返すハンドラを返す。
// フロントエンドがクライアント側の遷移前に問い合わせるために使う。
func (s *Server) handleDecision() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Query("path")
		if !strings.HasPrefix(path, "/") {
			c.JSON(http.StatusBadRequest, gin.H{"error": "pathは / で始まる必要があります"})
			return
		}
		if i := strings.IndexAny(path, "?#"); i >= 0 {
			path = path[:i]
		}

		rec, d, sub := s.decide(c, path)
		cls := s.gate.Routes().Classify(path)

		res := gin.H{
			"path":     path,
			"decision": d,
			"route": gin.H{
				"kind":      cls.Kind.String(),
				"key":       cls.Key,
				"template":  cls.Template,
				"by_prefix": cls.ByPrefix,
			},
			"authenticated": rec != nil,
		}
		if rec != nil && !d.Action.IsRedirect() {
			res["subscription"] = subscriptionJSON(sub)
		}
		c.JSON(http.StatusOK, res)
	}
}

// handleState はログイン中のユーザーの現在の状態を返すハンドラを返す。
// 会社情報の確認に失敗した場合は会社未登録として扱う。
func (s *Server) handleState() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := lookupContext(c)
		rec, sess := s.currentSession(c)
		if rec == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ログインが必要です"})
			return
		}

		var company access.CompanyExistence
		exists, err := s.backend.CompanyExists(ctx, sess)
		checkFailed := err != nil && !errors.Is(err, backend.ErrUnauthorized)
		switch {
		case errors.Is(err, backend.ErrUnauthorized):
			s.expireSession(c, rec, sourceLookup)
			c.JSON(http.StatusUnauthorized, gin.H{"error": msgSessionExpired, "redirect": route.PathLogin})
			return
		case checkFailed:
			s.metrics.ObserveLookupError(lookupCompany)
			s.logger.Warn("会社情報の確認に失敗しました", zap.Error(err))
		default:
			company.Exists = exists
		}

		var sub access.SubscriptionStatus
		if company.Exists {
			st, err := s.backend.Subscription(ctx, sess.Token)
			if err != nil {
				s.metrics.ObserveLookupError(lookupSubscription)
				s.logger.Warn("サブスクリプション状態の取得に失敗しました", zap.Error(err))
			} else {
				sub = st
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"state":                access.StateOf(sess, company, sub),
			"company_exists":       company.Exists,
			"company_check_failed": checkFailed,
			"subscription":         subscriptionJSON(sub),
		})
	}
}

// handleEvents はログイン中のユーザーの監査イベントを新しい順に返すハンドラを返す。
func (s *Server) handleEvents() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "limitが不正です"})
				return
			}
			limit = n
		}

		rec, _ := s.currentSession(c)
		if rec == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ログインが必要です"})
			return
		}
		if s.audit == nil {
			c.JSON(http.StatusOK, gin.H{"events": []*event.Event{}})
			return
		}
		events, err := s.audit.ListByUser(c.Request.Context(), rec.UserID, limit)
		if err != nil {
			s.logger.Error("監査イベントの取得に失敗しました", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"events": events})
	}
}

// record は監査イベントを記録する。記録の失敗はリクエストの失敗にしない。
func (s *Server) record(ctx context.Context, aggregateID string, aggType event.AggregateType, typ event.Type, userID string, data any) {
	if s.audit == nil {
		return
	}
	e, err := event.New(aggregateID, aggType, typ, userID, data)
	if err != nil {
		s.logger.Warn("監査イベントの生成に失敗しました", zap.String("event_type", string(typ)), zap.Error(err))
		return
	}
	if err := s.audit.Append(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("監査イベントの記録に失敗しました", zap.String("event_type", string(typ)), zap.Error(err))
	}
}

func subscriptionJSON(sub access.SubscriptionStatus) gin.H {
	return gin.H{
		"status":              sub.Label(),
		"expiry_warning_days": sub.ExpiryWarningDays,
	}
}
