package access

import (
	"math"
	"time"
)

// DefaultExpiryWarningDays は有効期限の警告を出し始める残り日数の既定値。
const DefaultExpiryWarningDays = 7

// SubscriptionRecord はバックエンドのサブスクリプション状態APIのレスポンス。
type SubscriptionRecord struct {
	// HasActiveSubscription は有効なサブスクリプションを持つかどうか。
	HasActiveSubscription bool `json:"hasActiveSubscription"`
	// IsTrialing はトライアル期間中かどうか。
	IsTrialing bool `json:"isTrialing"`
	// IsExpired は期限切れかどうか。
	IsExpired bool `json:"isExpired"`
	// ExpiryDate は有効期限。未契約の場合はnil。
	ExpiryDate *time.Time `json:"expiryDate,omitempty"`
}

// SubscriptionStatus はアプリ内の認可に使うサブスクリプション状態。
// 認証（Session）とは独立して取得される。
type SubscriptionStatus struct {
	// HasActiveSubscription は有効なサブスクリプションを持つかどうか。
	HasActiveSubscription bool
	// IsTrialing はトライアル期間中かどうか。
	IsTrialing bool
	// IsExpired は期限切れかどうか。
	IsExpired bool
	// ExpiryWarningDays は有効期限までの残り日数。警告期間外の場合はnil。
	ExpiryWarningDays *int
}

// DeriveSubscription はバックエンドのレコードから状態を導出する。
// 有効期限がnowからwarnWithin日以内の場合にExpiryWarningDaysを設定する。
// 有効期限を過ぎている場合はレコードの値にかかわらず期限切れとして扱う。
func DeriveSubscription(rec SubscriptionRecord, now time.Time, warnWithin int) SubscriptionStatus {
	st := SubscriptionStatus{
		HasActiveSubscription: rec.HasActiveSubscription,
		IsTrialing:            rec.IsTrialing,
		IsExpired:             rec.IsExpired,
	}
	if rec.ExpiryDate == nil {
		return st
	}

	remaining := rec.ExpiryDate.Sub(now)
	if remaining <= 0 {
		st.IsExpired = true
		st.HasActiveSubscription = false
		st.IsTrialing = false
		return st
	}

	days := int(math.Ceil(remaining.Hours() / 24))
	if days <= warnWithin {
		st.ExpiryWarningDays = &days
	}
	return st
}

// Label はサブスクリプション状態を表す短い文字列を返す。
// レスポンスヘッダーやメトリクスのラベルに使用する。
func (s SubscriptionStatus) Label() string {
	switch {
	case s.IsExpired:
		return "expired"
	case s.IsTrialing:
		return "trialing"
	case s.HasActiveSubscription:
		return "active"
	default:
		return "none"
	}
}

// CompanyExistence は会社情報が登録済みかどうか。
type CompanyExistence struct {
	// Exists は会社情報が登録済みかどうか。
	Exists bool
}
