package access

// minTokenLength はトークンとして受け付ける最小の長さ。
const minTokenLength = 10

// UserProfile はバックエンドのプロフィールAPIが返すユーザー情報。
type UserProfile struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Name はユーザーの表示名。
	Name string `json:"name"`
	// CompanyID は所属する会社のID。会社未登録の場合は空。
	CompanyID string `json:"companyId,omitempty"`
}

// Session はリクエスト時点の認証状態。
type Session struct {
	// Token は認証トークン。未ログインの場合は空。
	Token string
	// IsAuthenticated はトークンが有効な形式かどうか。
	IsAuthenticated bool
	// User はプロフィール取得済みの場合のユーザー情報。
	User *UserProfile
}

// Anonymous は未ログインのセッションを返す。
func Anonymous() Session {
	return Session{}
}

// NewSession はトークンとユーザー情報からセッションを生成する。
// 形式が不正なトークンは未指定と同じ扱いになり、エラーにはならない。
func NewSession(token string, user *UserProfile) Session {
	if !ValidToken(token) {
		return Anonymous()
	}
	return Session{Token: token, IsAuthenticated: true, User: user}
}

// ValidToken はトークンが有効な形式かどうかを返す。
// 空文字、文字列 "undefined"、10文字未満のトークンは無効とする。
// ストレージの破損に対する形式チェックであり、署名の検証は行わない。
func ValidToken(token string) bool {
	if token == "" || token == "undefined" {
		return false
	}
	return len(token) >= minTokenLength
}
