package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeSession はログインセッションを表す。
	AggregateTypeSession AggregateType = "Session"
	// AggregateTypeCompany はユーザーの所属会社を表す。
	AggregateTypeCompany AggregateType = "Company"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeSessionStarted はログインしてセッションが開始されたことを表す。
	TypeSessionStarted Type = "SessionStarted"
	// TypeSessionEnded はログアウトでセッションが終了したことを表す。
	TypeSessionEnded Type = "SessionEnded"
	// TypeSessionExpired はバックエンドが401を返しセッションを破棄したことを表す。
	TypeSessionExpired Type = "SessionExpired"
	// TypeAccessRedirected はページへのアクセスがリダイレクトされたことを表す。
	TypeAccessRedirected Type = "AccessRedirected"
	// TypeCompanyCheckFailed は会社情報の確認に失敗し安全側に倒したことを表す。
	TypeCompanyCheckFailed Type = "CompanyCheckFailed"
)

// Event はアクセス監査ログの1レコードを表す。
// 一度記録したイベントは変更しない。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。セッションの場合はセッションID。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// UserID はイベントの主体となるユーザーのID。未ログインの場合は空。
	UserID string `json:"user_id,omitempty"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// SessionStartedData はSessionStartedイベントのデータ。
type SessionStartedData struct {
	// Email はログインしたユーザーのメールアドレス。
	Email string `json:"email"`
	// Method はログイン方法（password または dev）。
	Method string `json:"method"`
}

// SessionEndedData はSessionEndedイベントのデータ。
type SessionEndedData struct {
	// Reason は終了理由。
	Reason string `json:"reason"`
}

// SessionExpiredData はSessionExpiredイベントのデータ。
type SessionExpiredData struct {
	// Source は401を検知した箇所（proxy または lookup）。
	Source string `json:"source"`
	// Path は401を検知したときのリクエストパス。
	Path string `json:"path"`
}

// AccessRedirectedData はAccessRedirectedイベントのデータ。
type AccessRedirectedData struct {
	// Path は要求されたページのパス。
	Path string `json:"path"`
	// Action は判定結果。
	Action string `json:"action"`
	// Target はリダイレクト先。
	Target string `json:"target"`
	// Guard は判定を下したガード名。
	Guard string `json:"guard"`
	// Reason は補足理由。
	Reason string `json:"reason,omitempty"`
}

// CompanyCheckFailedData はCompanyCheckFailedイベントのデータ。
type CompanyCheckFailedData struct {
	// Path は要求されたページのパス。
	Path string `json:"path"`
	// Error は失敗の内容。
	Error string `json:"error"`
}
