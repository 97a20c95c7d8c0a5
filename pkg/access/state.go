package access

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition は現在の状態では受け付けられないイベントであることを表す。
var ErrInvalidTransition = errors.New("不正な状態遷移です")

// State はユーザーの認証・認可状態。
// 認証（Session）と会社・サブスクリプションは独立した軸であり、
// Stateはそれらから導出される表示用の要約である。
type State int

const (
	// StateAnonymous は未ログイン。
	StateAnonymous State = iota
	// StateNoCompany はログイン済みで会社情報が未登録。
	StateNoCompany
	// StateNoSubscription は会社登録済みでサブスクリプションが未契約。
	StateNoSubscription
	// StateActive はサブスクリプションが有効（トライアルを含む）。
	StateActive
	// StateExpired はサブスクリプションが期限切れ。
	StateExpired
)

// String はStateの文字列表現を返す。
func (s State) String() string {
	switch s {
	case StateNoCompany:
		return "authenticated_no_company"
	case StateNoSubscription:
		return "authenticated_no_subscription"
	case StateActive:
		return "authenticated_active"
	case StateExpired:
		return "authenticated_expired"
	default:
		return "anonymous"
	}
}

// MarshalText はStateを文字列としてJSONに出力するために実装する。
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Event は状態遷移を引き起こす操作。
type Event int

const (
	// EventLogin はログイン。
	EventLogin Event = iota
	// EventLogout はログアウト。すべての状態から受け付ける。
	EventLogout
	// EventCompanyCreated は会社情報の登録完了。
	EventCompanyCreated
	// EventSubscribe はサブスクリプションの契約・更新。
	EventSubscribe
	// EventExpire はサブスクリプションの期限切れ。
	EventExpire
)

// String はEventの文字列表現を返す。
func (e Event) String() string {
	switch e {
	case EventLogin:
		return "login"
	case EventLogout:
		return "logout"
	case EventCompanyCreated:
		return "company_created"
	case EventSubscribe:
		return "subscribe"
	case EventExpire:
		return "expire"
	default:
		return fmt.Sprintf("event(%d)", int(e))
	}
}

// transitions は(状態, イベント)ごとの遷移先。ログアウトは別途すべての状態で受け付ける。
// ログイン直後は会社情報を確認するまで会社未登録として扱う。
var transitions = map[State]map[Event]State{
	StateAnonymous:      {EventLogin: StateNoCompany},
	StateNoCompany:      {EventCompanyCreated: StateNoSubscription},
	StateNoSubscription: {EventSubscribe: StateActive},
	StateActive:         {EventExpire: StateExpired},
	StateExpired:        {EventSubscribe: StateActive},
}

// Next はfromにイベントevを適用した遷移先を返す。
func Next(from State, ev Event) (State, error) {
	if ev == EventLogout {
		return StateAnonymous, nil
	}
	if to, ok := transitions[from][ev]; ok {
		return to, nil
	}
	return from, fmt.Errorf("%w: %s で %s は受け付けられません", ErrInvalidTransition, from, ev)
}

// StateOf は各軸の状態から現在のStateを導出する。
func StateOf(s Session, c CompanyExistence, sub SubscriptionStatus) State {
	switch {
	case !s.IsAuthenticated:
		return StateAnonymous
	case !c.Exists:
		return StateNoCompany
	case sub.IsExpired:
		return StateExpired
	case sub.HasActiveSubscription || sub.IsTrialing:
		return StateActive
	default:
		return StateNoSubscription
	}
}
