// Package session はログインセッションのサーバー側レコードを管理する。
//
// セッションCookieのJWTはレコードのIDを運ぶだけで、認証状態の正はStoreに置く。
// メモリ・Redis・SQLiteの3種類の実装がある。
package session

import (
	"context"
	"errors"
	"time"

	"github.com/nao1215/safein/pkg/access"
)

// ErrNotFound はセッションが存在しないか期限切れであることを表す。
var ErrNotFound = errors.New("セッションが見つかりません")

// Record はサーバー側で保持するセッション。
type Record struct {
	// ID はセッションID。Cookie内JWTのjtiと一致する。
	ID string `json:"id"`
	// UserID はユーザーの一意識別子。
	UserID string `json:"user_id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Name はユーザーの表示名。
	Name string `json:"name"`
	// CompanyID は所属する会社のID。ログイン時点で未登録の場合は空。
	CompanyID string `json:"company_id,omitempty"`
	// BackendToken はバックエンドAPIの呼び出しに使う認証トークン。
	BackendToken string `json:"backend_token"`
	// CreatedAt はセッションの作成日時。
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt はセッションの有効期限。
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired はnow時点で期限切れかどうかを返す。
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// Profile はアクセス判定で使うユーザー情報を返す。
func (r *Record) Profile() *access.UserProfile {
	return &access.UserProfile{
		ID:        r.UserID,
		Email:     r.Email,
		Name:      r.Name,
		CompanyID: r.CompanyID,
	}
}

// Session はバックエンドトークンを認証トークンとしたアクセス判定用のセッションを返す。
// トークンの形式が不正な場合は未ログインになる。
func (r *Record) Session() access.Session {
	return access.NewSession(r.BackendToken, r.Profile())
}

// Store はセッションの永続化を行う。実装は複数のゴルーチンから同時に使用できる。
type Store interface {
	// Get はIDに対応するセッションを返す。存在しないか期限切れの場合はErrNotFound。
	Get(ctx context.Context, id string) (*Record, error)
	// Set はセッションを保存する。同じIDのセッションは上書きする。
	Set(ctx context.Context, rec *Record) error
	// Clear はセッションを削除する。存在しない場合も成功とする。
	Clear(ctx context.Context, id string) error
	// Ping は保存先に到達できるかを確認する。
	Ping(ctx context.Context) error
}

// validate はSetに渡されたレコードを検査する。
func validate(rec *Record) error {
	switch {
	case rec == nil:
		return errors.New("セッションがnilです")
	case rec.ID == "":
		return errors.New("セッションIDが空です")
	case rec.ExpiresAt.IsZero():
		return errors.New("セッションの有効期限が設定されていません")
	}
	return nil
}
