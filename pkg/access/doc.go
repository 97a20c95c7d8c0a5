// Package access はページ遷移時のアクセス制御を提供する。
//
// セッション（認証状態）、サブスクリプション状態、会社情報の有無をもとに、
// 要求されたパスを表示するか、ログイン・ダッシュボード・会社登録へ
// リダイレクトするかを決定する。判定は順序付きのガード列で行い、
// 最初に結論を出したガードの結果を採用する。判定がエラーやパニックで
// 終わることはなく、常に4種類のActionのいずれかに解決される。
package access
