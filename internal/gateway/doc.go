// Package gateway はSafeInのアクセス制御ゲートウェイの内部実装を提供する。
//
// ブラウザからのリクエストはすべてこのサービスを通る。ページへのリクエストは
// ルート分類とガードの列でアクセスを判定し、許可した場合のみフロントエンドに転送する。
// /api/ 以下のリクエストはセッションのバックエンドトークンを付与してREST APIに転送し、
// バックエンドが401を返した場合はセッションを破棄してログインへ誘導する。
//
// 主な機能:
//   - ログイン・ログアウトとセッションCookieの発行（HS256のJWT）
//   - ページ遷移時のアクセス判定（ログイン・ダッシュボード・会社登録へのリダイレクト）
//   - バックエンドAPIへのプロキシと401の検知
//   - アクセス監査イベントの記録
package gateway
