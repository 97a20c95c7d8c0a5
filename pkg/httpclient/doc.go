// Package httpclient はバックエンドAPIとのHTTP通信を行うクライアントを提供する。
//
// ゲートウェイが会社情報・サブスクリプション状態・プロフィールなどを
// 問い合わせる際に使用する。認証トークンと相関IDをコンテキストから
// リクエストヘッダーへ伝播し、2xx以外のレスポンスはStatusErrorとして返す。
package httpclient
