// Package route はページパスの分類を提供する。
//
// 公開ルートと非公開ルートの静的なテーブルを保持し、リクエストパスが
// どちらに属するか（あるいはどちらにも宣言されていないか）を判定する。
// ルートテンプレートは "/employee/[id]" のような角括弧の動的セグメントを含められる。
// テンプレートは起動時に一度だけコンパイルされ、以後は不変である。
package route
