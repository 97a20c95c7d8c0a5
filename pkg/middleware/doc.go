// Package middleware はSafeIn gatewayで使用するGinミドルウェアを提供する。
//
// セッショントークン（JWT）の発行と検証、相関ID、アクセスログ、
// パニックリカバリ、CORS、Prometheusメトリクスを含む。
package middleware
