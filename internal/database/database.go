// Package database はgatewayが使うSQLiteデータベースの接続とスキーマ管理を提供する。
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/safein/pkg/migration"
)

//go:embed migrations/*.sql
var migrations embed.FS

// MemoryDSN はテストや開発で使うインメモリデータベースのDSN。
const MemoryDSN = ":memory:"

// DSN はファイルパスからWALとbusy_timeoutを有効にしたDSNを組み立てる。
func DSN(path string) string {
	if path == "" || path == MemoryDSN {
		return MemoryDSN
	}
	return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

// Open はSQLiteデータベースに接続し、未適用のマイグレーションを適用する。
// インメモリデータベースは接続ごとに別のデータベースになるため、接続数を1に制限する。
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if strings.Contains(dsn, MemoryDSN) {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}

	if _, err := migration.Run(ctx, db, migrations, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}
	return db, nil
}
