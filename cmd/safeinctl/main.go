// safeinctl はゲートウェイの設定ファイルからルートテーブルとアクセス判定を確認するCLI。
package main

import (
	"fmt"
	"os"

	"github.com/nao1215/safein/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "safeinctl: %v\n", err)
		os.Exit(1)
	}
}
