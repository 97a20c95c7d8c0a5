// Package cli はsafeinctlのサブコマンドを提供する。
//
// ゲートウェイと同じ設定ファイルからルートテーブルとアクセス判定を組み立て、
// サーバーを起動せずに分類と判定の結果を確認できる。
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nao1215/safein/internal/config"
	"github.com/nao1215/safein/pkg/access"
)

// options はすべてのサブコマンドに共通するフラグ。
type options struct {
	configPath    string
	envConfigPath string
	jsonOutput    bool
}

// NewRootCommand はsafeinctlのルートコマンドを生成する。
func NewRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "safeinctl",
		Short:         "SafeInのルートテーブルとアクセス判定を確認する",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("CONFIG_PATH"), "設定ファイルのパス")
	root.PersistentFlags().StringVar(&opts.envConfigPath, "env-config", os.Getenv("ENV_CONFIG_PATH"), "環境別の上書き設定ファイルのパス")
	root.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "JSON形式で出力する")

	root.AddCommand(
		newRoutesCommand(opts),
		newClassifyCommand(opts),
		newDecideCommand(opts),
		newLintCommand(opts),
	)
	return root
}

// load は設定ファイルからアクセス判定の設定とGateを組み立てる。
func (o *options) load() (access.Options, *access.Gate, error) {
	cfg, err := config.Read(o.configPath, o.envConfigPath)
	if err != nil {
		return access.Options{}, nil, err
	}
	gopts, err := cfg.GateOptions()
	if err != nil {
		return access.Options{}, nil, err
	}
	g, err := access.New(gopts)
	if err != nil {
		return access.Options{}, nil, err
	}
	return gopts, g, nil
}

// print は--json指定時にvをJSONで、それ以外はrowsを表形式で出力する。
func (o *options) print(w io.Writer, v any, header []string, rows [][]string) error {
	if o.jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	printRow(tw, header)
	for _, r := range rows {
		printRow(tw, r)
	}
	return tw.Flush()
}

func printRow(w io.Writer, cols []string) {
	for i, c := range cols {
		if i > 0 {
			fmt.Fprint(w, "\t")
		}
		if c == "" {
			c = "-"
		}
		fmt.Fprint(w, c)
	}
	fmt.Fprintln(w)
}
