package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/safein/pkg/access"
	"github.com/nao1215/safein/pkg/route"
)

// Problem はlintコマンドが検出した設定の問題。
type Problem struct {
	// Path は問題のあるパス。
	Path string `json:"path"`
	// Message は問題の内容。
	Message string `json:"message"`
}

// Lint はルートテーブルとアクセス判定の設定の整合性を検査する。
// 公開と非公開の重複はテーブルの構築時に検出されるため、ここでは扱わない。
func Lint(opts access.Options) []Problem {
	var problems []Problem
	expect := func(path string, want route.Kind, msg string) {
		if path == "" {
			return
		}
		if got := opts.Routes.Classify(path).Kind; got != want {
			problems = append(problems, Problem{Path: path, Message: fmt.Sprintf("%s（分類: %s）", msg, got)})
		}
	}

	expect(opts.LoginPath, route.KindPublic, "ログイン画面が公開ルートに登録されていません")
	expect(opts.DashboardPath, route.KindPrivate, "ダッシュボードが非公開ルートに登録されていません")
	expect(opts.CompanyCreatePath, route.KindPrivate, "会社登録画面が非公開ルートに登録されていません")
	for _, p := range opts.PublicActions {
		expect(p, route.KindPublic, "公開アクションが公開ルートに登録されていません")
	}
	for _, p := range opts.AlwaysAllowed {
		if opts.Routes.Classify(p).Kind == route.KindPrivate {
			problems = append(problems, Problem{Path: p, Message: "常に表示できるページが非公開ルートに含まれています"})
		}
	}
	for _, p := range opts.SubscriptionCallbacks {
		if opts.Routes.Classify(p).Kind == route.KindPublic {
			problems = append(problems, Problem{Path: p, Message: "決済コールバックが公開ルートに含まれているため、ログイン済みではダッシュボードへ戻されます"})
		}
	}
	return problems
}

func newLintCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "lint",
		Short: "ルートテーブルとアクセス判定の設定を検査する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			gopts, _, err := opts.load()
			if err != nil {
				return err
			}

			problems := Lint(gopts)
			if problems == nil {
				problems = []Problem{}
			}
			rows := make([][]string, 0, len(problems))
			for _, p := range problems {
				rows = append(rows, []string{p.Path, p.Message})
			}

			w := cmd.OutOrStdout()
			if len(problems) == 0 && !opts.jsonOutput {
				fmt.Fprintln(w, "問題は見つかりませんでした")
				return nil
			}
			if err := opts.print(w, problems, []string{"PATH", "PROBLEM"}, rows); err != nil {
				return err
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d 件の問題が見つかりました", len(problems))
			}
			return nil
		},
	}
}
