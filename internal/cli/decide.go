package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/nao1215/safein/pkg/access"
)

// cliToken はdecideコマンドで認証済みセッションを模すためのトークン。
const cliToken = "safeinctl-session"

// errLookupFailed は--company-error指定時に会社情報の確認を失敗させる。
var errLookupFailed = errors.New("会社情報の確認に失敗しました（--company-error）")

// decisionJSON はdecideコマンドのJSON出力。
type decisionJSON struct {
	Path     string          `json:"path"`
	Decision access.Decision `json:"decision"`
	State    access.State    `json:"state"`
}

func newDecideCommand(opts *options) *cobra.Command {
	var (
		authenticated bool
		company       bool
		companyError  bool
	)
	cmd := &cobra.Command{
		Use:   "decide <path>",
		Short: "指定した状態のユーザーがpathにアクセスした場合の判定を表示する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, g, err := opts.load()
			if err != nil {
				return err
			}

			sess := access.Anonymous()
			if authenticated {
				sess = access.NewSession(cliToken, nil)
			}
			req := access.Request{
				Path:    args[0],
				Session: sess,
				Company: access.CompanyExistence{Exists: company},
			}

			var d access.Decision
			if companyError {
				d, _ = g.Evaluate(cmd.Context(), req, access.CompanyLookupFunc(func(context.Context, access.Session) (bool, error) {
					return false, errLookupFailed
				}))
			} else {
				d = g.Decide(req)
			}

			out := decisionJSON{
				Path:     args[0],
				Decision: d,
				State:    access.StateOf(sess, req.Company, access.SubscriptionStatus{}),
			}
			return opts.print(cmd.OutOrStdout(), out,
				[]string{"PATH", "ACTION", "TARGET", "GUARD", "REASON"},
				[][]string{{args[0], d.Action.String(), d.Target, d.Guard, d.Reason}},
			)
		},
	}
	cmd.Flags().BoolVarP(&authenticated, "authenticated", "a", false, "ログイン済みとして判定する")
	cmd.Flags().BoolVar(&company, "company", false, "会社情報が登録済みとして判定する")
	cmd.Flags().BoolVar(&companyError, "company-error", false, "会社情報の確認に失敗した場合の判定を表示する")
	return cmd
}
