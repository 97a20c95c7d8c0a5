package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nao1215/safein/pkg/route"
)

// routeJSON はroutesコマンドのJSON出力の1要素。
type routeJSON struct {
	Kind     string   `json:"kind"`
	Key      string   `json:"key"`
	Template string   `json:"template"`
	Params   []string `json:"params,omitempty"`
}

func newRoutesCommand(opts *options) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "routes",
		Short: "ルートテーブルを一覧表示する",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if kind != "" && kind != "public" && kind != "private" {
				return fmt.Errorf("--kind は public か private を指定してください: %q", kind)
			}
			_, g, err := opts.load()
			if err != nil {
				return err
			}

			var (
				out  []routeJSON
				rows [][]string
			)
			for _, e := range g.Routes().Routes() {
				if kind != "" && e.Kind.String() != kind {
					continue
				}
				out = append(out, routeJSON{
					Kind:     e.Kind.String(),
					Key:      e.Key,
					Template: e.Template.String(),
					Params:   e.Template.Params(),
				})
				rows = append(rows, []string{
					e.Kind.String(), e.Key, e.Template.String(), strings.Join(e.Template.Params(), ","),
				})
			}
			if kind == "" || kind == route.KindPrivate.String() {
				prefixes := g.Routes().PrivatePrefixes()
				rows = append(rows, []string{"prefix", strconv.Itoa(len(prefixes)) + " 件", strings.Join(prefixes, " "), ""})
			}
			return opts.print(cmd.OutOrStdout(), out, []string{"KIND", "KEY", "TEMPLATE", "PARAMS"}, rows)
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "public または private に絞り込む")
	return cmd
}
