package cli

import (
	"strconv"

	"github.com/spf13/cobra"
)

// classificationJSON はclassifyコマンドのJSON出力の1要素。
type classificationJSON struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	Key      string `json:"key,omitempty"`
	Template string `json:"template,omitempty"`
	ByPrefix bool   `json:"by_prefix"`
}

func newClassifyCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "classify <path>...",
		Short: "パスを公開・非公開・未宣言に分類する",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, g, err := opts.load()
			if err != nil {
				return err
			}

			out := make([]classificationJSON, 0, len(args))
			rows := make([][]string, 0, len(args))
			for _, p := range args {
				c := g.Routes().Classify(p)
				out = append(out, classificationJSON{
					Path:     p,
					Kind:     c.Kind.String(),
					Key:      c.Key,
					Template: c.Template,
					ByPrefix: c.ByPrefix,
				})
				rows = append(rows, []string{p, c.Kind.String(), c.Key, c.Template, strconv.FormatBool(c.ByPrefix)})
			}
			return opts.print(cmd.OutOrStdout(), out, []string{"PATH", "KIND", "KEY", "TEMPLATE", "BY_PREFIX"}, rows)
		},
	}
}
