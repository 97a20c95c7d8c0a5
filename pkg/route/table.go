package route

import (
	"errors"
	"fmt"
	"sort"
)

// ErrOverlap は同じテンプレートが公開・非公開の両方に登録されていることを表す。
var ErrOverlap = errors.New("ルートテンプレートが公開・非公開の両方に登録されています")

// Kind はパスの分類結果。
type Kind int

const (
	// KindUndeclared はどのテーブルにも宣言されていないパス。
	KindUndeclared Kind = iota
	// KindPublic は公開ルート（ログイン・登録画面など）。
	KindPublic
	// KindPrivate は認証が必要な非公開ルート。
	KindPrivate
)

// String はKindの文字列表現を返す。
func (k Kind) String() string {
	switch k {
	case KindPublic:
		return "public"
	case KindPrivate:
		return "private"
	default:
		return "undeclared"
	}
}

// Entry はテーブルに登録された1ルート。
type Entry struct {
	// Key はルートのキー（例: "employeeDetail"）。
	Key string
	// Template はコンパイル済みテンプレート。
	Template Template
	// Kind は公開か非公開か。
	Kind Kind
}

// Classification はClassifyの結果。
type Classification struct {
	// Kind は分類結果。
	Kind Kind
	// Key は一致したルートのキー。プレフィックス一致・未宣言の場合は空。
	Key string
	// Template は一致したテンプレートまたはプレフィックス。
	Template string
	// ByPrefix は非公開プレフィックスによるキャッチオールで分類されたかどうか。
	ByPrefix bool
}

// Table は公開ルートと非公開ルートの不変なテーブル。
// 生成後は読み取り専用のため、複数のゴルーチンから同時に使用できる。
type Table struct {
	public   []Entry
	private  []Entry
	prefixes []prefix
}

// NewTable はキーとテンプレート文字列のマップからテーブルを構築する。
// テンプレートのコンパイルに失敗した場合や、同じテンプレートが両方に存在する場合はエラーを返す。
func NewTable(public, private map[string]string) (*Table, error) {
	pub, err := compileEntries(public, KindPublic)
	if err != nil {
		return nil, err
	}
	priv, err := compileEntries(private, KindPrivate)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]string, len(pub))
	for _, e := range pub {
		seen[e.Template.String()] = e.Key
	}
	for _, e := range priv {
		if pubKey, ok := seen[e.Template.String()]; ok {
			return nil, fmt.Errorf("%w: %q (public=%s, private=%s)", ErrOverlap, e.Template.String(), pubKey, e.Key)
		}
	}

	t := &Table{public: pub, private: priv}
	known := make(map[string]struct{})
	for _, e := range priv {
		if !e.Template.IsDynamic() {
			continue
		}
		p, ok := e.Template.parentPrefix()
		if !ok {
			continue
		}
		if _, dup := known[p.raw]; dup {
			continue
		}
		known[p.raw] = struct{}{}
		t.prefixes = append(t.prefixes, p)
	}
	sort.Slice(t.prefixes, func(i, j int) bool { return t.prefixes[i].raw < t.prefixes[j].raw })

	return t, nil
}

// compileEntries はマップをキー順にソートしたEntryのスライスに変換する。
func compileEntries(routes map[string]string, kind Kind) ([]Entry, error) {
	entries := make([]Entry, 0, len(routes))
	for key, raw := range routes {
		tmpl, err := Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("ルート %q のコンパイルに失敗: %w", key, err)
		}
		entries = append(entries, Entry{Key: key, Template: tmpl, Kind: kind})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries, nil
}

// Classify はパスを分類する。
// 公開テンプレートへの一致が非公開テンプレート・非公開プレフィックスより優先される。
func (t *Table) Classify(path string) Classification {
	for _, e := range t.public {
		if e.Template.Match(path) {
			return Classification{Kind: KindPublic, Key: e.Key, Template: e.Template.String()}
		}
	}
	for _, e := range t.private {
		if e.Template.Match(path) {
			return Classification{Kind: KindPrivate, Key: e.Key, Template: e.Template.String()}
		}
	}
	for _, p := range t.prefixes {
		if p.matches(path) {
			return Classification{Kind: KindPrivate, Template: p.raw, ByPrefix: true}
		}
	}
	return Classification{Kind: KindUndeclared}
}

// Routes は登録されている全ルートを公開・非公開の順、各キー順で返す。
func (t *Table) Routes() []Entry {
	out := make([]Entry, 0, len(t.public)+len(t.private))
	out = append(out, t.public...)
	return append(out, t.private...)
}

// Path はキーに対応するテンプレート文字列を返す。
func (t *Table) Path(key string) (string, bool) {
	for _, e := range t.Routes() {
		if e.Key == key {
			return e.Template.String(), true
		}
	}
	return "", false
}

// PrivatePrefixes は非公開ルートから導出したキャッチオール用プレフィックスを返す。
func (t *Table) PrivatePrefixes() []string {
	out := make([]string, 0, len(t.prefixes))
	for _, p := range t.prefixes {
		out = append(out, p.raw)
	}
	return out
}
