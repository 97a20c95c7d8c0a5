package route

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTemplate はルートテンプレートの書式が不正であることを表す。
var ErrInvalidTemplate = errors.New("ルートテンプレートが不正です")

// segmentKind はテンプレートを構成するセグメントの種類。
type segmentKind int

const (
	// segmentLiteral は完全一致が必要な固定セグメント。
	segmentLiteral segmentKind = iota
	// segmentParam は "/" を含まない1文字以上の任意の文字列に一致する "[name]" セグメント。
	segmentParam
	// segmentCatchAll は残りの1つ以上のセグメントに一致する "[...name]" セグメント。
	segmentCatchAll
)

// segment はコンパイル済みテンプレートの1セグメント。
type segment struct {
	kind  segmentKind
	value string
}

// Template はコンパイル済みのルートテンプレート。
// 比較のたびに正規表現を組み立てず、セグメント列とセグメント数で照合する。
type Template struct {
	// raw は元のテンプレート文字列。
	raw string
	// segments は "/" で分割したセグメント列。
	segments []segment
	// dynamic は動的セグメントを1つ以上含むかどうか。
	dynamic bool
	// catchAll は末尾が "[...name]" かどうか。
	catchAll bool
}

// Compile はテンプレート文字列をコンパイルする。
// 角括弧はセグメント全体を覆う必要がある。"/a/x-[id]" のような部分一致は受け付けない。
func Compile(raw string) (Template, error) {
	if !strings.HasPrefix(raw, "/") {
		return Template{}, fmt.Errorf("%w: %q は \"/\" で始まる必要があります", ErrInvalidTemplate, raw)
	}

	parts := strings.Split(raw[1:], "/")
	t := Template{raw: raw, segments: make([]segment, 0, len(parts))}
	for i, p := range parts {
		open := strings.Count(p, "[")
		closing := strings.Count(p, "]")
		if open == 0 && closing == 0 {
			t.segments = append(t.segments, segment{kind: segmentLiteral, value: p})
			continue
		}
		if open != 1 || closing != 1 || !strings.HasPrefix(p, "[") || !strings.HasSuffix(p, "]") {
			return Template{}, fmt.Errorf("%w: %q の動的セグメント %q はセグメント全体を角括弧で囲む必要があります", ErrInvalidTemplate, raw, p)
		}

		name := p[1 : len(p)-1]
		kind := segmentParam
		if rest, ok := strings.CutPrefix(name, "..."); ok {
			if i != len(parts)-1 {
				return Template{}, fmt.Errorf("%w: %q のキャッチオールは末尾にのみ置けます", ErrInvalidTemplate, raw)
			}
			kind = segmentCatchAll
			name = rest
			t.catchAll = true
		}
		if name == "" {
			return Template{}, fmt.Errorf("%w: %q に名前のない動的セグメントがあります", ErrInvalidTemplate, raw)
		}
		t.segments = append(t.segments, segment{kind: kind, value: name})
		t.dynamic = true
	}
	return t, nil
}

// MustCompile はCompileと同じだが、失敗時にパニックする。
// パッケージ変数の初期化など、テンプレートが静的に正しいと分かっている場面で使用する。
func MustCompile(raw string) Template {
	t, err := Compile(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// String は元のテンプレート文字列を返す。
func (t Template) String() string {
	return t.raw
}

// IsDynamic は動的セグメントを含むかどうかを返す。
func (t Template) IsDynamic() bool {
	return t.dynamic
}

// Params はテンプレート内の動的セグメント名を出現順に返す。
func (t Template) Params() []string {
	var names []string
	for _, s := range t.segments {
		if s.kind != segmentLiteral {
			names = append(names, s.value)
		}
	}
	return names
}

// Match はパス全体がテンプレートに一致するかどうかを返す。
func (t Template) Match(path string) bool {
	if !t.dynamic {
		return path == t.raw
	}
	if !strings.HasPrefix(path, "/") {
		return false
	}

	parts := strings.Split(path[1:], "/")
	if t.catchAll {
		if len(parts) < len(t.segments) {
			return false
		}
	} else if len(parts) != len(t.segments) {
		return false
	}

	for i, s := range t.segments {
		switch s.kind {
		case segmentLiteral:
			if parts[i] != s.value {
				return false
			}
		case segmentParam:
			if parts[i] == "" {
				return false
			}
		case segmentCatchAll:
			for _, rest := range parts[i:] {
				if rest == "" {
					return false
				}
			}
			return true
		}
	}
	return true
}

// parentPrefix は末尾セグメントを取り除いたプレフィックスを返す。
// "/employee/[id]" は "/employee/" になる。ルート "/" になる場合はokがfalseになる。
func (t Template) parentPrefix() (prefix, bool) {
	if len(t.segments) < 2 {
		return prefix{}, false
	}
	segs := t.segments[:len(t.segments)-1]
	var b strings.Builder
	for _, s := range segs {
		b.WriteByte('/')
		if s.kind == segmentLiteral {
			b.WriteString(s.value)
		} else {
			b.WriteString("[" + s.value + "]")
		}
	}
	b.WriteByte('/')
	return prefix{raw: b.String(), segments: segs}, true
}

// prefix は非公開ルートのキャッチオール判定に使うパスプレフィックス。
type prefix struct {
	// raw は "/employee/" 形式の表示用文字列。
	raw string
	// segments はプレフィックスを構成するセグメント。動的セグメントを含むことがある。
	segments []segment
}

// matches はパスがプレフィックスで始まるかどうかを返す。
// "/employee/" に対して "/employee/" と "/employee/list/extra" は一致し、"/employee" は一致しない。
func (p prefix) matches(path string) bool {
	if !strings.HasPrefix(path, "/") {
		return false
	}
	parts := strings.Split(path[1:], "/")
	if len(parts) <= len(p.segments) {
		return false
	}
	for i, s := range p.segments {
		if s.kind == segmentLiteral {
			if parts[i] != s.value {
				return false
			}
			continue
		}
		if parts[i] == "" {
			return false
		}
	}
	return true
}
