package route

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompile(t *testing.T) {
	t.Parallel()

	t.Run("静的テンプレートは動的ではないこと", func(t *testing.T) {
		t.Parallel()

		tmpl, err := Compile("/employee/list")
		require.NoError(t, err)
		assert.False(t, tmpl.IsDynamic())
		assert.Equal(t, "/employee/list", tmpl.String())
		assert.Empty(t, tmpl.Params())
	})

	t.Run("角括弧のセグメントは動的になること", func(t *testing.T) {
		t.Parallel()

		tmpl, err := Compile("/visitor/edit/[id]")
		require.NoError(t, err)
		assert.True(t, tmpl.IsDynamic())
		assert.Equal(t, []string{"id"}, tmpl.Params())
	})

	t.Run("不正なテンプレートはエラーになること", func(t *testing.T) {
		t.Parallel()

		for _, raw := range []string{
			"employee/list",
			"/a/x-[id]",
			"/a/[id",
			"/a/[]",
			"/a/[[id]]",
			"/a/[...rest]/b",
			"/a/[...]",
		} {
			_, err := Compile(raw)
			assert.ErrorIs(t, err, ErrInvalidTemplate, raw)
		}
	})

	t.Run("MustCompileは不正なテンプレートでパニックすること", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() { MustCompile("no-slash") })
	})
}

func TestTemplate_Match(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		template string
		path     string
		want     bool
	}{
		{name: "静的テンプレートの完全一致", template: "/employee/list", path: "/employee/list", want: true},
		{name: "静的テンプレートの末尾スラッシュ違い", template: "/employee/list", path: "/employee/list/", want: false},
		{name: "ルートの一致", template: "/", path: "/", want: true},
		{name: "動的セグメントの一致", template: "/employee/[id]", path: "/employee/abc123", want: true},
		{name: "動的セグメントは空文字に一致しない", template: "/employee/[id]", path: "/employee/", want: false},
		{name: "動的セグメントはスラッシュを越えない", template: "/employee/[id]", path: "/employee/a/b", want: false},
		{name: "固定セグメントの不一致", template: "/employee/[id]", path: "/visitor/abc", want: false},
		{name: "複数の動的セグメント", template: "/org/[org]/user/[id]", path: "/org/acme/user/42", want: true},
		{name: "スラッシュで始まらないパス", template: "/employee/[id]", path: "employee/abc", want: false},
		{name: "キャッチオールは1セグメントに一致", template: "/docs/[...slug]", path: "/docs/intro", want: true},
		{name: "キャッチオールは複数セグメントに一致", template: "/docs/[...slug]", path: "/docs/a/b/c", want: true},
		{name: "キャッチオールは0セグメントに一致しない", template: "/docs/[...slug]", path: "/docs", want: false},
		{name: "キャッチオールは空セグメントに一致しない", template: "/docs/[...slug]", path: "/docs/a//b", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			tmpl := MustCompile(tt.template)
			assert.Equal(t, tt.want, tmpl.Match(tt.path))
		})
	}
}

func TestTemplate_parentPrefix(t *testing.T) {
	t.Parallel()

	p, ok := MustCompile("/employee/[id]").parentPrefix()
	require.True(t, ok)
	assert.Equal(t, "/employee/", p.raw)
	assert.True(t, p.matches("/employee/list/extra"))
	assert.True(t, p.matches("/employee/"))
	assert.False(t, p.matches("/employee"))
	assert.False(t, p.matches("/employees/1"))

	p, ok = MustCompile("/org/[org]/member/[id]").parentPrefix()
	require.True(t, ok)
	assert.Equal(t, "/org/[org]/member/", p.raw)
	assert.True(t, p.matches("/org/acme/member/1/edit"))
	assert.False(t, p.matches("/org//member/1"))

	_, ok = MustCompile("/[slug]").parentPrefix()
	assert.False(t, ok, "ルート直下の動的テンプレートはプレフィックスを持たない")
}
