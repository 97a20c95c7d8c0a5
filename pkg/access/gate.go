package access

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/nao1215/safein/pkg/route"
)

// Action はアクセス判定の結果。
type Action int

const (
	// ActionAllow はページの表示を許可する。
	ActionAllow Action = iota
	// ActionRedirectLogin はログイン画面へリダイレクトする。
	ActionRedirectLogin
	// ActionRedirectDashboard はダッシュボードへリダイレクトする。
	ActionRedirectDashboard
	// ActionRedirectCompanyCreate は会社登録画面へリダイレクトする。
	ActionRedirectCompanyCreate
)

// String はActionの文字列表現を返す。
func (a Action) String() string {
	switch a {
	case ActionRedirectLogin:
		return "redirect_login"
	case ActionRedirectDashboard:
		return "redirect_dashboard"
	case ActionRedirectCompanyCreate:
		return "redirect_company_create"
	default:
		return "allow"
	}
}

// IsRedirect はリダイレクトを伴うかどうかを返す。
func (a Action) IsRedirect() bool {
	return a != ActionAllow
}

// ガード名。Decision.Guardに設定され、ログやメトリクスのラベルになる。
const (
	GuardAsset                = "asset"
	GuardAlwaysAllowed        = "always_allowed"
	GuardPublicAction         = "public_action"
	GuardSubscriptionCallback = "subscription_callback"
	GuardAuthenticatedPublic  = "authenticated_public"
	GuardAnonymousPrivate     = "anonymous_private"
	GuardUndeclared           = "undeclared"
	GuardCompany              = "company"
	GuardDefault              = "default"
)

// ReasonCheckFailed は会社情報の確認に失敗したため安全側に倒したことを表す。
// 会社登録画面はこの理由を見て再試行の導線を表示する。
const ReasonCheckFailed = "check_failed"

// Decision はアクセス判定の結果と、その判定を下したガード。
type Decision struct {
	// Action は判定結果。
	Action Action `json:"action"`
	// Target はリダイレクト先。Allowの場合は空。
	Target string `json:"target,omitempty"`
	// Guard は判定を下したガード名。
	Guard string `json:"guard"`
	// Reason は補足理由。
	Reason string `json:"reason,omitempty"`
}

// MarshalText はActionを文字列としてJSONに出力するために実装する。
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UndeclaredPolicy はテーブルに宣言されていないパスの扱い。
type UndeclaredPolicy int

const (
	// UndeclaredClosed は未ログインのアクセスを非公開ルートと同様にログインへ誘導する。
	UndeclaredClosed UndeclaredPolicy = iota
	// UndeclaredOpen は未宣言のパスを公開ページとして扱う。
	UndeclaredOpen
)

// ParseUndeclaredPolicy は設定値の文字列をUndeclaredPolicyに変換する。
func ParseUndeclaredPolicy(s string) (UndeclaredPolicy, error) {
	switch s {
	case "", "closed":
		return UndeclaredClosed, nil
	case "open":
		return UndeclaredOpen, nil
	default:
		return UndeclaredClosed, fmt.Errorf("未宣言パスのポリシーが不正です: %q", s)
	}
}

// Options はGateの設定。
type Options struct {
	// Routes はパスの分類に使うルートテーブル。
	Routes *route.Table
	// Assets は静的ファイルなど判定の対象外とするパス。"/" で終わる要素はプレフィックスとして扱う。
	Assets []string
	// AlwaysAllowed は認証状態にかかわらず表示できるページ。完全一致または "entry/" 以下に一致する。
	AlwaysAllowed []string
	// PublicActions はURL内のトークンで認証するページのテンプレート。
	PublicActions []string
	// SubscriptionCallbacks は決済後のコールバックページ。
	SubscriptionCallbacks []string
	// LoginPath はログイン画面のパス。
	LoginPath string
	// DashboardPath はダッシュボードのパス。
	DashboardPath string
	// CompanyCreatePath は会社登録画面のパス。
	CompanyCreatePath string
	// Undeclared は未宣言パスの扱い。
	Undeclared UndeclaredPolicy
}

// DefaultOptions はSafeInの既定設定を返す。
func DefaultOptions() Options {
	return Options{
		Routes:        route.Default(),
		Assets:        []string{"/_next/", "/static/", "/images/", "/favicon.ico", "/robots.txt", "/sitemap.xml"},
		AlwaysAllowed: []string{route.PathHome, "/pricing", "/help", "/features", "/contact", "/privacy-policy"},
		PublicActions: []string{
			"/email-action",
			"/verify/[token]",
			"/book-appointment/[token]",
			"/employee-setup/[token]",
		},
		SubscriptionCallbacks: []string{route.PathSubscriptionSuccess, route.PathSubscriptionCancel},
		LoginPath:             route.PathLogin,
		DashboardPath:         route.PathDashboard,
		CompanyCreatePath:     route.PathCompanyCreate,
		Undeclared:            UndeclaredClosed,
	}
}

// Request はアクセス判定の入力。
type Request struct {
	// Path は要求されたページのパス。クエリ文字列は含まない。
	Path string
	// Session は認証状態。
	Session Session
	// Subscription はサブスクリプション状態。
	Subscription SubscriptionStatus
	// Company は会社情報の有無。Decideでのみ参照される。
	Company CompanyExistence
}

// CompanyLookup は会社情報の有無を問い合わせる。
type CompanyLookup interface {
	CompanyExists(ctx context.Context, s Session) (bool, error)
}

// CompanyLookupFunc は関数をCompanyLookupとして扱うためのアダプタ。
type CompanyLookupFunc func(ctx context.Context, s Session) (bool, error)

// CompanyExists はf(ctx, s)を呼び出す。
func (f CompanyLookupFunc) CompanyExists(ctx context.Context, s Session) (bool, error) {
	return f(ctx, s)
}

// guard はパイプラインの1段。結論を出した場合は第2戻り値がtrueになる。
type guard func(req Request) (Decision, bool)

// Gate は順序付きのガード列でアクセスを判定する。
// 生成後は不変のため、複数のゴルーチンから同時に使用できる。
type Gate struct {
	routes        *route.Table
	assets        []string
	alwaysAllowed []string
	publicActions []route.Template
	callbacks     map[string]struct{}
	login         string
	dashboard     string
	companyCreate string
	undeclared    UndeclaredPolicy
	pipeline      []guard
}

// New は設定からGateを生成する。
func New(opts Options) (*Gate, error) {
	if opts.Routes == nil {
		return nil, errors.New("ルートテーブルが指定されていません")
	}
	if opts.LoginPath == "" || opts.DashboardPath == "" || opts.CompanyCreatePath == "" {
		return nil, errors.New("ログイン・ダッシュボード・会社登録のパスはすべて必須です")
	}

	g := &Gate{
		routes:        opts.Routes,
		assets:        opts.Assets,
		alwaysAllowed: opts.AlwaysAllowed,
		callbacks:     make(map[string]struct{}, len(opts.SubscriptionCallbacks)),
		login:         opts.LoginPath,
		dashboard:     opts.DashboardPath,
		companyCreate: opts.CompanyCreatePath,
		undeclared:    opts.Undeclared,
	}
	for _, raw := range opts.PublicActions {
		t, err := route.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("公開アクションルートのコンパイルに失敗: %w", err)
		}
		g.publicActions = append(g.publicActions, t)
	}
	for _, p := range opts.SubscriptionCallbacks {
		g.callbacks[p] = struct{}{}
	}

	g.pipeline = []guard{
		g.checkAsset,
		g.checkAlwaysAllowed,
		g.checkPublicAction,
		g.checkSubscriptionCallback,
		g.checkAuthenticatedPublic,
		g.checkAnonymousPrivate,
		g.checkUndeclared,
	}
	return g, nil
}

// Routes は判定に使うルートテーブルを返す。
func (g *Gate) Routes() *route.Table {
	return g.routes
}

// Decide はreq.Companyを含むすべての入力が揃った状態で判定する。
func (g *Gate) Decide(req Request) Decision {
	d, _ := g.run(req, func() (CompanyExistence, error) { return req.Company, nil })
	return d
}

// Evaluate は認証まわりのガードを先に評価し、結論が出なかった認証済みリクエストに限って
// lookupで会社情報を問い合わせる。問い合わせに失敗した場合は会社未登録として扱い、
// 判定とあわせてエラーを返す。判定自体は常に有効な値になる。
func (g *Gate) Evaluate(ctx context.Context, req Request, lookup CompanyLookup) (Decision, error) {
	return g.run(req, func() (CompanyExistence, error) {
		exists, err := lookup.CompanyExists(ctx, req.Session)
		if err != nil {
			return CompanyExistence{}, err
		}
		return CompanyExistence{Exists: exists}, nil
	})
}

func (g *Gate) run(req Request, company func() (CompanyExistence, error)) (Decision, error) {
	for _, gd := range g.pipeline {
		if d, ok := gd(req); ok {
			return d, nil
		}
	}
	if !req.Session.IsAuthenticated {
		return allow(GuardDefault), nil
	}

	c, err := company()
	if err != nil {
		d := g.companyGate(req.Path, CompanyExistence{Exists: false})
		d.Reason = ReasonCheckFailed
		if d.Action == ActionRedirectCompanyCreate {
			d.Target = g.companyCreate + "?reason=" + ReasonCheckFailed
		}
		return d, fmt.Errorf("会社情報の確認に失敗: %w", err)
	}
	return g.companyGate(req.Path, c), nil
}

// companyGate は会社未登録のユーザーを会社登録画面に限定し、登録済みのユーザーを
// 会社登録画面から遠ざける。
func (g *Gate) companyGate(path string, c CompanyExistence) Decision {
	switch {
	case !c.Exists && path != g.companyCreate:
		return Decision{Action: ActionRedirectCompanyCreate, Target: g.companyCreate, Guard: GuardCompany}
	case c.Exists && path == g.companyCreate:
		return Decision{Action: ActionRedirectDashboard, Target: g.dashboard, Guard: GuardCompany}
	default:
		return allow(GuardDefault)
	}
}

func (g *Gate) checkAsset(req Request) (Decision, bool) {
	for _, a := range g.assets {
		if strings.HasSuffix(a, "/") {
			if strings.HasPrefix(req.Path, a) {
				return allow(GuardAsset), true
			}
		} else if req.Path == a {
			return allow(GuardAsset), true
		}
	}
	return Decision{}, false
}

func (g *Gate) checkAlwaysAllowed(req Request) (Decision, bool) {
	for _, p := range g.alwaysAllowed {
		if req.Path == p {
			return allow(GuardAlwaysAllowed), true
		}
		if p != "/" && strings.HasPrefix(req.Path, p+"/") {
			return allow(GuardAlwaysAllowed), true
		}
	}
	return Decision{}, false
}

func (g *Gate) checkPublicAction(req Request) (Decision, bool) {
	for _, t := range g.publicActions {
		if t.Match(req.Path) {
			return allow(GuardPublicAction), true
		}
	}
	return Decision{}, false
}

func (g *Gate) checkSubscriptionCallback(req Request) (Decision, bool) {
	if _, ok := g.callbacks[req.Path]; ok {
		return allow(GuardSubscriptionCallback), true
	}
	return Decision{}, false
}

func (g *Gate) checkAuthenticatedPublic(req Request) (Decision, bool) {
	if req.Session.IsAuthenticated && g.routes.Classify(req.Path).Kind == route.KindPublic {
		return Decision{Action: ActionRedirectDashboard, Target: g.dashboard, Guard: GuardAuthenticatedPublic}, true
	}
	return Decision{}, false
}

func (g *Gate) checkAnonymousPrivate(req Request) (Decision, bool) {
	if !req.Session.IsAuthenticated && g.routes.Classify(req.Path).Kind == route.KindPrivate {
		return g.redirectLogin(req.Path, GuardAnonymousPrivate), true
	}
	return Decision{}, false
}

func (g *Gate) checkUndeclared(req Request) (Decision, bool) {
	if g.undeclared != UndeclaredClosed || req.Session.IsAuthenticated {
		return Decision{}, false
	}
	if g.routes.Classify(req.Path).Kind == route.KindUndeclared {
		return g.redirectLogin(req.Path, GuardUndeclared), true
	}
	return Decision{}, false
}

// redirectLogin はログイン後に元のページへ戻れるよう、要求パスをクエリに付けたリダイレクトを返す。
func (g *Gate) redirectLogin(path, guardName string) Decision {
	target := g.login
	if path != "" && path != g.login {
		target += "?redirect=" + url.QueryEscape(path)
	}
	return Decision{Action: ActionRedirectLogin, Target: target, Guard: guardName}
}

func allow(guardName string) Decision {
	return Decision{Action: ActionAllow, Guard: guardName}
}
