package route

// よく参照されるルートのパス。
const (
	// PathHome はトップページ。
	PathHome = "/"
	// PathLogin はログイン画面。
	PathLogin = "/login"
	// PathDashboard はログイン後のダッシュボード。
	PathDashboard = "/dashboard"
	// PathCompanyCreate は会社情報の初期登録画面。
	PathCompanyCreate = "/company/create"
	// PathSubscriptionSuccess は決済完了後のコールバック画面。
	PathSubscriptionSuccess = "/subscription/success"
	// PathSubscriptionCancel は決済キャンセル後のコールバック画面。
	PathSubscriptionCancel = "/subscription/cancel"
)

// DefaultPublic はSafeInの公開ルート。
// ページを追加する場合は、DefaultPublicかDefaultPrivateのどちらか一方にだけ登録すること。
var DefaultPublic = map[string]string{
	"home":            PathHome,
	"login":           PathLogin,
	"register":        "/register",
	"forgotPassword":  "/forgot-password",
	"resetPassword":   "/reset-password/[token]",
	"verify":          "/verify/[token]",
	"emailAction":     "/email-action",
	"bookAppointment": "/book-appointment/[token]",
	"employeeSetup":   "/employee-setup/[token]",
	"pricing":         "/pricing",
	"help":            "/help",
	"features":        "/features",
	"contact":         "/contact",
	"privacyPolicy":   "/privacy-policy",
}

// DefaultPrivate はSafeInの非公開ルート。
var DefaultPrivate = map[string]string{
	"dashboard":             PathDashboard,
	"companyCreate":         PathCompanyCreate,
	"companySettings":       "/company/settings",
	"profile":               "/profile",
	"visitorList":           "/visitor/list",
	"visitorCreate":         "/visitor/create",
	"visitorTrash":          "/visitor/trash",
	"visitorDetail":         "/visitor/[id]",
	"visitorEdit":           "/visitor/edit/[id]",
	"employeeList":          "/employee/list",
	"employeeCreate":        "/employee/create",
	"employeeTrash":         "/employee/trash",
	"employeeDetail":        "/employee/[id]",
	"employeeEdit":          "/employee/edit/[id]",
	"appointmentList":       "/appointment/list",
	"appointmentCreate":     "/appointment/create",
	"appointmentTrash":      "/appointment/trash",
	"appointmentDetail":     "/appointment/[id]",
	"spotPassList":          "/spot-pass/list",
	"spotPassCreate":        "/spot-pass/create",
	"spotPassDetail":        "/spot-pass/[id]",
	"appointmentLinkList":   "/appointment-link/list",
	"appointmentLinkCreate": "/appointment-link/create",
	"appointmentLinkDetail": "/appointment-link/[id]",
	"notifications":         "/notifications",
	"subscription":          "/subscription",
	"subscriptionSuccess":   PathSubscriptionSuccess,
	"subscriptionCancel":    PathSubscriptionCancel,
}

// Default はDefaultPublicとDefaultPrivateから構築したテーブルを返す。
// 静的な定義のため失敗しない。
func Default() *Table {
	t, err := NewTable(DefaultPublic, DefaultPrivate)
	if err != nil {
		panic(err)
	}
	return t
}
