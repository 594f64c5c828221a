package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gianconstruction/internal/api/auth"
	"gianconstruction/internal/config"
	"gianconstruction/internal/model"

	"github.com/gin-gonic/gin"
)

type stubAccounts map[string]*model.Account

func (s stubAccounts) FindByAccountID(ctx context.Context, accountID string) (*model.Account, error) {
	acc, ok := s[accountID]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *acc
	return &cp, nil
}

func testRoutes() config.RoutesConfig {
	return config.RoutesConfig{
		Protected:   []string{"/dashboard", "/account", "/admin"},
		AuthOnly:    []string{"/login", "/signup"},
		Login:       "/login",
		Landing:     "/dashboard",
		AdminHome:   "/admin/dashboard",
		AdminPrefix: "/admin",
	}
}

func newAccount(accountID string, role model.Role) *model.Account {
	return &model.Account{
		ID:        accountID + "-key",
		AccountID: accountID,
		Email:     accountID + "@test.com",
		Role:      role,
		IsActive:  true,
		FirstName: "Ana",
		LastName:  "Reyes",
	}
}

func issue(t *testing.T, tokens *auth.TokenService, acc *model.Account) string {
	t.Helper()
	token, _, err := tokens.Issue(acc)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return token
}

func pageRouter(tokens *auth.TokenService, accounts AccountLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	pages := r.Group("/")
	pages.Use(SessionGuard(tokens, accounts, testRoutes(), "gc_session"), RoleGuard(testRoutes()))
	for _, p := range []string{"/login", "/signup", "/dashboard", "/account", "/admin/dashboard", "/admin/users", "/about"} {
		pages.GET(p, func(c *gin.Context) { c.String(http.StatusOK, "page") })
	}
	return r
}

func getPage(r http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: "gc_session", Value: token})
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestClassify(t *testing.T) {
	routes := testRoutes()
	cases := map[string]RouteClass{
		"/dashboard":       Protected,
		"/dashboard/stats": Protected,
		"/admin/users":     Protected,
		"/login":           AuthOnly,
		"/signup":          AuthOnly,
		"/":                Unclassified,
		"/dashboards":      Unclassified,
		"/about":           Unclassified,
	}
	for path, want := range cases {
		if got := Classify(routes, path); got != want {
			t.Errorf("Classify(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestSessionGuard_Redirects(t *testing.T) {
	tokens := auth.NewTokenService("secret", time.Hour)
	user := newAccount("USR-1", model.RoleStandard)
	r := pageRouter(tokens, stubAccounts{"USR-1": user})
	token := issue(t, tokens, user)

	tests := []struct {
		name     string
		path     string
		token    string
		code     int
		location string
	}{
		{"protected without session", "/dashboard", "", http.StatusFound, "/login"},
		{"protected with garbage token", "/account", "garbage", http.StatusFound, "/login"},
		{"protected with session", "/dashboard", token, http.StatusOK, ""},
		{"auth-only with session", "/login", token, http.StatusFound, "/dashboard"},
		{"auth-only without session", "/signup", "", http.StatusOK, ""},
		{"unclassified", "/about", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := getPage(r, tt.path, tt.token)
			if w.Code != tt.code {
				t.Fatalf("expected %d, got %d", tt.code, w.Code)
			}
			if tt.location != "" && w.Header().Get("Location") != tt.location {
				t.Fatalf("expected redirect to %q, got %q", tt.location, w.Header().Get("Location"))
			}
		})
	}
}

func TestSessionGuard_DeactivatedAccountTreatedAsLoggedOut(t *testing.T) {
	tokens := auth.NewTokenService("secret", time.Hour)
	user := newAccount("USR-1", model.RoleStandard)
	token := issue(t, tokens, user)
	user.IsActive = false
	r := pageRouter(tokens, stubAccounts{"USR-1": user})

	w := getPage(r, "/dashboard", token)
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/login" {
		t.Fatalf("expected redirect to login, got %d %q", w.Code, w.Header().Get("Location"))
	}
}

func TestRoleGuard(t *testing.T) {
	tokens := auth.NewTokenService("secret", time.Hour)
	user := newAccount("USR-1", model.RoleStandard)
	admin := newAccount("EMP-1", model.RoleAdmin)
	r := pageRouter(tokens, stubAccounts{"USR-1": user, "EMP-1": admin})

	w := getPage(r, "/admin/users", issue(t, tokens, user))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/dashboard" {
		t.Fatalf("expected standard user redirected to dashboard, got %d %q", w.Code, w.Header().Get("Location"))
	}
	w = getPage(r, "/dashboard", issue(t, tokens, admin))
	if w.Code != http.StatusFound || w.Header().Get("Location") != "/admin/dashboard" {
		t.Fatalf("expected admin redirected to admin dashboard, got %d %q", w.Code, w.Header().Get("Location"))
	}
	if w := getPage(r, "/admin/dashboard", issue(t, tokens, admin)); w.Code != http.StatusOK {
		t.Fatalf("expected admin to reach admin dashboard, got %d", w.Code)
	}
}

func apiRouter(tokens *auth.TokenService, accounts AccountLookup) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(AuthMiddleware(tokens, accounts, "gc_session"))
	r.GET("/session", func(c *gin.Context) {
		claims, _ := auth.ClaimsFromContext(c)
		c.String(http.StatusOK, claims.AccountID())
	})
	r.GET("/admin/api/logs", RequireRole(model.RoleAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewTokenService("secret", time.Hour)
	user := newAccount("USR-1", model.RoleStandard)
	inactive := newAccount("USR-2", model.RoleStandard)
	inactive.IsActive = false
	r := apiRouter(tokens, stubAccounts{"USR-1": user, "USR-2": inactive})

	req := httptest.NewRequest(http.MethodGet, "/session", nil)
	req.Header.Set("Authorization", "Bearer "+issue(t, tokens, user))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "USR-1" {
		t.Fatalf("expected bearer auth to pass, got %d %q", w.Code, w.Body.String())
	}

	if w := getPage(r, "/session", issue(t, tokens, user)); w.Code != http.StatusOK {
		t.Fatalf("expected cookie auth to pass, got %d", w.Code)
	}
	if w := getPage(r, "/session", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := getPage(r, "/session", issue(t, tokens, inactive)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for inactive account, got %d", w.Code)
	}
	expired := auth.NewTokenService("secret", time.Hour).WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	if w := getPage(r, "/session", issue(t, expired, user)); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for expired token, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	tokens := auth.NewTokenService("secret", time.Hour)
	user := newAccount("USR-1", model.RoleStandard)
	admin := newAccount("EMP-1", model.RoleAdmin)
	r := apiRouter(tokens, stubAccounts{"USR-1": user, "EMP-1": admin})

	if w := getPage(r, "/admin/api/logs", issue(t, tokens, user)); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for standard user, got %d", w.Code)
	}
	if w := getPage(r, "/admin/api/logs", issue(t, tokens, admin)); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d", w.Code)
	}
}

func TestIPThrottle(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	th := NewIPThrottle(1, 2)
	th.now = func() time.Time { return now }

	if !th.Allow("10.0.0.1") || !th.Allow("10.0.0.1") {
		t.Fatalf("expected burst of 2 to pass")
	}
	if th.Allow("10.0.0.1") {
		t.Fatalf("expected third request to be throttled")
	}
	if !th.Allow("10.0.0.2") {
		t.Fatalf("expected other ip unaffected")
	}
	now = now.Add(time.Second)
	if !th.Allow("10.0.0.1") {
		t.Fatalf("expected token refill after 1s")
	}
}
