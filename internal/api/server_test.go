package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gianconstruction/internal/account"
	"gianconstruction/internal/config"
	"gianconstruction/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

type captureMailer struct {
	codes map[string]string
}

func (m *captureMailer) SendVerificationCode(ctx context.Context, toEmail string, code string) error {
	m.codes[toEmail] = code
	return nil
}

type testEnv struct {
	srv    *Server
	mailer *captureMailer
	store  *store.MemoryStore
	now    time.Time
}

func testConfig() *config.Config {
	return &config.Config{
		App:      config.AppConfig{Env: "local", HTTPAddr: ":0"},
		Database: config.DatabaseConfig{WriteTimeout: time.Second},
		Security: config.SecurityConfig{JWTSecret: "test-secret", TokenTTL: 24 * time.Hour, CookieName: "gc_session"},
		RateLimit: config.RateLimitConfig{
			Backend:     "memory",
			MaxFailures: 3,
			Cooldown:    time.Minute,
			StateTTL:    time.Hour,
			PerIPRate:   1000,
			PerIPBurst:  1000,
		},
		Routes: config.RoutesConfig{
			Protected:   []string{"/dashboard", "/account", "/admin"},
			AuthOnly:    []string{"/login", "/signup"},
			Login:       "/login",
			Landing:     "/dashboard",
			AdminHome:   "/admin/dashboard",
			AdminPrefix: "/admin",
		},
		Admin: config.AdminConfig{
			Email:     "owner@gianconstruction.test",
			Password:  "owner-pass",
			FirstName: "Gian",
			LastName:  "Owner",
		},
	}
}

func newTestEnv(t *testing.T, cfg *config.Config, rdb *redis.Client) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	env := &testEnv{
		mailer: &captureMailer{codes: make(map[string]string)},
		store:  store.NewMemoryStore(),
		now:    time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC),
	}
	srv, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), Deps{
		Store:  env.store,
		Redis:  rdb,
		Mailer: env.mailer,
		Hasher: account.BcryptHasher{Cost: bcrypt.MinCost},
		Now:    func() time.Time { return env.now },
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := srv.SeedAdmin(context.Background()); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	env.srv = srv
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any, cookie string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: "gc_session", Value: cookie})
	}
	w := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, email, password string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/login", map[string]string{"email": email, "password": password}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login %s: expected 200, got %d: %s", email, w.Code, w.Body.String())
	}
	for _, c := range w.Result().Cookies() {
		if c.Name == "gc_session" {
			return c.Value
		}
	}
	t.Fatalf("login %s: no session cookie", email)
	return ""
}

func (e *testEnv) signup(t *testing.T, email string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/register", map[string]string{
		"email":          email,
		"password":       "secret1",
		"first_name":     "Ana",
		"last_name":      "Reyes",
		"contact_number": "09171234567",
	}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("register: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	w = e.do(t, http.MethodPost, "/register/confirm", map[string]string{"email": email, "otp": e.mailer.codes[email]}, "")
	if w.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		AccountID string `json:"account_id"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return body.AccountID
}

func TestServer_SessionLifecycle(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	id := env.signup(t, "ana@test.com")
	token := env.login(t, "ana@test.com", "secret1")

	w := env.do(t, http.MethodGet, "/session", nil, token)
	if w.Code != http.StatusOK {
		t.Fatalf("session: expected 200, got %d", w.Code)
	}
	var body struct {
		User struct {
			AccountID string `json:"account_id"`
			Email     string `json:"email"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.User.AccountID != id || body.User.Email != "ana@test.com" {
		t.Fatalf("unexpected session body %s", w.Body.String())
	}

	// 注销不吊销令牌，旧令牌在有效期内仍可用
	if w := env.do(t, http.MethodPost, "/logout", nil, token); w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/session", nil, token); w.Code != http.StatusOK {
		t.Fatalf("expected old token still valid after logout, got %d", w.Code)
	}

	env.now = env.now.Add(24*time.Hour + time.Second)
	if w := env.do(t, http.MethodGet, "/session", nil, token); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected expired token rejected, got %d", w.Code)
	}
}

func TestServer_PageGuards(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	env.signup(t, "ana@test.com")
	user := env.login(t, "ana@test.com", "secret1")
	admin := env.login(t, "owner@gianconstruction.test", "owner-pass")

	tests := []struct {
		path     string
		cookie   string
		code     int
		location string
	}{
		{"/dashboard", "", http.StatusFound, "/login"},
		{"/admin/users", "", http.StatusFound, "/login"},
		{"/login", user, http.StatusFound, "/dashboard"},
		{"/dashboard", user, http.StatusOK, ""},
		{"/admin/inventory", user, http.StatusFound, "/dashboard"},
		{"/dashboard", admin, http.StatusFound, "/admin/dashboard"},
		{"/admin/users", admin, http.StatusOK, ""},
		{"/signup", "", http.StatusOK, ""},
	}
	for _, tt := range tests {
		w := env.do(t, http.MethodGet, tt.path, nil, tt.cookie)
		if w.Code != tt.code {
			t.Fatalf("%s: expected %d, got %d", tt.path, tt.code, w.Code)
		}
		if tt.location != "" && w.Header().Get("Location") != tt.location {
			t.Fatalf("%s: expected redirect to %q, got %q", tt.path, tt.location, w.Header().Get("Location"))
		}
	}
}

func TestServer_AdminDeactivateWritesAuditLog(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	id := env.signup(t, "ana@test.com")
	user := env.login(t, "ana@test.com", "secret1")
	admin := env.login(t, "owner@gianconstruction.test", "owner-pass")

	if w := env.do(t, http.MethodGet, "/admin/api/accounts", nil, user); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for standard user, got %d", w.Code)
	}

	w := env.do(t, http.MethodPatch, "/admin/api/accounts/"+id+"/active", map[string]bool{"is_active": false}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("deactivate: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	// 停用后旧会话立即失效
	if w := env.do(t, http.MethodGet, "/session", nil, user); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected deactivated session rejected, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/login", map[string]string{"email": "ana@test.com", "password": "secret1"}, ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 login for deactivated account, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/admin/api/logs", nil, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("logs: expected 200, got %d", w.Code)
	}
	var body struct {
		Logs []struct {
			Action      string `json:"action"`
			ActorEmail  string `json:"actor_email"`
			TargetEmail string `json:"target_email"`
		} `json:"logs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Logs) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(body.Logs))
	}
	got := body.Logs[0]
	if got.Action != "Deactivated account of Ana Reyes" || got.ActorEmail != "owner@gianconstruction.test" || got.TargetEmail != "ana@test.com" {
		t.Fatalf("unexpected log entry %+v", got)
	}
}

func TestServer_AdminUpdateAndCreateEmployee(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	id := env.signup(t, "ana@test.com")
	admin := env.login(t, "owner@gianconstruction.test", "owner-pass")

	w := env.do(t, http.MethodPatch, "/admin/api/accounts/"+id, map[string]string{"first_name": "Anna", "contact_number": "09998887777"}, admin)
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodPatch, "/admin/api/accounts/"+id, map[string]string{"role": "owner"}, admin); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown role, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPatch, "/admin/api/accounts/USR-missing", map[string]string{"first_name": "X"}, admin); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", w.Code)
	}

	w = env.do(t, http.MethodPost, "/admin/api/employees", map[string]string{
		"email":          "crew@test.com",
		"password":       "crew-pass",
		"first_name":     "Ben",
		"last_name":      "Cruz",
		"contact_number": "09170000000",
	}, admin)
	if w.Code != http.StatusCreated {
		t.Fatalf("create employee: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	env.login(t, "crew@test.com", "crew-pass")

	w = env.do(t, http.MethodGet, "/admin/api/accounts?role=admin", nil, admin)
	var list struct {
		Accounts []struct {
			Email string `json:"email"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Accounts) != 2 {
		t.Fatalf("expected 2 admin accounts, got %d: %s", len(list.Accounts), w.Body.String())
	}
}

func TestServer_AdminCannotDemoteOrDeactivateSelf(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil)
	admin := env.login(t, "owner@gianconstruction.test", "owner-pass")

	w := env.do(t, http.MethodGet, "/session", nil, admin)
	var body struct {
		User struct {
			AccountID string `json:"account_id"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	self := body.User.AccountID

	if w := env.do(t, http.MethodPatch, "/admin/api/accounts/"+self, map[string]string{"role": "standard"}, admin); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self demotion, got %d: %s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodPatch, "/admin/api/accounts/"+self+"/active", map[string]bool{"is_active": false}, admin); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for self deactivation, got %d: %s", w.Code, w.Body.String())
	}
	if w := env.do(t, http.MethodGet, "/admin/api/accounts", nil, admin); w.Code != http.StatusOK {
		t.Fatalf("expected admin access to remain, got %d", w.Code)
	}
}

func TestServer_RedisBackedLimiterAndHealthz(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := testConfig()
	cfg.RateLimit.Backend = "redis"
	env := newTestEnv(t, cfg, rdb)
	env.signup(t, "ana@test.com")

	for i := 0; i < 2; i++ {
		if w := env.do(t, http.MethodPost, "/login", map[string]string{"email": "ana@test.com", "password": "bad"}, ""); w.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, w.Code)
		}
	}
	if w := env.do(t, http.MethodPost, "/login", map[string]string{"email": "ana@test.com", "password": "bad"}, ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/login", map[string]string{"email": "ana@test.com", "password": "secret1"}, ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected correct password rejected while cooling, got %d", w.Code)
	}

	if w := env.do(t, http.MethodGet, "/healthz", nil, ""); w.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", w.Code)
	}
	mr.Close()
	if w := env.do(t, http.MethodGet, "/healthz", nil, ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthz: expected 503 with redis down, got %d", w.Code)
	}
}

func TestServer_PublicThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.PerIPRate = 0.001
	cfg.RateLimit.PerIPBurst = 2
	env := newTestEnv(t, cfg, nil)

	for i := 0; i < 2; i++ {
		env.do(t, http.MethodPost, "/register/resend", map[string]string{"email": "x@test.com"}, "")
	}
	if w := env.do(t, http.MethodPost, "/register/resend", map[string]string{"email": "x@test.com"}, ""); w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected throttled request, got %d", w.Code)
	}
}

func TestServer_ThrottleIgnoresForwardedForWithoutTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.PerIPRate = 0.001
	cfg.RateLimit.PerIPBurst = 2
	env := newTestEnv(t, cfg, nil)

	send := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/register/resend", bytes.NewReader([]byte(`{"email":"x@test.com"}`)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		w := httptest.NewRecorder()
		env.srv.Router().ServeHTTP(w, req)
		return w.Code
	}

	send("203.0.113.1")
	send("203.0.113.2")
	if code := send("203.0.113.3"); code != http.StatusTooManyRequests {
		t.Fatalf("expected rotated X-Forwarded-For to share one bucket, got %d", code)
	}
}

func TestServer_ThrottleHonoursTrustedProxy(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.PerIPRate = 0.001
	cfg.RateLimit.PerIPBurst = 1
	cfg.App.TrustedProxies = []string{"192.0.2.0/24"}
	env := newTestEnv(t, cfg, nil)

	send := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodPost, "/register/resend", bytes.NewReader([]byte(`{"email":"x@test.com"}`)))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", forwardedFor)
		w := httptest.NewRecorder()
		env.srv.Router().ServeHTTP(w, req)
		return w.Code
	}

	if code := send("198.51.100.1"); code == http.StatusTooManyRequests {
		t.Fatalf("first client should not be throttled")
	}
	if code := send("198.51.100.2"); code == http.StatusTooManyRequests {
		t.Fatalf("expected a distinct client behind the trusted proxy to get its own bucket")
	}
}
