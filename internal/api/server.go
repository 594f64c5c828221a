package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gianconstruction/internal/account"
	"gianconstruction/internal/api/auth"
	"gianconstruction/internal/api/middleware"
	"gianconstruction/internal/config"
	"gianconstruction/internal/model"
	"gianconstruction/internal/pkg/metrics"
	"gianconstruction/internal/pkg/notify"
	"gianconstruction/internal/pkg/ratelimit"
	"gianconstruction/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有账户存储、可选的 Redis 客户端 (共享登录限流状态) 以及 Gin 路由引擎。
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    store.Store
	rdb      *redis.Client
	router   *gin.Engine
	accounts *account.Service
	tokens   *auth.TokenService
	auth     *auth.Handler
	throttle *middleware.IPThrottle
}

// Deps 可替换的外部依赖，测试中注入。
type Deps struct {
	Store  store.Store
	Redis  *redis.Client // 为 nil 时使用进程内限流
	Mailer notify.Notifier
	Hasher account.Hasher
	Now    func() time.Time
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接账户存储 (MongoDB 或 MySQL)，失败时按配置重试
// 2. ratelimit.backend=redis 时连接 Redis
// 3. 初始化邮件发送、登录限流、令牌服务与 Gin 路由
//
// 参数:
//
//	ctx: 上下文
//	cfg: 配置对象 (需已通过 Validate)
//	logger: 日志记录器
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.Open(ctx, cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.RateLimit.Backend == "redis" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = st.Close(context.Background())
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	mailer := notify.NewEmailNotifier(cfg.Email, account.OTPTTL, logger)
	return New(cfg, logger, Deps{Store: st, Redis: rdb, Mailer: mailer})
}

// New 用给定依赖组装服务器。
func New(cfg *config.Config, logger *slog.Logger, deps Deps) (*Server, error) {
	if deps.Store == nil {
		return nil, errors.New("api: store is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	hasher := deps.Hasher
	if hasher == nil {
		hasher = account.NewBcryptHasher()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	accounts := account.NewService(deps.Store, hasher, logger,
		account.WithClock(now),
		account.WithWriteTimeout(cfg.Database.WriteTimeout),
	)
	tokens := auth.NewTokenService(cfg.Security.JWTSecret, cfg.Security.TokenTTL).WithClock(now)
	authSvc := auth.NewService(accounts, deps.Mailer, newLimiter(cfg.RateLimit, deps.Redis, now), tokens, logger)

	// 初始化 Prometheus 指标
	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	// 未配置代理时 ClientIP 只取 RemoteAddr，客户端无法靠伪造 X-Forwarded-For 绕过按 IP 限流
	if err := r.SetTrustedProxies(cfg.App.TrustedProxies); err != nil {
		return nil, fmt.Errorf("api: trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    deps.Store,
		rdb:      deps.Redis,
		router:   r,
		accounts: accounts,
		tokens:   tokens,
		auth: auth.NewHandler(authSvc, auth.CookieConfig{
			Name:   cfg.Security.CookieName,
			Secure: cfg.App.IsProd(),
		}, logger),
		throttle: middleware.NewIPThrottle(cfg.RateLimit.PerIPRate, cfg.RateLimit.PerIPBurst),
	}
	s.registerRoutes()
	return s, nil
}

func newLimiter(cfg config.RateLimitConfig, rdb *redis.Client, now func() time.Time) ratelimit.LoginLimiter {
	policy := ratelimit.Policy{
		MaxFailures: cfg.MaxFailures,
		Cooldown:    cfg.Cooldown,
		StateTTL:    cfg.StateTTL,
	}
	if rdb != nil {
		return ratelimit.NewRedisLimiter(rdb, policy, "").WithClock(now)
	}
	return ratelimit.NewMemoryLimiter(policy).WithClock(now)
}

// Run 启动 HTTP 服务器，ctx 取消后优雅退出。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.App.HTTPAddr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", slog.String("addr", s.cfg.App.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("api server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭存储与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registerRoutes 注册所有路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	cookie := s.cfg.Security.CookieName

	public := s.router.Group("/")
	public.Use(s.throttle.Middleware())
	public.POST("/register", s.auth.Register)
	public.POST("/register/confirm", s.auth.Confirm)
	public.POST("/register/resend", s.auth.Resend)
	public.POST("/login", s.auth.Login)
	s.router.POST("/logout", s.auth.Logout)

	authed := s.router.Group("/")
	authed.Use(middleware.AuthMiddleware(s.tokens, s.accounts, cookie))
	authed.GET("/session", s.auth.Session)

	admin := s.router.Group("/admin/api")
	admin.Use(middleware.AuthMiddleware(s.tokens, s.accounts, cookie), middleware.RequireRole(model.RoleAdmin))
	admin.GET("/accounts", s.handleListAccounts)
	admin.PATCH("/accounts/:id", s.handleUpdateAccount)
	admin.PATCH("/accounts/:id/active", s.handleSetActive)
	admin.POST("/employees", s.handleCreateEmployee)
	admin.GET("/logs", s.handleListLogs)

	pages := s.router.Group("/")
	pages.Use(
		middleware.SessionGuard(s.tokens, s.accounts, s.cfg.Routes, cookie),
		middleware.RoleGuard(s.cfg.Routes),
	)
	for _, p := range pagePaths {
		pages.GET(p.path, s.pageHandler(p.title))
	}
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "store"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "component": "redis"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
