package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

const defaultConfigPath = "configs/config.yaml"

var (
	// ErrMissingJWTSecret 缺少签名密钥时拒绝启动。
	ErrMissingJWTSecret = errors.New("config: security.jwt_secret is required")
	// ErrMissingDatabaseURI 缺少数据库连接串时拒绝启动。
	ErrMissingDatabaseURI = errors.New("config: database.uri is required")
)

// Config 保存应用程序配置。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Email     EmailConfig     `mapstructure:"email"`
	Security  SecurityConfig  `mapstructure:"security"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Routes    RoutesConfig    `mapstructure:"routes"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env             string        `mapstructure:"env"`              // 运行环境: local / prod
	LogLevel        string        `mapstructure:"log_level"`        // 日志级别: debug / info / warn / error
	HTTPAddr        string        `mapstructure:"http_addr"`        // API 服务监听地址
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // 优雅退出等待时间
	TrustedProxies  []string      `mapstructure:"trusted_proxies"`  // 可信反向代理 (IP/CIDR)，为空时忽略 X-Forwarded-For
}

// IsProd 生产环境下 Cookie 带 Secure 标记。
func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, "prod") || strings.EqualFold(a.Env, "production")
}

// DatabaseConfig 账户存储配置。
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`           // mongo / mysql
	URI             string        `mapstructure:"uri"`              // 连接串 (mongodb://... 或 MySQL DSN)
	Name            string        `mapstructure:"name"`             // Mongo 数据库名
	ConnectAttempts int           `mapstructure:"connect_attempts"` // 连接重试次数
	ConnectBackoff  time.Duration `mapstructure:"connect_backoff"`  // 首次重试等待，之后指数增长
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`  // 单次连接 / Ping 超时
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`    // 单次逻辑写入的整体超时
}

// RedisConfig Redis 配置，仅在 ratelimit.backend=redis 时使用。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// EmailConfig 邮件发送配置。
type EmailConfig struct {
	SMTPHost  string `mapstructure:"smtp_host"`
	SMTPPort  int    `mapstructure:"smtp_port"`
	SMTPUser  string `mapstructure:"smtp_user"`
	SMTPPass  string `mapstructure:"smtp_pass"`
	FromEmail string `mapstructure:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`  // JWT 签名密钥
	TokenTTL   time.Duration `mapstructure:"token_ttl"`   // 会话有效期
	CookieName string        `mapstructure:"cookie_name"` // 会话 Cookie 名
}

// RateLimitConfig 登录失败限流与接口限流。
type RateLimitConfig struct {
	Backend     string        `mapstructure:"backend"`      // memory / redis
	MaxFailures int           `mapstructure:"max_failures"` // 进入冷却前允许的失败次数
	Cooldown    time.Duration `mapstructure:"cooldown"`     // 冷却时长
	StateTTL    time.Duration `mapstructure:"state_ttl"`    // 失败计数的保留时长
	PerIPRate   float64       `mapstructure:"per_ip_rate"`  // 认证接口每 IP 每秒请求数
	PerIPBurst  int           `mapstructure:"per_ip_burst"` // 认证接口每 IP 突发量
}

// RoutesConfig 页面守卫的路由分类。
type RoutesConfig struct {
	Protected   []string `mapstructure:"protected"`    // 需要登录的路径前缀
	AuthOnly    []string `mapstructure:"auth_only"`    // 已登录用户不应看到的页面
	Login       string   `mapstructure:"login"`        // 登录入口
	Landing     string   `mapstructure:"landing"`      // 普通用户首页
	AdminHome   string   `mapstructure:"admin_home"`   // 管理员首页
	AdminPrefix string   `mapstructure:"admin_prefix"` // 管理后台路径前缀
}

// AdminConfig 启动时创建的初始管理员，Email 为空时跳过。
type AdminConfig struct {
	Email     string `mapstructure:"email"`
	Password  string `mapstructure:"password"`
	FirstName string `mapstructure:"first_name"`
	LastName  string `mapstructure:"last_name"`
}

// Load 加载配置。
//
// 顺序: 内置默认值 -> 配置文件 (YAML/JSON，默认 configs/config.yaml，不存在则跳过) -> 环境变量。
// 环境变量使用 GC_ 前缀，如 GC_SECURITY_JWT_SECRET；同时兼容 JWT_SECRET、DB_URI 等常用名。
func Load(configPath ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("GC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	path := defaultConfigPath
	explicit := len(configPath) > 0 && configPath[0] != ""
	if explicit {
		path = configPath[0]
	}
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else if explicit {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	normalize(cfg)
	return cfg, nil
}

// Validate 检查启动必需项。缺少密钥或连接串属于致命错误。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Security.JWTSecret) == "" {
		return ErrMissingJWTSecret
	}
	if strings.TrimSpace(c.Database.URI) == "" {
		return ErrMissingDatabaseURI
	}
	switch c.Database.Driver {
	case "mongo", "mysql":
	default:
		return fmt.Errorf("config: unsupported database.driver %q", c.Database.Driver)
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return errors.New("config: redis.addr is required for ratelimit.backend=redis")
		}
	default:
		return fmt.Errorf("config: unsupported ratelimit.backend %q", c.RateLimit.Backend)
	}
	if c.RateLimit.MaxFailures <= 0 {
		return errors.New("config: ratelimit.max_failures must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "local")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.http_addr", ":8080")
	v.SetDefault("app.shutdown_timeout", 5*time.Second)
	v.SetDefault("app.trusted_proxies", []string{})

	v.SetDefault("database.driver", "mongo")
	v.SetDefault("database.uri", "")
	v.SetDefault("database.name", "gianconstruction")
	v.SetDefault("database.connect_attempts", 3)
	v.SetDefault("database.connect_backoff", 500*time.Millisecond)
	v.SetDefault("database.connect_timeout", 5*time.Second)
	v.SetDefault("database.write_timeout", 5*time.Second)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("email.smtp_host", "smtp.gmail.com")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.smtp_user", "")
	v.SetDefault("email.smtp_pass", "")
	v.SetDefault("email.from_email", "")

	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.token_ttl", 24*time.Hour)
	v.SetDefault("security.cookie_name", "gc_session")

	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.max_failures", 3)
	v.SetDefault("ratelimit.cooldown", 60*time.Second)
	v.SetDefault("ratelimit.state_ttl", time.Hour)
	v.SetDefault("ratelimit.per_ip_rate", 5.0)
	v.SetDefault("ratelimit.per_ip_burst", 10)

	v.SetDefault("routes.protected", []string{"/dashboard", "/account", "/admin"})
	v.SetDefault("routes.auth_only", []string{"/login", "/signup"})
	v.SetDefault("routes.login", "/login")
	v.SetDefault("routes.landing", "/dashboard")
	v.SetDefault("routes.admin_home", "/admin/dashboard")
	v.SetDefault("routes.admin_prefix", "/admin")

	v.SetDefault("admin.email", "")
	v.SetDefault("admin.password", "")
	v.SetDefault("admin.first_name", "Site")
	v.SetDefault("admin.last_name", "Administrator")
}

func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("security.jwt_secret", "GC_SECURITY_JWT_SECRET", "JWT_SECRET")
	_ = v.BindEnv("database.uri", "GC_DATABASE_URI", "DB_URI", "MONGODB_URI", "DB_DSN")
	_ = v.BindEnv("redis.addr", "GC_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "GC_REDIS_PASSWORD", "REDIS_PASSWORD")
	_ = v.BindEnv("email.smtp_host", "GC_EMAIL_SMTP_HOST", "SMTP_HOST")
	_ = v.BindEnv("email.smtp_user", "GC_EMAIL_SMTP_USER", "SMTP_USER")
	_ = v.BindEnv("email.smtp_pass", "GC_EMAIL_SMTP_PASS", "SMTP_PASS")
	_ = v.BindEnv("email.from_email", "GC_EMAIL_FROM_EMAIL", "SMTP_FROM")
	_ = v.BindEnv("app.env", "GC_APP_ENV", "APP_ENV")
}

func normalize(cfg *Config) {
	cfg.App.Env = strings.TrimSpace(strings.ToLower(cfg.App.Env))
	cfg.Database.Driver = strings.TrimSpace(strings.ToLower(cfg.Database.Driver))
	cfg.Database.URI = strings.TrimSpace(cfg.Database.URI)
	cfg.RateLimit.Backend = strings.TrimSpace(strings.ToLower(cfg.RateLimit.Backend))
	cfg.Admin.Email = strings.TrimSpace(strings.ToLower(cfg.Admin.Email))
	if cfg.Database.ConnectAttempts <= 0 {
		cfg.Database.ConnectAttempts = 1
	}
	if cfg.Database.Driver == "mysql" && cfg.Database.URI != "" {
		cfg.Database.URI = normalizeMySQLDSN(cfg.Database.URI)
	}
}

// normalizeMySQLDSN 确保 DSN 带 parseTime=true，时间字段才能扫描进 time.Time。
// 无法解析的 DSN 原样返回，交给驱动报错。
func normalizeMySQLDSN(dsn string) string {
	parsed, err := mysql.ParseDSN(dsn)
	if err != nil {
		return dsn
	}
	parsed.ParseTime = true
	if parsed.Loc == nil {
		parsed.Loc = time.UTC
	}
	return parsed.FormatDSN()
}
