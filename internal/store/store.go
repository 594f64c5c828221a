// Package store 持久化账户与审计日志。
//
// 提供三种实现: MongoStore (默认，文档数据库)、GormStore (MySQL) 和 MemoryStore (测试 / 本地)。
// 邮箱唯一性由存储层的唯一索引保证，并发注册时输掉竞争的一方收到 ErrDuplicateEmail。
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gianconstruction/internal/config"
	"gianconstruction/internal/model"

	"github.com/sethvargo/go-retry"
)

var (
	ErrNotFound       = errors.New("store: record not found")
	ErrDuplicateEmail = errors.New("store: email already exists")
	ErrUnavailable    = errors.New("store: database unavailable")
)

// AccountFilter 后台账户列表的过滤条件。零值表示不过滤。
type AccountFilter struct {
	Role   model.Role
	Active *bool
	Limit  int
}

// Store 是账户与审计日志的持久化接口。
type Store interface {
	FindAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	FindAccountByAccountID(ctx context.Context, accountID string) (*model.Account, error)
	InsertAccount(ctx context.Context, account *model.Account) error
	SaveAccount(ctx context.Context, account *model.Account) error
	DeleteAccount(ctx context.Context, id string) error
	ListAccounts(ctx context.Context, filter AccountFilter) ([]model.Account, error)

	AppendLog(ctx context.Context, entry *model.AuditLog) error
	ListLogs(ctx context.Context, limit int) ([]model.AuditLog, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

const defaultListLimit = 100

// Open 按配置连接数据库，连接阶段按指数退避重试。
// 重试耗尽后返回 ErrUnavailable。
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Driver {
	case "mongo":
		return connectWithRetry(ctx, cfg, logger, openMongo)
	case "mysql":
		return connectWithRetry(ctx, cfg, logger, openGorm)
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", cfg.Driver)
	}
}

type opener func(ctx context.Context, cfg config.DatabaseConfig) (Store, error)

func connectWithRetry(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger, open opener) (Store, error) {
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	base := cfg.ConnectBackoff
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	backoff := retry.WithMaxRetries(uint64(attempts-1), retry.NewExponential(base))

	var (
		st      Store
		attempt int
	)
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		s, err := open(ctx, cfg)
		if err != nil {
			if logger != nil {
				logger.Warn("database connect failed",
					slog.String("driver", cfg.Driver),
					slog.Int("attempt", attempt),
					slog.String("error", err.Error()),
				)
			}
			return retry.RetryableError(err)
		}
		st = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if logger != nil {
		logger.Info("database connected", slog.String("driver", cfg.Driver), slog.Int("attempts", attempt))
	}
	return st, nil
}

// classify 将超时类错误归为 ErrUnavailable。
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func listLimit(n int) int {
	if n <= 0 || n > 1000 {
		return defaultListLimit
	}
	return n
}
