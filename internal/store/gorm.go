package store

import (
	"context"
	"errors"
	"fmt"

	"gianconstruction/internal/config"
	"gianconstruction/internal/model"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const mysqlDuplicateEntry = 1062

// GormStore 基于 GORM (MySQL) 的实现。
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func openGorm(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	db, err := gorm.Open(mysql.Open(cfg.URI), &gorm.Config{
		Logger:                 gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
		TranslateError:         true,
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("mysql open: %w", err)
	}
	s := NewGormStore(db)
	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := s.Ping(pingCtx); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close(context.Background())
		return nil, err
	}
	return s, nil
}

// Migrate 自动迁移表结构（含邮箱唯一索引）。
func (s *GormStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&model.Account{}, &model.AuditLog{}); err != nil {
		return fmt.Errorf("mysql migrate: %w", err)
	}
	return nil
}

func (s *GormStore) FindAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	var a model.Account
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&a).Error; err != nil {
		return nil, gormErr("find account", err)
	}
	return &a, nil
}

func (s *GormStore) FindAccountByAccountID(ctx context.Context, accountID string) (*model.Account, error) {
	if accountID == "" {
		return nil, ErrNotFound
	}
	var a model.Account
	if err := s.db.WithContext(ctx).Where("account_id = ?", accountID).First(&a).Error; err != nil {
		return nil, gormErr("find account", err)
	}
	return &a, nil
}

func (s *GormStore) InsertAccount(ctx context.Context, account *model.Account) error {
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return gormErr("insert account", err)
	}
	return nil
}

func (s *GormStore) SaveAccount(ctx context.Context, account *model.Account) error {
	res := s.db.WithContext(ctx).Model(&model.Account{ID: account.ID}).Select("*").Updates(account)
	if res.Error != nil {
		return gormErr("save account", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteAccount(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&model.Account{}, "id = ?", id)
	if res.Error != nil {
		return gormErr("delete account", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) ListAccounts(ctx context.Context, filter AccountFilter) ([]model.Account, error) {
	q := s.db.WithContext(ctx).Model(&model.Account{})
	if filter.Role != "" {
		q = q.Where("role = ?", filter.Role)
	}
	if filter.Active != nil {
		q = q.Where("is_active = ?", *filter.Active)
	}
	var out []model.Account
	if err := q.Order("created_at desc").Limit(listLimit(filter.Limit)).Find(&out).Error; err != nil {
		return nil, gormErr("list accounts", err)
	}
	return out, nil
}

func (s *GormStore) AppendLog(ctx context.Context, entry *model.AuditLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return gormErr("append log", err)
	}
	return nil
}

func (s *GormStore) ListLogs(ctx context.Context, limit int) ([]model.AuditLog, error) {
	var out []model.AuditLog
	if err := s.db.WithContext(ctx).Order("created_at desc").Limit(listLimit(limit)).Find(&out).Error; err != nil {
		return nil, gormErr("list logs", err)
	}
	return out, nil
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *GormStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func gormErr(op string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	if isDuplicateKey(err) {
		return ErrDuplicateEmail
	}
	return classify(fmt.Errorf("%s: %w", op, err))
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var me *mysqldriver.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
