// Package account 实现账户凭据的业务语义：待验证注册、验证码确认激活、重发验证码，
// 以及管理员对账户的启停、资料修改（均写审计日志）。
package account

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"gianconstruction/internal/model"
	"gianconstruction/internal/store"

	"github.com/google/uuid"
)

const minPasswordLength = 6

var (
	ErrDuplicateEmail        = store.ErrDuplicateEmail
	ErrNotFound              = store.ErrNotFound
	ErrDatabaseUnavailable   = store.ErrUnavailable
	ErrNoPendingRegistration = errors.New("no pending registration for this email")
	ErrAlreadyVerified       = errors.New("account is already verified")
	ErrInvalidOrExpiredOTP   = errors.New("invalid or expired verification code")
	ErrValidation            = errors.New("validation failed")
)

// OTPError 验证码不匹配或已过期，Remaining 为原验证码剩余有效时间（过期时为 0）。
type OTPError struct {
	Expired   bool
	Remaining time.Duration
}

func (e *OTPError) Error() string {
	if e.Expired {
		return "verification code expired"
	}
	return ErrInvalidOrExpiredOTP.Error()
}

func (e *OTPError) Unwrap() error { return ErrInvalidOrExpiredOTP }

// Service 是凭据存储的业务层。
type Service struct {
	store        store.Store
	hasher       Hasher
	logger       *slog.Logger
	now          func() time.Time
	writeTimeout time.Duration
	generateOTP  func() (string, error)
}

// Option 配置 Service。
type Option func(*Service)

// WithClock 注入时钟，测试用。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithWriteTimeout 设置单次写入的超时。
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Service) { s.writeTimeout = d }
}

// WithOTPGenerator 替换验证码生成器。
func WithOTPGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.generateOTP = gen }
}

func NewService(st store.Store, hasher Hasher, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:        st,
		hasher:       hasher,
		logger:       logger,
		now:          time.Now,
		writeTimeout: 5 * time.Second,
		generateOTP:  GenerateOTP,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Hasher 返回密码哈希器，登录流程复用。
func (s *Service) Hasher() Hasher {
	return s.hasher
}

// Now 返回服务使用的当前时间。
func (s *Service) Now() time.Time {
	return s.now()
}

// NormalizeEmail 去空白并转小写。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail 校验邮箱格式（需先 NormalizeEmail）。
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("%w: email is required", ErrValidation)
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || strings.ToLower(addr.Address) != email {
		return fmt.Errorf("%w: invalid email", ErrValidation)
	}
	return nil
}

func validateProfile(p model.Profile, password string) error {
	if err := ValidateEmail(p.Email); err != nil {
		return err
	}
	if strings.TrimSpace(p.FirstName) == "" || strings.TrimSpace(p.LastName) == "" {
		return fmt.Errorf("%w: first and last name are required", ErrValidation)
	}
	if strings.TrimSpace(p.ContactNumber) == "" {
		return fmt.Errorf("%w: contact number is required", ErrValidation)
	}
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrValidation, minPasswordLength)
	}
	return nil
}

// FindByEmail 大小写不敏感的精确匹配。
func (s *Service) FindByEmail(ctx context.Context, email string) (*model.Account, error) {
	return s.store.FindAccountByEmail(ctx, NormalizeEmail(email))
}

// FindByAccountID 按可读编号查找。
func (s *Service) FindByAccountID(ctx context.Context, accountID string) (*model.Account, error) {
	return s.store.FindAccountByAccountID(ctx, strings.TrimSpace(accountID))
}

// CreatePending 创建待验证账户并附上新验证码。
//
// 密码在此处即哈希，待验证记录中只保存哈希值。
// 预检查只是快速失败，真正的唯一性由存储层的唯一索引保证。
func (s *Service) CreatePending(ctx context.Context, p model.Profile, password string) (*model.Account, error) {
	p = trimProfile(p)
	if err := validateProfile(p, password); err != nil {
		return nil, err
	}

	if _, err := s.store.FindAccountByEmail(ctx, p.Email); err == nil {
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	code, err := s.generateOTP()
	if err != nil {
		return nil, err
	}

	now := s.now()
	exp := OTPExpiry(now)
	acc := &model.Account{
		ID:                  uuid.NewString(),
		Email:               p.Email,
		PasswordHash:        hash,
		Role:                model.RoleStandard,
		IsActive:            false,
		PendingRegistration: true,
		OTPCode:             code,
		OTPExpiresAt:        &exp,
		FirstName:           p.FirstName,
		LastName:            p.LastName,
		ContactNumber:       p.ContactNumber,
		Gender:              p.Gender,
		Address:             p.Address,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	if err := s.store.InsertAccount(wctx, acc); err != nil {
		return nil, s.writeErr(wctx, "create pending account", err)
	}
	return acc, nil
}

// Activate 校验验证码并激活账户。
func (s *Service) Activate(ctx context.Context, email, code string) (*model.Account, error) {
	acc, err := s.store.FindAccountByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoPendingRegistration
		}
		return nil, err
	}
	if !acc.PendingRegistration {
		return nil, ErrNoPendingRegistration
	}

	now := s.now()
	code = strings.TrimSpace(code)
	if acc.OTPCode == "" || acc.OTPExpiresAt == nil ||
		subtle.ConstantTimeCompare([]byte(acc.OTPCode), []byte(code)) != 1 {
		return nil, &OTPError{Remaining: remaining(acc.OTPExpiresAt, now)}
	}
	if now.After(*acc.OTPExpiresAt) {
		return nil, &OTPError{Expired: true}
	}

	acc.AccountID = NewAccountID(acc.Role)
	acc.OTPCode = ""
	acc.OTPExpiresAt = nil
	acc.PendingRegistration = false
	acc.IsActive = true
	acc.UpdatedAt = now

	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	if err := s.store.SaveAccount(wctx, acc); err != nil {
		return nil, s.writeErr(wctx, "activate account", err)
	}
	return acc, nil
}

// ReissueOTP 为待验证账户签发新验证码，旧验证码随即失效。
func (s *Service) ReissueOTP(ctx context.Context, email string) (*model.Account, error) {
	acc, err := s.store.FindAccountByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoPendingRegistration
		}
		return nil, err
	}
	if !acc.PendingRegistration {
		if acc.IsActive {
			return nil, ErrAlreadyVerified
		}
		return nil, ErrNoPendingRegistration
	}

	code, err := s.generateOTP()
	if err != nil {
		return nil, err
	}
	now := s.now()
	exp := OTPExpiry(now)
	acc.OTPCode = code
	acc.OTPExpiresAt = &exp
	acc.UpdatedAt = now

	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	if err := s.store.SaveAccount(wctx, acc); err != nil {
		return nil, s.writeErr(wctx, "reissue otp", err)
	}
	return acc, nil
}

// Delete 删除记录，仅用于验证码邮件发送失败后的回滚。
func (s *Service) Delete(ctx context.Context, id string) error {
	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	if err := s.store.DeleteAccount(wctx, id); err != nil {
		return s.writeErr(wctx, "delete account", err)
	}
	return nil
}

// SetActive 管理员启用 / 停用账户。待验证账户不能被直接启用。
func (s *Service) SetActive(ctx context.Context, actor model.Actor, accountID string, active bool) (*model.Account, error) {
	acc, err := s.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if acc.PendingRegistration {
		return nil, fmt.Errorf("%w: account has not completed registration", ErrValidation)
	}
	if !active && isSelf(actor, acc) {
		return nil, fmt.Errorf("%w: cannot deactivate your own account", ErrValidation)
	}
	if acc.IsActive == active {
		return acc, nil
	}
	acc.IsActive = active
	acc.UpdatedAt = s.now()

	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	if err := s.store.SaveAccount(wctx, acc); err != nil {
		return nil, s.writeErr(wctx, "set active", err)
	}

	action := "Deactivated account"
	if active {
		action = "Activated account"
	}
	s.audit(ctx, actor, acc, fmt.Sprintf("%s of %s", action, acc.FullName()))
	return acc, nil
}

// UpdateProfile 管理员修改资料。
func (s *Service) UpdateProfile(ctx context.Context, actor model.Actor, accountID string, upd model.ProfileUpdate) (*model.Account, error) {
	if upd.Empty() {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidation)
	}
	acc, err := s.FindByAccountID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	var changed []string
	set := func(field string, dst *string, v *string) {
		if v == nil {
			return
		}
		val := strings.TrimSpace(*v)
		if val != *dst {
			*dst = val
			changed = append(changed, field)
		}
	}
	set("first name", &acc.FirstName, upd.FirstName)
	set("last name", &acc.LastName, upd.LastName)
	set("contact number", &acc.ContactNumber, upd.ContactNumber)
	set("gender", &acc.Gender, upd.Gender)
	set("address", &acc.Address, upd.Address)
	if upd.Role != nil && *upd.Role != acc.Role {
		if isSelf(actor, acc) && !upd.Role.IsAdmin() {
			return nil, fmt.Errorf("%w: cannot remove your own admin role", ErrValidation)
		}
		acc.Role = *upd.Role
		changed = append(changed, "role")
	}
	if acc.FirstName == "" || acc.LastName == "" {
		return nil, fmt.Errorf("%w: first and last name are required", ErrValidation)
	}
	if len(changed) == 0 {
		return acc, nil
	}
	acc.UpdatedAt = s.now()

	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	if err := s.store.SaveAccount(wctx, acc); err != nil {
		return nil, s.writeErr(wctx, "update profile", err)
	}
	s.audit(ctx, actor, acc, fmt.Sprintf("Updated %s of %s", strings.Join(changed, ", "), acc.FullName()))
	return acc, nil
}

// CreateEmployee 管理员直接创建已激活的员工账户。
func (s *Service) CreateEmployee(ctx context.Context, actor model.Actor, p model.Profile, password string) (*model.Account, error) {
	p = trimProfile(p)
	if err := validateProfile(p, password); err != nil {
		return nil, err
	}
	acc, err := s.createActive(ctx, p, password, model.RoleAdmin)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actor, acc, fmt.Sprintf("Created employee account for %s", acc.FullName()))
	return acc, nil
}

// SeedAdmin 确保初始管理员存在且可登录。已存在时只修正角色与状态，不改密码。
func (s *Service) SeedAdmin(ctx context.Context, p model.Profile, password string) (*model.Account, error) {
	p = trimProfile(p)
	acc, err := s.store.FindAccountByEmail(ctx, p.Email)
	if errors.Is(err, store.ErrNotFound) {
		if err := ValidateEmail(p.Email); err != nil {
			return nil, err
		}
		if len(password) < minPasswordLength {
			return nil, fmt.Errorf("%w: admin password too short", ErrValidation)
		}
		return s.createActive(ctx, p, password, model.RoleAdmin)
	}
	if err != nil {
		return nil, err
	}
	if acc.Role == model.RoleAdmin && acc.IsActive && !acc.PendingRegistration {
		return acc, nil
	}
	acc.Role = model.RoleAdmin
	acc.IsActive = true
	acc.PendingRegistration = false
	acc.OTPCode = ""
	acc.OTPExpiresAt = nil
	if acc.AccountID == "" {
		acc.AccountID = NewAccountID(model.RoleAdmin)
	}
	acc.UpdatedAt = s.now()

	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	if err := s.store.SaveAccount(wctx, acc); err != nil {
		return nil, s.writeErr(wctx, "seed admin", err)
	}
	return acc, nil
}

func (s *Service) createActive(ctx context.Context, p model.Profile, password string, role model.Role) (*model.Account, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	acc := &model.Account{
		ID:            uuid.NewString(),
		AccountID:     NewAccountID(role),
		Email:         p.Email,
		PasswordHash:  hash,
		Role:          role,
		IsActive:      true,
		FirstName:     p.FirstName,
		LastName:      p.LastName,
		ContactNumber: p.ContactNumber,
		Gender:        p.Gender,
		Address:       p.Address,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	if err := s.store.InsertAccount(wctx, acc); err != nil {
		return nil, s.writeErr(wctx, "create account", err)
	}
	return acc, nil
}

// List 后台账户列表。
func (s *Service) List(ctx context.Context, filter store.AccountFilter) ([]model.Account, error) {
	return s.store.ListAccounts(ctx, filter)
}

// Logs 最近的审计日志。
func (s *Service) Logs(ctx context.Context, limit int) ([]model.AuditLog, error) {
	return s.store.ListLogs(ctx, limit)
}

func (s *Service) audit(ctx context.Context, actor model.Actor, target *model.Account, action string) {
	entry := &model.AuditLog{
		ID:          uuid.NewString(),
		Action:      action,
		ActorName:   actor.Name,
		ActorEmail:  actor.Email,
		TargetEmail: target.Email,
		TargetName:  target.FullName(),
		CreatedAt:   s.now(),
	}
	wctx, cancel := s.writeCtx(ctx)
	defer cancel()
	if err := s.store.AppendLog(wctx, entry); err != nil && s.logger != nil {
		s.logger.Error("append audit log failed",
			slog.String("action", action),
			slog.String("target", target.Email),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Service) writeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.writeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.writeTimeout)
}

// writeErr 超时的写入按数据库不可用上报。
func (s *Service) writeErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, store.ErrDuplicateEmail) || errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrUnavailable) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s timed out", store.ErrUnavailable, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isSelf 操作人是否就是目标账户。
func isSelf(actor model.Actor, target *model.Account) bool {
	return actor.AccountID != "" && strings.EqualFold(actor.AccountID, target.AccountID)
}

func trimProfile(p model.Profile) model.Profile {
	return model.Profile{
		Email:         NormalizeEmail(p.Email),
		FirstName:     strings.TrimSpace(p.FirstName),
		LastName:      strings.TrimSpace(p.LastName),
		ContactNumber: strings.TrimSpace(p.ContactNumber),
		Gender:        strings.TrimSpace(p.Gender),
		Address:       strings.TrimSpace(p.Address),
	}
}

func remaining(exp *time.Time, now time.Time) time.Duration {
	if exp == nil || now.After(*exp) {
		return 0
	}
	return exp.Sub(now)
}
