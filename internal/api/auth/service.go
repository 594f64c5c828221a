package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gianconstruction/internal/account"
	"gianconstruction/internal/model"
	"gianconstruction/internal/pkg/metrics"
	"gianconstruction/internal/pkg/notify"
	"gianconstruction/internal/pkg/ratelimit"
)

var (
	// ErrInvalidCredentials 邮箱不存在或密码错误，两者不作区分。
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInactiveAccount 凭据正确但账户未激活或已停用。
	ErrInactiveAccount = errors.New("account is not active")
)

// Service 串起注册、验证码确认与登录流程。
type Service struct {
	accounts *account.Service
	mailer   notify.Notifier
	limiter  ratelimit.LoginLimiter
	tokens   *TokenService
	logger   *slog.Logger
}

func NewService(accounts *account.Service, mailer notify.Notifier, limiter ratelimit.LoginLimiter, tokens *TokenService, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		accounts: accounts,
		mailer:   mailer,
		limiter:  limiter,
		tokens:   tokens,
		logger:   logger,
	}
}

// Tokens 返回令牌服务，中间件复用。
func (s *Service) Tokens() *TokenService {
	return s.tokens
}

// Register 创建待验证账户并发送验证码。
// 邮件发送失败时删除刚创建的记录，同一邮箱可以立即重新注册。
func (s *Service) Register(ctx context.Context, p model.Profile, password string) (time.Time, error) {
	acc, err := s.accounts.CreatePending(ctx, p, password)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("register", registerResult(err)).Inc()
		return time.Time{}, err
	}

	if err := s.sendCode(ctx, acc); err != nil {
		if delErr := s.accounts.Delete(context.WithoutCancel(ctx), acc.ID); delErr != nil {
			s.logger.Error("rollback pending account failed",
				slog.String("email", acc.Email),
				slog.String("error", delErr.Error()),
			)
		}
		metrics.RegistrationsTotal.WithLabelValues("register", "mail_failed").Inc()
		return time.Time{}, err
	}

	metrics.RegistrationsTotal.WithLabelValues("register", "ok").Inc()
	s.logger.Info("pending account created", slog.String("email", acc.Email))
	return *acc.OTPExpiresAt, nil
}

// Confirm 校验验证码，激活账户。
func (s *Service) Confirm(ctx context.Context, email, code string) (*model.Account, error) {
	acc, err := s.accounts.Activate(ctx, email, code)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("confirm", registerResult(err)).Inc()
		return nil, err
	}
	metrics.RegistrationsTotal.WithLabelValues("confirm", "ok").Inc()
	s.logger.Info("account activated",
		slog.String("email", acc.Email),
		slog.String("account_id", acc.AccountID),
	)
	return acc, nil
}

// Resend 重新签发验证码并发送。发送失败时记录保持待验证状态。
func (s *Service) Resend(ctx context.Context, email string) (time.Time, error) {
	acc, err := s.accounts.ReissueOTP(ctx, email)
	if err != nil {
		metrics.RegistrationsTotal.WithLabelValues("resend", registerResult(err)).Inc()
		return time.Time{}, err
	}
	if err := s.sendCode(ctx, acc); err != nil {
		metrics.RegistrationsTotal.WithLabelValues("resend", "mail_failed").Inc()
		return time.Time{}, err
	}
	metrics.RegistrationsTotal.WithLabelValues("resend", "ok").Inc()
	s.logger.Info("verification code resent", slog.String("email", acc.Email))
	return *acc.OTPExpiresAt, nil
}

// Login 校验凭据并签发会话令牌。
//
// 顺序: 限流检查 -> 查找账户 -> 密码比对 -> 激活状态 -> 签发令牌。
// 冷却期内直接返回 *ratelimit.LimitedError，不访问存储也不比对密码。
func (s *Service) Login(ctx context.Context, email, password string) (string, *Claims, error) {
	key := account.NormalizeEmail(email)
	if err := s.limiter.Check(ctx, key); err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues(loginResult(err)).Inc()
		return "", nil, err
	}

	acc, err := s.accounts.FindByEmail(ctx, key)
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
			return "", nil, err
		}
		return "", nil, s.failed(ctx, key)
	}
	if acc.PasswordHash == "" || !s.accounts.Hasher().Verify(password, acc.PasswordHash) {
		return "", nil, s.failed(ctx, key)
	}
	if !acc.IsActive || acc.PendingRegistration {
		metrics.LoginAttemptsTotal.WithLabelValues("inactive").Inc()
		return "", nil, ErrInactiveAccount
	}

	token, claims, err := s.tokens.Issue(acc)
	if err != nil {
		metrics.LoginAttemptsTotal.WithLabelValues("error").Inc()
		return "", nil, err
	}
	if err := s.limiter.Reset(ctx, key); err != nil {
		s.logger.Warn("reset login limiter failed", slog.String("email", key), slog.String("error", err.Error()))
	}
	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	s.logger.Info("user logged in", slog.String("email", key), slog.String("role", string(acc.Role)))
	return token, claims, nil
}

// failed 记录失败。达到阈值的这一次直接返回限流错误。
func (s *Service) failed(ctx context.Context, key string) error {
	if err := s.limiter.Fail(ctx, key); err != nil {
		var limited *ratelimit.LimitedError
		if errors.As(err, &limited) {
			metrics.LoginAttemptsTotal.WithLabelValues("rate_limited").Inc()
			s.logger.Warn("login cooling down", slog.String("email", key), slog.Int("retry_after", limited.RetryAfterSeconds()))
			return err
		}
		s.logger.Warn("record login failure failed", slog.String("email", key), slog.String("error", err.Error()))
	}
	metrics.LoginAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
	return ErrInvalidCredentials
}

func (s *Service) sendCode(ctx context.Context, acc *model.Account) error {
	if s.mailer == nil {
		metrics.OTPDispatchTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: email notifier not configured", notify.ErrMailDelivery)
	}
	if err := s.mailer.SendVerificationCode(ctx, acc.Email, acc.OTPCode); err != nil {
		metrics.OTPDispatchTotal.WithLabelValues("failed").Inc()
		s.logger.Warn("send verification email failed", slog.String("email", acc.Email), slog.String("error", err.Error()))
		if !errors.Is(err, notify.ErrMailDelivery) {
			err = fmt.Errorf("%w: %v", notify.ErrMailDelivery, err)
		}
		return err
	}
	metrics.OTPDispatchTotal.WithLabelValues("sent").Inc()
	return nil
}

func registerResult(err error) string {
	switch {
	case errors.Is(err, account.ErrValidation):
		return "invalid"
	case errors.Is(err, account.ErrDuplicateEmail):
		return "duplicate"
	case errors.Is(err, account.ErrInvalidOrExpiredOTP):
		return "invalid_code"
	case errors.Is(err, account.ErrNoPendingRegistration), errors.Is(err, account.ErrAlreadyVerified):
		return "not_pending"
	default:
		return "error"
	}
}

func loginResult(err error) string {
	if errors.Is(err, ratelimit.ErrTooManyAttempts) {
		return "rate_limited"
	}
	return "error"
}
