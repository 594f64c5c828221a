package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gianconstruction/internal/config"

	"gopkg.in/gomail.v2"
)

const verificationSubject = "[GianConstruction] Email verification code"

// EmailNotifier 通过 SMTP 发送验证码邮件。
type EmailNotifier struct {
	cfg      config.EmailConfig
	sender   Sender
	validFor time.Duration
	logger   *slog.Logger
}

// NewEmailNotifier 创建一个新的邮件通知器。validFor 写进正文，告知验证码有效期。
func NewEmailNotifier(cfg config.EmailConfig, validFor time.Duration, logger *slog.Logger) *EmailNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailNotifier{
		cfg:      cfg,
		sender:   gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass),
		validFor: validFor,
		logger:   logger,
	}
}

// WithSender 替换投递实现，测试中使用。
func (n *EmailNotifier) WithSender(s Sender) *EmailNotifier {
	n.sender = s
	return n
}

// SendVerificationCode 发送邮箱验证码。
func (n *EmailNotifier) SendVerificationCode(ctx context.Context, toEmail string, code string) error {
	if n.cfg.SMTPHost == "" || n.cfg.FromEmail == "" {
		return fmt.Errorf("%w: email config missing", ErrMailDelivery)
	}
	if strings.TrimSpace(toEmail) == "" {
		return fmt.Errorf("%w: empty recipient", ErrMailDelivery)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrMailDelivery, err)
	}

	m := n.buildVerificationMessage(toEmail, code)
	if err := n.sender.DialAndSend(m); err != nil {
		n.logger.Warn("verification email failed", slog.String("to", toEmail), slog.String("error", err.Error()))
		return fmt.Errorf("%w: %v", ErrMailDelivery, err)
	}

	n.logger.Info("verification email sent", slog.String("to", toEmail))
	return nil
}

func (n *EmailNotifier) buildVerificationMessage(toEmail string, code string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", toEmail)
	m.SetHeader("Subject", verificationSubject)
	m.SetBody("text/plain", verificationBody(code, n.validFor))
	return m
}

func verificationBody(code string, validFor time.Duration) string {
	minutes := int(validFor.Round(time.Minute) / time.Minute)
	var b strings.Builder
	b.WriteString("Welcome to GianConstruction.\n\n")
	fmt.Fprintf(&b, "Your verification code is: %s\n\n", code)
	fmt.Fprintf(&b, "The code is valid for %d minutes.\n", minutes)
	b.WriteString("If you did not sign up, ignore this email.\n")
	return b.String()
}
