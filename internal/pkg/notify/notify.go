package notify

import (
	"context"
	"errors"

	"gopkg.in/gomail.v2"
)

// ErrMailDelivery 验证码邮件未能发出。注册流程据此回滚待验证账户。
var ErrMailDelivery = errors.New("notify: mail delivery failed")

// Notifier 定义验证码通知接口。
type Notifier interface {
	// SendVerificationCode 把 6 位验证码发到 toEmail。
	//
	// 参数:
	//   ctx: 上下文
	//   toEmail: 接收邮箱
	//   code: 验证码
	//
	// 失败时返回的错误包装 ErrMailDelivery。
	SendVerificationCode(ctx context.Context, toEmail string, code string) error
}

// Sender 是 SMTP 投递的最小接口，*gomail.Dialer 满足它。
type Sender interface {
	DialAndSend(m ...*gomail.Message) error
}
