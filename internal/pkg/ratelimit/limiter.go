package ratelimit

import "context"

// LoginLimiter 登录失败计数器。
type LoginLimiter interface {
	// Check 在校验凭据前调用，冷却中返回 *LimitedError。
	Check(ctx context.Context, key string) error
	// Fail 记录一次失败，失败次数达到阈值时返回 *LimitedError。
	Fail(ctx context.Context, key string) error
	// Reset 登录成功后清除记录。
	Reset(ctx context.Context, key string) error
}
