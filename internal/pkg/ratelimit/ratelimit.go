// Package ratelimit 按邮箱记录登录失败次数，连续失败达到阈值后进入冷却。
//
// 状态机: Clean (无记录) -> Warming (1..MaxFailures-1 次失败) -> Cooling (>= MaxFailures 次失败)。
// 冷却期内的请求直接拒绝，不查库也不做密码比对，且不会刷新冷却时钟。
// 登录成功后删除该邮箱的记录。
package ratelimit

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var ErrTooManyAttempts = errors.New("too many login attempts")

// LimitedError 携带剩余冷却时间。
type LimitedError struct {
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("%s, retry in %d seconds", ErrTooManyAttempts.Error(), e.RetryAfterSeconds())
}

func (e *LimitedError) Unwrap() error { return ErrTooManyAttempts }

// RetryAfterSeconds 向上取整的剩余秒数，至少为 1。
func (e *LimitedError) RetryAfterSeconds() int {
	secs := int(math.Ceil(e.RetryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Policy 限流参数。
type Policy struct {
	MaxFailures int           // 进入冷却的失败次数
	Cooldown    time.Duration // 冷却时长，从最后一次失败算起
	StateTTL    time.Duration // 记录闲置多久后丢弃，0 表示不丢弃
}

// DefaultPolicy 3 次失败后冷却 60 秒。
func DefaultPolicy() Policy {
	return Policy{MaxFailures: 3, Cooldown: 60 * time.Second, StateTTL: time.Hour}
}

// cooldownLeft 冷却中返回剩余时长，否则返回 0。
func (p Policy) cooldownLeft(count int, last, now time.Time) time.Duration {
	if count < p.MaxFailures {
		return 0
	}
	elapsed := now.Sub(last)
	if elapsed >= p.Cooldown {
		return 0
	}
	return p.Cooldown - elapsed
}

func toInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if t == "" {
			return 0
		}
		if parsed, err := strconv.ParseInt(t, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}
