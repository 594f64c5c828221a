package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "gianconstruction:login:fail:"

// failLua 原子地累加失败次数、记录时间并刷新过期时间。
// KEYS[1] = 计数 hash
// ARGV[1] = 当前时间 (ms), ARGV[2] = 过期时间 (ms)
// 返回累加后的失败次数
const failLua = `
local count = redis.call("HINCRBY", KEYS[1], "count", 1)
redis.call("HSET", KEYS[1], "ts", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return count
`

// RedisLimiter 把计数放在 Redis，多实例共享。
// key 带过期时间，闲置的记录自动清理，无需扫描。
type RedisLimiter struct {
	rdb    *redis.Client
	prefix string
	policy Policy
	now    func() time.Time
	script *redis.Script
}

func NewRedisLimiter(rdb *redis.Client, policy Policy, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisLimiter{
		rdb:    rdb,
		prefix: prefix,
		policy: policy,
		now:    time.Now,
		script: redis.NewScript(failLua),
	}
}

// WithClock 替换时钟，测试用。
func (l *RedisLimiter) WithClock(now func() time.Time) *RedisLimiter {
	l.now = now
	return l
}

func (l *RedisLimiter) Check(ctx context.Context, key string) error {
	values, err := l.rdb.HMGet(ctx, l.prefix+key, "count", "ts").Result()
	if err != nil {
		return fmt.Errorf("ratelimit hmget: %w", err)
	}
	if len(values) < 2 || values[0] == nil {
		return nil
	}
	count := int(toInt64(values[0]))
	last := time.UnixMilli(toInt64(values[1]))
	if left := l.policy.cooldownLeft(count, last, l.now()); left > 0 {
		return &LimitedError{RetryAfter: left}
	}
	return nil
}

func (l *RedisLimiter) Fail(ctx context.Context, key string) error {
	ttl := l.policy.StateTTL
	if ttl < l.policy.Cooldown {
		ttl = l.policy.Cooldown
	}
	count, err := l.script.Run(ctx, l.rdb, []string{l.prefix + key}, l.now().UnixMilli(), ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("ratelimit eval: %w", err)
	}
	if int(count) >= l.policy.MaxFailures {
		return &LimitedError{RetryAfter: l.policy.Cooldown}
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, l.prefix+key).Err(); err != nil {
		return fmt.Errorf("ratelimit del: %w", err)
	}
	return nil
}
