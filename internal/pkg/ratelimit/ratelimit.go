// Package ratelimit 基于 Redis 的滑动窗口限流。
//
// 计数按调用者ID共享在 Redis 里，任意服务实例看到同一份窗口，
// N 台无状态实例水平扩展时限流语义不变。
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter 滑动窗口限流器
type Limiter struct {
	client *redis.Client
}

// NewLimiter 创建限流器
func NewLimiter(client *redis.Client) *Limiter {
	return &Limiter{client: client}
}

// Allow 判断 callerID 在 scope 下的本次请求是否放行
// 返回 (是否放行, 拒绝时建议的重试等待, 错误)
// 实现：ZSET 成员为请求时间戳。清理、写入、计数在同一个事务管道里完成，
// 计数含本次请求自身，超限时再把自己摘除——并发请求不会在检查与写入
// 之间互相挤过限额
func (l *Limiter) Allow(ctx context.Context, scope, callerID string, limit int, window time.Duration) (bool, time.Duration, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", scope, callerID)
	now := time.Now()
	windowStart := now.Add(-window)

	// 成员附带随机后缀，同一纳秒内的并发请求互不覆盖
	member := fmt.Sprintf("%d-%s", now.UnixNano(), uuid.NewString()[:8])

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, err
	}

	if countCmd.Val() <= int64(limit) {
		return true, 0, nil
	}

	// 超限：撤销本次写入，避免被拒的请求挤占窗口
	if err := l.client.ZRem(ctx, key, member).Err(); err != nil {
		return false, 0, err
	}

	// 最旧一条滑出窗口后才有空位
	oldest, err := l.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	retryAfter := window
	if err == nil && len(oldest) > 0 {
		oldestAt := time.Unix(0, int64(oldest[0].Score))
		retryAfter = oldestAt.Add(window).Sub(now)
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
	}
	return false, retryAfter, nil
}
