package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"plum/internal/model"
	"plum/internal/pkg/ctxutil"
)

// Allower 限流判定接口（生产实现为 Redis 滑动窗口）
type Allower interface {
	Allow(ctx context.Context, scope, callerID string, limit int, window time.Duration) (bool, time.Duration, error)
}

// RateLimit 按调用者限流中间件
// 必须挂在 Auth 之后（依赖 context 里的 user_id），在业务管线之前生效
func RateLimit(limiter Allower, scope string, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}

		callerID, ok := ctxutil.GetUserID(c.Request.Context())
		if !ok {
			// Auth 中间件缺失属于接线错误，不放行
			c.AbortWithStatusJSON(http.StatusUnauthorized, model.ErrorResponse{
				Code:    40101,
				Message: "未授权",
			})
			return
		}

		allowed, retryAfter, err := limiter.Allow(c.Request.Context(), scope, callerID, limit, window)
		if err != nil {
			// 限流器故障时放行，不把 Redis 故障放大成全站不可用
			log.Warn().Err(err).Str("scope", scope).Msg("rate limiter unavailable, allowing request")
			c.Next()
			return
		}

		if !allowed {
			seconds := int(retryAfter.Seconds())
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, model.ErrorResponse{
				Code:       42901,
				Message:    "请求过于频繁，请稍后重试",
				RetryAfter: seconds,
			})
			return
		}

		c.Next()
	}
}
