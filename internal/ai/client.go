package ai

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"plum/internal/ai/component"
	"plum/internal/config"
)

// ErrUnavailable 模型能力不可用（超时或持续失败）
// 有限次重试后仍失败时返回，调用方据此向用户降级提示
var ErrUnavailable = errors.New("model capability unavailable")

// Capability 模型能力接口
// 输入带角色标注的消息序列，输出一条助手消息（自由文本 + 零或多个工具调用）
type Capability interface {
	Generate(ctx context.Context, messages []*schema.Message) (*schema.Message, error)
}

// Client AI 能力层客户端
// 封装 ChatModel：绑定工具目录、按次硬超时、瞬时失败有限重试
type Client struct {
	cfg       *config.AIConfig
	chatModel model.ToolCallingChatModel
}

// NewClient 创建 AI 客户端，tools 为固定的工具目录
func NewClient(ctx context.Context, cfg *config.AIConfig, tools []*schema.ToolInfo) (*Client, error) {
	base, err := component.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	chatModel := base
	if len(tools) > 0 {
		chatModel, err = base.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("failed to bind tools: %w", err)
		}
	}

	return &Client{
		cfg:       cfg,
		chatModel: chatModel,
	}, nil
}

// Generate 调用模型
// 每次尝试都带独立的硬超时；只对瞬时失败（超时、网络抖动）做有限重试，
// 调用方自己的 ctx 被取消时立即放弃
func (c *Client) Generate(ctx context.Context, messages []*schema.Message) (*schema.Message, error) {
	timeout := c.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	attempts := c.cfg.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			// 短退避后重试
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
			log.Warn().Int("attempt", attempt+1).Err(lastErr).Msg("retrying model call")
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := c.chatModel.Generate(callCtx, messages)
		cancel()

		if err == nil {
			return resp, nil
		}
		lastErr = err

		// 请求方已取消，不再重试
		if ctx.Err() != nil {
			break
		}
		// 鉴权/请求类错误重试不会变好，直接放弃
		if !retryable(err) {
			break
		}
	}

	log.Error().Err(lastErr).Msg("model call failed after retries")
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// retryable 判断失败是否值得重试
// 超时与网络抖动是瞬时的；鉴权失败、非法请求这类错误重试只会原样重现
func retryable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"401", "403",
		"invalid api key", "incorrect api key",
		"invalid_request_error",
	} {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	return true
}
