package model

import "time"

// ChatRequest 对话请求
// 调用者身份来自认证中间件注入的 context，绝不从请求体读取
type ChatRequest struct {
	Message        string `json:"message" binding:"required"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse 对话响应
type ChatResponse struct {
	ConversationID string     `json:"conversation_id"`
	Message        string     `json:"message"`
	ToolCalls      []ToolCall `json:"tool_calls,omitempty"`
}

// MessageView 历史消息视图
type MessageView struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Code       int    `json:"code"`
	Message    string `json:"message"`
	Detail     string `json:"detail,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"` // 限流时的重试提示（秒）
}
