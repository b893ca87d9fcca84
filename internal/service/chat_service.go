package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"

	"plum/internal/ai"
	"plum/internal/model"
	"plum/internal/repository"
	"plum/internal/tool"
)

var (
	ErrEmptyMessage   = errors.New("message must not be empty")
	ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", model.UserMessageMaxLen)
)

// systemPrompt 固定的助手人设与工具使用约束
const systemPrompt = `You are a task assistant. You help the user manage a personal task list
through conversation, using the provided tools (add_task, list_tasks,
complete_task, delete_task, update_task).

Rules:
- Use tools for any task operation; never invent task ids or task state.
- When the user's intent is ambiguous (e.g. "delete the task" while several
  tasks exist), ask a clarifying question instead of calling a tool.
- When a tool fails, explain briefly what succeeded and what did not.
- Reply concisely in the user's language.`

// ChatService 对话编排服务
// 每个请求都是一条独立流水线：解析对话 → 先落库用户消息 → 组装有界上下文
// → 调用模型 → 执行工具 → 落库助手消息。结构体只持有句柄，不持有任何
// 跨请求状态，任意实例处理任意请求结果一致
type ChatService struct {
	capability ai.Capability
	convRepo   repository.ConversationRepository
	msgRepo    repository.MessageRepository
	tools      *tool.Executor

	historyLimit  int64 // 发送给模型的历史消息上限
	maxToolRounds int   // 单次请求最多工具调用轮数
}

// NewChatService 创建对话编排服务
func NewChatService(
	capability ai.Capability,
	convRepo repository.ConversationRepository,
	msgRepo repository.MessageRepository,
	tools *tool.Executor,
	historyLimit int,
	maxToolRounds int,
) *ChatService {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	if maxToolRounds <= 0 {
		maxToolRounds = 5
	}
	return &ChatService{
		capability:    capability,
		convRepo:      convRepo,
		msgRepo:       msgRepo,
		tools:         tools,
		historyLimit:  int64(historyLimit),
		maxToolRounds: maxToolRounds,
	}
}

// Chat 处理一次对话请求
// callerID 为上游验证过的调用者身份，永远不来自请求体
func (s *ChatService) Chat(ctx context.Context, callerID string, req *model.ChatRequest) (*model.ChatResponse, error) {
	content := strings.TrimSpace(req.Message)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if utf8.RuneCountInString(content) > model.UserMessageMaxLen {
		return nil, ErrMessageTooLong
	}

	// 1. 解析对话：带引用则查（归属不符同样是 NotFound），否则新建
	var (
		conv *model.Conversation
		err  error
	)
	if req.ConversationID != "" {
		conv, err = s.convRepo.FindByID(ctx, req.ConversationID, callerID)
		if err != nil {
			return nil, err
		}
	} else {
		conv, err = s.convRepo.Create(ctx, callerID, deriveTitle(content))
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
	}

	logger := log.With().Str("user_id", callerID).Str("conversation_id", conv.ID).Logger()

	// 2. 先落库用户消息：后续任何一步失败，用户输入都不会丢
	if _, err := s.msgRepo.Append(ctx, conv.ID, callerID, model.RoleUser, content, nil); err != nil {
		return nil, fmt.Errorf("failed to persist user message: %w", err)
	}

	// 3. 组装有界上下文（含刚落库的消息，最旧在前）
	history, err := s.msgRepo.FindRecent(ctx, conv.ID, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	prompt := toModelMessages(history)

	// 4-5. 模型回合：有工具调用就执行并把结果喂回下一轮，轮数有界
	// 能力未配置时用户消息同样已落库，直连任务接口不受影响
	if s.capability == nil {
		return nil, ai.ErrUnavailable
	}

	var (
		records []model.ToolCall
		reply   string
	)
	for round := 0; ; round++ {
		resp, err := s.capability.Generate(ctx, prompt)
		if err != nil {
			// 用户消息已持久化，下次重试不丢内容
			logger.Warn().Err(err).Msg("model capability failed")
			return nil, err
		}

		if len(resp.ToolCalls) == 0 || round >= s.maxToolRounds {
			reply = resp.Content
			// 轮数耗尽时模型往往只带工具调用不带文本，给用户一个可读的收尾
			if reply == "" && len(resp.ToolCalls) > 0 {
				logger.Warn().Int("round", round).Msg("tool round limit reached with pending tool calls")
				reply = "本次请求的工具调用轮数已达上限，部分操作可能未执行，请继续对话确认任务状态。"
			}
			break
		}

		prompt = append(prompt, resp)
		for _, tc := range resp.ToolCalls {
			args := json.RawMessage(tc.Function.Arguments)
			result := s.tools.Invoke(ctx, callerID, tc.Function.Name, args)
			records = append(records, model.ToolCall{
				Tool:   tc.Function.Name,
				Args:   args,
				Result: result.JSON(),
			})
			// 失败结果同样喂回模型，让它在回复里说明哪些成功哪些失败
			prompt = append(prompt, schema.ToolMessage(string(result.JSON()), tc.ID))
		}
	}

	// 6. 落库助手消息（携带本次全部工具调用记录）
	// 回复已经生成，落库失败只记日志不让请求失败
	if _, err := s.msgRepo.Append(ctx, conv.ID, callerID, model.RoleAssistant, reply, records); err != nil {
		logger.Error().Err(err).Msg("failed to persist assistant message")
	}

	// 7. 对话置为最近活跃
	if err := s.convRepo.Touch(ctx, conv.ID); err != nil {
		logger.Warn().Err(err).Msg("failed to touch conversation")
	}

	logger.Info().Int("tool_calls", len(records)).Msg("chat completed")

	// 8. 返回后不保留任何状态
	return &model.ChatResponse{
		ConversationID: conv.ID,
		Message:        reply,
		ToolCalls:      records,
	}, nil
}

// toModelMessages 将存量消息转换为模型输入
// 带工具记录的助手消息还原为 assistant tool_calls + tool 结果消息的标准布局
func toModelMessages(history []*model.Message) []*schema.Message {
	out := make([]*schema.Message, 0, len(history)+1)
	out = append(out, schema.SystemMessage(systemPrompt))

	for _, m := range history {
		switch m.Role {
		case model.RoleUser:
			out = append(out, schema.UserMessage(m.Content))
		case model.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, schema.AssistantMessage(m.Content, nil))
				continue
			}
			calls := make([]schema.ToolCall, 0, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				calls = append(calls, schema.ToolCall{
					ID:   toolCallID(m.ID, i),
					Type: "function",
					Function: schema.FunctionCall{
						Name:      tc.Tool,
						Arguments: string(tc.Args),
					},
				})
			}
			out = append(out, schema.AssistantMessage(m.Content, calls))
			for i, tc := range m.ToolCalls {
				out = append(out, schema.ToolMessage(string(tc.Result), toolCallID(m.ID, i)))
			}
		}
	}
	return out
}

// toolCallID 存量工具记录的调用ID（消息ID+序号，确定性）
func toolCallID(msgID string, idx int) string {
	return fmt.Sprintf("%s-%d", msgID, idx)
}

// deriveTitle 从首条消息截取对话标题
func deriveTitle(content string) string {
	const maxTitleLen = 30
	runes := []rune(content)
	if len(runes) <= maxTitleLen {
		return content
	}
	return string(runes[:maxTitleLen]) + "..."
}
