package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	. "github.com/smartystreets/goconvey/convey"
	"go.mongodb.org/mongo-driver/bson"

	"plum/internal/ai"
	"plum/internal/model"
	"plum/internal/model/task"
	"plum/internal/repository"
	"plum/internal/tool"
)

// fakeConvRepo 内存对话仓库（并发安全，支持并发发送的测试）
type fakeConvRepo struct {
	mu    sync.Mutex
	convs map[string]*model.Conversation
	seq   int
}

func newFakeConvRepo() *fakeConvRepo {
	return &fakeConvRepo{convs: make(map[string]*model.Conversation)}
}

func (r *fakeConvRepo) Create(_ context.Context, userID, title string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	now := time.Now()
	c := &model.Conversation{
		ID:        fmt.Sprintf("conv-%d", r.seq),
		UserID:    userID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.convs[c.ID] = c
	return c, nil
}

func (r *fakeConvRepo) FindByID(_ context.Context, convID, userID string) (*model.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convID]
	if !ok || c.UserID != userID || c.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	return c, nil
}

func (r *fakeConvRepo) ListByUserID(_ context.Context, userID string, limit, offset int64) ([]*model.Conversation, error) {
	var out []*model.Conversation
	for _, c := range r.convs {
		if c.UserID == userID && c.DeletedAt == nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConvRepo) Touch(_ context.Context, convID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.convs[convID]; ok {
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (r *fakeConvRepo) SoftDelete(_ context.Context, convID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[convID]
	if !ok || c.UserID != userID || c.DeletedAt != nil {
		return repository.ErrNotFound
	}
	now := time.Now()
	c.DeletedAt = &now
	return nil
}

// fakeMsgRepo 内存消息仓库，只追加，FindRecent 返回最旧在前的最近N条
type fakeMsgRepo struct {
	mu   sync.Mutex
	msgs []*model.Message
	seq  int
	// 追加失败注入
	appendErr error
}

func newFakeMsgRepo() *fakeMsgRepo { return &fakeMsgRepo{} }

func (r *fakeMsgRepo) Append(_ context.Context, convID, userID string, role model.Role, content string, toolCalls []model.ToolCall) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.appendErr != nil {
		return nil, r.appendErr
	}
	r.seq++
	m := &model.Message{
		ID:             fmt.Sprintf("msg-%d", r.seq),
		ConversationID: convID,
		UserID:         userID,
		Role:           role,
		Content:        content,
		ToolCalls:      toolCalls,
		CreatedAt:      time.Now().Add(time.Duration(r.seq) * time.Millisecond),
	}
	r.msgs = append(r.msgs, m)
	return m, nil
}

func (r *fakeMsgRepo) FindRecent(_ context.Context, convID string, limit int64) ([]*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*model.Message
	for _, m := range r.msgs {
		if m.ConversationID == convID {
			all = append(all, m)
		}
	}
	if int64(len(all)) > limit {
		all = all[int64(len(all))-limit:]
	}
	return all, nil
}

func (r *fakeMsgRepo) byConv(convID string) []*model.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.Message
	for _, m := range r.msgs {
		if m.ConversationID == convID {
			out = append(out, m)
		}
	}
	return out
}

// fakeCapability 脚本化模型：按调用次序返回预置回复
type fakeCapability struct {
	mu      sync.Mutex
	replies []*schema.Message
	err     error
	calls   int
	// 每次调用收到的完整 prompt，供断言上下文内容
	prompts [][]*schema.Message
}

func (c *fakeCapability) Generate(_ context.Context, messages []*schema.Message) (*schema.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, messages)
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	reply := c.replies[c.calls-1]
	return reply, nil
}

func textReply(content string) *schema.Message {
	return schema.AssistantMessage(content, nil)
}

func toolReply(callID, name, args string) *schema.Message {
	return schema.AssistantMessage("", []schema.ToolCall{{
		ID:   callID,
		Type: "function",
		Function: schema.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}})
}

// fakeTaskStore 与 tool 包测试同构的最小任务仓库
type fakeTaskStore struct {
	tasks map[string]*task.Task
	seq   int
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[string]*task.Task)}
}

func (r *fakeTaskStore) Create(_ context.Context, t *task.Task) error {
	r.seq++
	t.ID = fmt.Sprintf("task-%d", r.seq)
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	r.tasks[t.ID] = t
	return nil
}

func (r *fakeTaskStore) find(taskID, userID string) (*task.Task, error) {
	t, ok := r.tasks[taskID]
	if !ok || t.UserID != userID || t.DeletedAt != nil {
		return nil, repository.ErrNotFound
	}
	return t, nil
}

func (r *fakeTaskStore) FindByID(_ context.Context, taskID, userID string) (*task.Task, error) {
	return r.find(taskID, userID)
}

func (r *fakeTaskStore) ListByUserID(_ context.Context, userID string, _ task.Status) ([]*task.Task, error) {
	var out []*task.Task
	for _, t := range r.tasks {
		if t.UserID == userID && t.DeletedAt == nil {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *fakeTaskStore) Update(_ context.Context, taskID, userID string, _ bson.M) (*task.Task, error) {
	return r.find(taskID, userID)
}

func (r *fakeTaskStore) MarkCompleted(_ context.Context, taskID, userID string) (*task.Task, bool, error) {
	t, err := r.find(taskID, userID)
	if err != nil {
		return nil, false, err
	}
	now := time.Now()
	t.Completed = true
	t.CompletedAt = &now
	return t, true, nil
}

func (r *fakeTaskStore) SoftDelete(_ context.Context, taskID, userID string) error {
	t, err := r.find(taskID, userID)
	if err != nil {
		return err
	}
	now := time.Now()
	t.DeletedAt = &now
	return nil
}

type chatFixture struct {
	convRepo   *fakeConvRepo
	msgRepo    *fakeMsgRepo
	capability *fakeCapability
	tasks      *fakeTaskStore
	svc        *ChatService
}

func newChatFixture(replies ...*schema.Message) *chatFixture {
	f := &chatFixture{
		convRepo:   newFakeConvRepo(),
		msgRepo:    newFakeMsgRepo(),
		capability: &fakeCapability{replies: replies},
		tasks:      newFakeTaskStore(),
	}
	f.svc = NewChatService(f.capability, f.convRepo, f.msgRepo, tool.NewExecutor(f.tasks), 50, 5)
	return f
}

func TestChatService_Chat(t *testing.T) {
	ctx := context.Background()

	Convey("纯文本对话", t, func() {
		f := newChatFixture(textReply("你好，我能帮你管理任务。"))

		resp, err := f.svc.Chat(ctx, "u1", &model.ChatRequest{Message: "你好"})
		So(err, ShouldBeNil)
		So(resp.Message, ShouldEqual, "你好，我能帮你管理任务。")
		So(resp.ConversationID, ShouldNotBeEmpty)
		So(resp.ToolCalls, ShouldBeEmpty)

		Convey("用户消息和助手消息都已落库", func() {
			msgs := f.msgRepo.byConv(resp.ConversationID)
			So(len(msgs), ShouldEqual, 2)
			So(msgs[0].Role, ShouldEqual, model.RoleUser)
			So(msgs[0].Content, ShouldEqual, "你好")
			So(msgs[1].Role, ShouldEqual, model.RoleAssistant)
		})

		Convey("新建的对话从首条消息截取标题", func() {
			conv := f.convRepo.convs[resp.ConversationID]
			So(conv.Title, ShouldEqual, "你好")
		})
	})

	Convey("带工具调用的对话", t, func() {
		f := newChatFixture(
			toolReply("call-1", tool.NameAddTask, `{"title":"买牛奶"}`),
			textReply("已为你创建任务「买牛奶」。"),
		)

		resp, err := f.svc.Chat(ctx, "u1", &model.ChatRequest{Message: "帮我记一下买牛奶"})
		So(err, ShouldBeNil)
		So(resp.Message, ShouldEqual, "已为你创建任务「买牛奶」。")

		Convey("工具真正执行了", func() {
			So(len(f.tasks.tasks), ShouldEqual, 1)
			for _, tk := range f.tasks.tasks {
				So(tk.Title, ShouldEqual, "买牛奶")
				So(tk.UserID, ShouldEqual, "u1")
			}
		})

		Convey("助手消息携带完整的工具调用记录", func() {
			So(len(resp.ToolCalls), ShouldEqual, 1)
			So(resp.ToolCalls[0].Tool, ShouldEqual, tool.NameAddTask)

			var result map[string]any
			So(json.Unmarshal(resp.ToolCalls[0].Result, &result), ShouldBeNil)
			So(result["success"], ShouldBeTrue)

			msgs := f.msgRepo.byConv(resp.ConversationID)
			So(len(msgs[1].ToolCalls), ShouldEqual, 1)
		})

		Convey("第二轮prompt包含工具结果消息", func() {
			So(f.capability.calls, ShouldEqual, 2)
			second := f.capability.prompts[1]
			last := second[len(second)-1]
			So(last.Role, ShouldEqual, schema.Tool)
			So(last.Content, ShouldContainSubstring, `"success":true`)
		})
	})

	Convey("工具失败不终止请求", t, func() {
		f := newChatFixture(
			toolReply("call-1", tool.NameCompleteTask, `{"task_id":"no-such"}`),
			textReply("没有找到这个任务。"),
		)

		resp, err := f.svc.Chat(ctx, "u1", &model.ChatRequest{Message: "完成那个任务"})
		So(err, ShouldBeNil)
		So(resp.Message, ShouldEqual, "没有找到这个任务。")

		Convey("失败结果同样记录并喂回模型", func() {
			So(string(resp.ToolCalls[0].Result), ShouldContainSubstring, "TASK_NOT_FOUND")
			second := f.capability.prompts[1]
			So(second[len(second)-1].Content, ShouldContainSubstring, "TASK_NOT_FOUND")
		})
	})

	Convey("模型能力失败时用户消息已持久化", t, func() {
		f := newChatFixture()
		f.capability.err = ai.ErrUnavailable

		_, err := f.svc.Chat(ctx, "u1", &model.ChatRequest{Message: "帮我记一下买牛奶"})
		So(errors.Is(err, ai.ErrUnavailable), ShouldBeTrue)

		// 对话已创建且用户消息已落库，重试不丢内容
		So(len(f.convRepo.convs), ShouldEqual, 1)
		So(len(f.msgRepo.msgs), ShouldEqual, 1)
		So(f.msgRepo.msgs[0].Role, ShouldEqual, model.RoleUser)
	})

	Convey("能力未配置时同样先落库再报错", t, func() {
		f := newChatFixture()
		f.svc = NewChatService(nil, f.convRepo, f.msgRepo, tool.NewExecutor(f.tasks), 50, 5)

		_, err := f.svc.Chat(ctx, "u1", &model.ChatRequest{Message: "你好"})
		So(errors.Is(err, ai.ErrUnavailable), ShouldBeTrue)
		So(len(f.msgRepo.msgs), ShouldEqual, 1)
	})

	Convey("消息校验", t, func() {
		f := newChatFixture()

		Convey("空消息与全空白消息被拒绝", func() {
			_, err := f.svc.Chat(ctx, "u1", &model.ChatRequest{Message: "   "})
			So(errors.Is(err, ErrEmptyMessage), ShouldBeTrue)
			So(f.capability.calls, ShouldEqual, 0)
			So(len(f.msgRepo.msgs), ShouldEqual, 0)
		})

		Convey("超长消息被拒绝", func() {
			long := make([]byte, model.UserMessageMaxLen+1)
			for i := range long {
				long[i] = 'a'
			}
			_, err := f.svc.Chat(ctx, "u1", &model.ChatRequest{Message: string(long)})
			So(errors.Is(err, ErrMessageTooLong), ShouldBeTrue)
		})

		Convey("长度按字符计，多字节文本不吃亏", func() {
			// 2000 个汉字合法，2001 个才超限
			f := newChatFixture(textReply("收到"))
			ok := strings.Repeat("长", model.UserMessageMaxLen)
			_, err := f.svc.Chat(ctx, "u1", &model.ChatRequest{Message: ok})
			So(err, ShouldBeNil)

			_, err = f.svc.Chat(ctx, "u1", &model.ChatRequest{Message: ok + "超"})
			So(errors.Is(err, ErrMessageTooLong), ShouldBeTrue)
		})
	})

	Convey("对话归属", t, func() {
		f := newChatFixture(textReply("第一条"), textReply("第二条"))

		resp, err := f.svc.Chat(ctx, "u1", &model.ChatRequest{Message: "开个头"})
		So(err, ShouldBeNil)

		Convey("他人引用这个对话得到NotFound", func() {
			_, err := f.svc.Chat(ctx, "u2", &model.ChatRequest{
				Message:        "我也来说两句",
				ConversationID: resp.ConversationID,
			})
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})

		Convey("不存在的对话同样NotFound", func() {
			_, err := f.svc.Chat(ctx, "u1", &model.ChatRequest{
				Message:        "继续",
				ConversationID: "conv-999",
			})
			So(errors.Is(err, repository.ErrNotFound), ShouldBeTrue)
		})
	})

	Convey("服务无跨请求状态", t, func() {
		// 同一批仓库，两个独立构造的服务实例交替处理同一对话
		convRepo := newFakeConvRepo()
		msgRepo := newFakeMsgRepo()
		tasks := newFakeTaskStore()

		cap1 := &fakeCapability{replies: []*schema.Message{textReply("记住了：我喜欢蓝色")}}
		svc1 := NewChatService(cap1, convRepo, msgRepo, tool.NewExecutor(tasks), 50, 5)
		resp1, err := svc1.Chat(ctx, "u1", &model.ChatRequest{Message: "我喜欢蓝色"})
		So(err, ShouldBeNil)

		cap2 := &fakeCapability{replies: []*schema.Message{textReply("你喜欢蓝色")}}
		svc2 := NewChatService(cap2, convRepo, msgRepo, tool.NewExecutor(tasks), 50, 5)
		_, err = svc2.Chat(ctx, "u1", &model.ChatRequest{
			Message:        "我喜欢什么颜色？",
			ConversationID: resp1.ConversationID,
		})
		So(err, ShouldBeNil)

		// 新实例看到的上下文完全来自存储
		prompt := cap2.prompts[0]
		var contents []string
		for _, m := range prompt {
			contents = append(contents, m.Content)
		}
		So(fmt.Sprint(contents), ShouldContainSubstring, "我喜欢蓝色")
	})

	Convey("发送给模型的上下文有界", t, func() {
		convRepo := newFakeConvRepo()
		msgRepo := newFakeMsgRepo()
		capability := &fakeCapability{}
		svc := NewChatService(capability, convRepo, msgRepo, tool.NewExecutor(newFakeTaskStore()), 4, 5)

		conv, _ := convRepo.Create(ctx, "u1", "长对话")
		for i := 0; i < 20; i++ {
			_, _ = msgRepo.Append(ctx, conv.ID, "u1", model.RoleUser, fmt.Sprintf("旧消息%d", i), nil)
		}

		capability.replies = []*schema.Message{textReply("好的")}
		_, err := svc.Chat(ctx, "u1", &model.ChatRequest{Message: "新消息", ConversationID: conv.ID})
		So(err, ShouldBeNil)

		// system + 最近4条（含本条）
		prompt := capability.prompts[0]
		So(len(prompt), ShouldEqual, 5)
		So(prompt[0].Role, ShouldEqual, schema.System)
		So(prompt[len(prompt)-1].Content, ShouldEqual, "新消息")
	})

	Convey("工具轮数有界", t, func() {
		// 模型永远要求调工具，第 maxToolRounds 轮后强制收尾
		replies := make([]*schema.Message, 0, 4)
		for i := 0; i < 3; i++ {
			replies = append(replies, toolReply(fmt.Sprintf("call-%d", i), tool.NameListTasks, `{}`))
		}
		replies = append(replies, toolReply("call-last", tool.NameListTasks, `{}`))

		f := newChatFixture(replies...)
		f.svc = NewChatService(f.capability, f.convRepo, f.msgRepo, tool.NewExecutor(f.tasks), 50, 3)

		resp, err := f.svc.Chat(ctx, "u1", &model.ChatRequest{Message: "看看任务"})
		So(err, ShouldBeNil)
		// 最后一轮即使还带工具调用也不再执行
		So(f.capability.calls, ShouldEqual, 4)
		So(len(resp.ToolCalls), ShouldEqual, 3)
		// 收尾那轮没有文本，落库的回复换成可读的提示而不是空串
		So(resp.Message, ShouldNotBeEmpty)
		last := f.msgRepo.msgs[len(f.msgRepo.msgs)-1]
		So(last.Role, ShouldEqual, model.RoleAssistant)
		So(last.Content, ShouldNotBeEmpty)
	})

	Convey("同一对话的并发发送互不丢失", t, func() {
		convRepo := newFakeConvRepo()
		msgRepo := newFakeMsgRepo()
		tasks := newFakeTaskStore()
		capability := &fakeCapability{replies: []*schema.Message{textReply("回复一"), textReply("回复二"), textReply("回复三")}}
		svc := NewChatService(capability, convRepo, msgRepo, tool.NewExecutor(tasks), 50, 5)

		conv, _ := convRepo.Create(ctx, "u1", "并发")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.Chat(ctx, "u1", &model.ChatRequest{
					Message:        fmt.Sprintf("并发消息%d", i),
					ConversationID: conv.ID,
				})
			}(i)
		}
		wg.Wait()

		So(errs[0], ShouldBeNil)
		So(errs[1], ShouldBeNil)

		// 两对消息都完整落库
		var users, assistants int
		for _, m := range msgRepo.byConv(conv.ID) {
			switch m.Role {
			case model.RoleUser:
				users++
			case model.RoleAssistant:
				assistants++
			}
		}
		So(users, ShouldEqual, 2)
		So(assistants, ShouldEqual, 2)
	})

	Convey("历史中的工具记录还原为标准消息布局", t, func() {
		f := newChatFixture(textReply("第一轮"), textReply("第二轮"))

		conv, _ := f.convRepo.Create(ctx, "u1", "历史")
		args := json.RawMessage(`{"title":"旧任务"}`)
		result := json.RawMessage(`{"success":true}`)
		_, _ = f.msgRepo.Append(ctx, conv.ID, "u1", model.RoleUser, "记个任务", nil)
		_, _ = f.msgRepo.Append(ctx, conv.ID, "u1", model.RoleAssistant, "已创建",
			[]model.ToolCall{{Tool: tool.NameAddTask, Args: args, Result: result}})

		_, err := f.svc.Chat(ctx, "u1", &model.ChatRequest{Message: "还有别的吗", ConversationID: conv.ID})
		So(err, ShouldBeNil)

		prompt := f.capability.prompts[0]
		// system, user, assistant(tool_calls), tool, user
		So(len(prompt), ShouldEqual, 5)
		So(prompt[2].Role, ShouldEqual, schema.Assistant)
		So(len(prompt[2].ToolCalls), ShouldEqual, 1)
		So(prompt[2].ToolCalls[0].Function.Name, ShouldEqual, tool.NameAddTask)
		So(prompt[3].Role, ShouldEqual, schema.Tool)
		So(prompt[3].ToolCallID, ShouldEqual, prompt[2].ToolCalls[0].ID)
	})
}

func TestDeriveTitle(t *testing.T) {
	Convey("deriveTitle 截取对话标题", t, func() {
		So(deriveTitle("短消息"), ShouldEqual, "短消息")

		long := "这是一条很长很长的消息，用来验证标题截断逻辑是否按字符而不是字节计数工作正常"
		title := deriveTitle(long)
		So([]rune(title), ShouldHaveLength, 33) // 30字 + "..."
	})
}
