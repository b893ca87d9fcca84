package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	. "github.com/smartystreets/goconvey/convey"

	"plum/internal/config"
)

// stubChatModel 脚本化 ChatModel：按调用次序返回预置的错误或回复
type stubChatModel struct {
	calls   int
	errs    []error
	replies []*schema.Message
}

func (s *stubChatModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	s.calls++
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return nil, s.errs[s.calls-1]
	}
	if len(s.replies) > 0 {
		return s.replies[0], nil
	}
	return &schema.Message{Role: schema.Assistant, Content: "好的"}, nil
}

func (s *stubChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not supported")
}

func (s *stubChatModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return s, nil
}

func newTestClient(stub *stubChatModel, retries int) *Client {
	return &Client{
		cfg:       &config.AIConfig{Timeout: time.Second, MaxRetries: retries},
		chatModel: stub,
	}
}

func TestClientGenerate(t *testing.T) {
	ctx := context.Background()
	prompt := []*schema.Message{schema.UserMessage("你好")}

	Convey("首次成功直接返回", t, func() {
		stub := &stubChatModel{}
		resp, err := newTestClient(stub, 2).Generate(ctx, prompt)
		So(err, ShouldBeNil)
		So(resp.Content, ShouldEqual, "好的")
		So(stub.calls, ShouldEqual, 1)
	})

	Convey("瞬时失败后重试成功", t, func() {
		stub := &stubChatModel{errs: []error{context.DeadlineExceeded}}
		resp, err := newTestClient(stub, 2).Generate(ctx, prompt)
		So(err, ShouldBeNil)
		So(resp, ShouldNotBeNil)
		So(stub.calls, ShouldEqual, 2)
	})

	Convey("瞬时失败耗尽重试后返回ErrUnavailable", t, func() {
		stub := &stubChatModel{errs: []error{
			context.DeadlineExceeded,
			context.DeadlineExceeded,
		}}
		_, err := newTestClient(stub, 1).Generate(ctx, prompt)
		So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
		// MaxRetries=1 即总共两次尝试
		So(stub.calls, ShouldEqual, 2)
	})

	Convey("鉴权类错误不重试", t, func() {
		for _, msg := range []string{
			"401 Unauthorized",
			"error code: 403",
			"Incorrect API key provided",
			"invalid_request_error: model not found",
		} {
			stub := &stubChatModel{errs: []error{errors.New(msg), errors.New(msg), errors.New(msg)}}
			_, err := newTestClient(stub, 2).Generate(ctx, prompt)
			So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
			So(stub.calls, ShouldEqual, 1)
		}
	})

	Convey("调用方取消后立即放弃", t, func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		stub := &stubChatModel{errs: []error{errors.New("connection reset")}}
		_, err := newTestClient(stub, 3).Generate(cancelled, prompt)
		So(errors.Is(err, ErrUnavailable), ShouldBeTrue)
		So(stub.calls, ShouldEqual, 1)
	})
}
