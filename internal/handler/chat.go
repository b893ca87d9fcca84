package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"plum/internal/ai"
	"plum/internal/model"
	"plum/internal/pkg/ctxutil"
	"plum/internal/repository"
	"plum/internal/service"
)

// ChatHandler 对话处理器
type ChatHandler struct {
	chatSvc *service.ChatService
}

// NewChatHandler 创建对话处理器
func NewChatHandler(chatSvc *service.ChatService) *ChatHandler {
	return &ChatHandler{chatSvc: chatSvc}
}

// Chat 发送消息
// @Summary      发送消息
// @Description  向助手发送一条自然语言消息，助手按需调用任务工具并回复
// @Tags         对话
// @Accept       json
// @Produce      json
// @Param        request  body      model.ChatRequest  true  "消息请求"
// @Success      200      {object}  model.ChatResponse
// @Failure      400      {object}  model.ErrorResponse
// @Failure      401      {object}  model.ErrorResponse
// @Failure      404      {object}  model.ErrorResponse
// @Failure      429      {object}  model.ErrorResponse
// @Failure      503      {object}  model.ErrorResponse
// @Router       /api/v1/chat [post]
func (h *ChatHandler) Chat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40001,
			Message: "Invalid request body",
			Detail:  err.Error(),
		})
		return
	}

	// 调用者身份只来自认证中间件注入的 context
	callerID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, model.ErrorResponse{
			Code:    40101,
			Message: "未授权",
		})
		return
	}

	resp, err := h.chatSvc.Chat(c.Request.Context(), callerID, &req)
	if err != nil {
		writeChatError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// writeChatError 将管线错误映射为对外可见的错误类别
func writeChatError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrEmptyMessage), errors.Is(err, service.ErrMessageTooLong):
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40002,
			Message: err.Error(),
		})
	case errors.Is(err, repository.ErrNotFound):
		// 不存在与归属他人给出同一信号
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Code:    40401,
			Message: "对话不存在",
		})
	case errors.Is(err, ai.ErrUnavailable):
		c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
			Code:    50301,
			Message: "助手暂时不可用，您的消息已保存，也可以直接使用任务接口管理任务",
		})
	default:
		// 内部细节只进日志，不出边界
		log.Error().Err(err).Msg("chat pipeline failed")
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Code:    50001,
			Message: "服务内部错误",
		})
	}
}
