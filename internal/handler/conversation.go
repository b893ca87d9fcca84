package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"plum/internal/model"
	"plum/internal/pkg/ctxutil"
	"plum/internal/repository"
	"plum/internal/service"
)

// ConversationHandler 对话管理处理器
type ConversationHandler struct {
	convSvc *service.ConversationService
}

// NewConversationHandler 创建对话管理处理器
func NewConversationHandler(convSvc *service.ConversationService) *ConversationHandler {
	return &ConversationHandler{convSvc: convSvc}
}

// List 获取对话列表
// @Summary      对话列表
// @Tags         对话
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/conversations [get]
func (h *ConversationHandler) List(c *gin.Context) {
	callerID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeUnauthorized(c)
		return
	}

	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "20"), 10, 64)
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)

	convs, err := h.convSvc.List(c.Request.Context(), callerID, limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("failed to list conversations")
		writeInternal(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversations": convs,
		"total":         len(convs),
	})
}

// Messages 读取对话历史
// @Summary      对话历史
// @Description  按时间正序返回对话消息，limit 1-100，默认 50
// @Tags         对话
// @Produce      json
// @Param        id     path   string  true   "对话ID"
// @Param        limit  query  int     false  "返回条数上限"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  model.ErrorResponse
// @Router       /api/v1/conversations/{id}/messages [get]
func (h *ConversationHandler) Messages(c *gin.Context) {
	callerID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeUnauthorized(c)
		return
	}

	convID := c.Param("id")
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil || limit < 1 || limit > service.HistoryMaxLimit {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Code:    40003,
			Message: "limit must be between 1 and 100",
		})
		return
	}

	msgs, err := h.convSvc.History(c.Request.Context(), callerID, convID, limit)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeConversationNotFound(c)
			return
		}
		log.Error().Err(err).Msg("failed to load history")
		writeInternal(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": convID,
		"messages":        msgs,
		"total":           len(msgs),
	})
}

// Delete 删除对话（软删除）
// @Summary      删除对话
// @Tags         对话
// @Produce      json
// @Param        id  path  string  true  "对话ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  model.ErrorResponse
// @Router       /api/v1/conversations/{id} [delete]
func (h *ConversationHandler) Delete(c *gin.Context) {
	callerID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeUnauthorized(c)
		return
	}

	convID := c.Param("id")
	if err := h.convSvc.Delete(c.Request.Context(), callerID, convID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeConversationNotFound(c)
			return
		}
		log.Error().Err(err).Msg("failed to delete conversation")
		writeInternal(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "对话已删除",
	})
}

// Export 导出对话文本
// @Summary      导出对话
// @Description  将对话文本归档到对象存储，返回限时下载URL
// @Tags         对话
// @Produce      json
// @Param        id  path  string  true  "对话ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  model.ErrorResponse
// @Failure      503  {object}  model.ErrorResponse
// @Router       /api/v1/conversations/{id}/export [post]
func (h *ConversationHandler) Export(c *gin.Context) {
	callerID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeUnauthorized(c)
		return
	}

	convID := c.Param("id")
	url, err := h.convSvc.Export(c.Request.Context(), callerID, convID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeConversationNotFound(c)
		case errors.Is(err, service.ErrExportUnavailable):
			c.JSON(http.StatusServiceUnavailable, model.ErrorResponse{
				Code:    50302,
				Message: "导出存储未配置",
			})
		default:
			log.Error().Err(err).Msg("failed to export conversation")
			writeInternal(c)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"conversation_id": convID,
		"download_url":    url,
	})
}

// 公共错误响应

func writeUnauthorized(c *gin.Context) {
	c.JSON(http.StatusUnauthorized, model.ErrorResponse{
		Code:    40101,
		Message: "未授权",
	})
}

func writeConversationNotFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, model.ErrorResponse{
		Code:    40401,
		Message: "对话不存在",
	})
}

func writeInternal(c *gin.Context) {
	c.JSON(http.StatusInternalServerError, model.ErrorResponse{
		Code:    50001,
		Message: "服务内部错误",
	})
}
