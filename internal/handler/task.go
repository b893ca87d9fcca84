package handler

import (
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"

	"plum/internal/model"
	taskModel "plum/internal/model/task"
	"plum/internal/pkg/ctxutil"
	"plum/internal/repository"
	taskRepo "plum/internal/repository/task"
	"plum/internal/tool"
)

// TaskHandler 任务直连处理器
// 助手不可用时的降级通道：不经过模型，直接走与工具层相同的归属校验仓库
type TaskHandler struct {
	repo taskRepo.TaskRepository
}

// NewTaskHandler 创建任务处理器
func NewTaskHandler(repo taskRepo.TaskRepository) *TaskHandler {
	return &TaskHandler{repo: repo}
}

// CreateTaskRequest 创建任务请求
type CreateTaskRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"` // RFC3339 或 2006-01-02
}

// UpdateTaskRequest 更新任务请求（至少提供一个字段）
type UpdateTaskRequest struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

// Create 创建任务
// @Summary      创建任务
// @Tags         任务
// @Accept       json
// @Produce      json
// @Param        request  body  CreateTaskRequest  true  "任务"
// @Success      201  {object}  task.Task
// @Router       /api/v1/tasks [post]
func (h *TaskHandler) Create(c *gin.Context) {
	callerID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeUnauthorized(c)
		return
	}

	var req CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeTaskValidation(c, "Invalid request body: "+err.Error())
		return
	}

	title := strings.TrimSpace(req.Title)
	if title == "" || utf8.RuneCountInString(title) > taskModel.TitleMaxLen {
		writeTaskValidation(c, "title must be 1-200 characters")
		return
	}
	if utf8.RuneCountInString(req.Description) > taskModel.DescriptionMaxLen {
		writeTaskValidation(c, "description exceeds 1000 characters")
		return
	}

	dueDate, err := tool.ParseDueDate(req.DueDate)
	if err != nil {
		writeTaskValidation(c, err.Error())
		return
	}

	t := &taskModel.Task{
		UserID:      callerID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		DueDate:     dueDate,
	}
	if err := h.repo.Create(c.Request.Context(), t); err != nil {
		log.Error().Err(err).Msg("failed to create task")
		writeInternal(c)
		return
	}

	c.JSON(http.StatusCreated, t)
}

// List 任务列表
// @Summary      任务列表
// @Tags         任务
// @Produce      json
// @Param        status  query  string  false  "过滤: all/pending/completed"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/tasks [get]
func (h *TaskHandler) List(c *gin.Context) {
	callerID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeUnauthorized(c)
		return
	}

	status := taskModel.Status(c.DefaultQuery("status", string(taskModel.StatusAll)))
	if !status.Valid() {
		writeTaskValidation(c, "status must be one of all/pending/completed")
		return
	}

	tasks, err := h.repo.ListByUserID(c.Request.Context(), callerID, status)
	if err != nil {
		log.Error().Err(err).Msg("failed to list tasks")
		writeInternal(c)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"total": len(tasks),
	})
}

// Update 更新任务
// @Summary      更新任务
// @Tags         任务
// @Accept       json
// @Produce      json
// @Param        id       path  string             true  "任务ID"
// @Param        request  body  UpdateTaskRequest  true  "更新字段"
// @Success      200  {object}  task.Task
// @Failure      404  {object}  model.ErrorResponse
// @Router       /api/v1/tasks/{id} [patch]
func (h *TaskHandler) Update(c *gin.Context) {
	callerID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeUnauthorized(c)
		return
	}

	var req UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeTaskValidation(c, "Invalid request body: "+err.Error())
		return
	}

	set := bson.M{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" || utf8.RuneCountInString(title) > taskModel.TitleMaxLen {
			writeTaskValidation(c, "title must be 1-200 characters")
			return
		}
		set["title"] = title
	}
	if req.Description != nil {
		if utf8.RuneCountInString(*req.Description) > taskModel.DescriptionMaxLen {
			writeTaskValidation(c, "description exceeds 1000 characters")
			return
		}
		set["description"] = strings.TrimSpace(*req.Description)
	}
	if req.DueDate != nil {
		dueDate, err := tool.ParseDueDate(*req.DueDate)
		if err != nil {
			writeTaskValidation(c, err.Error())
			return
		}
		set["due_date"] = dueDate
	}
	if len(set) == 0 {
		writeTaskValidation(c, "at least one of title/description/due_date is required")
		return
	}

	t, err := h.repo.Update(c.Request.Context(), c.Param("id"), callerID, set)
	if err != nil {
		writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, t)
}

// Complete 完成任务（幂等）
// @Summary      完成任务
// @Tags         任务
// @Produce      json
// @Param        id  path  string  true  "任务ID"
// @Success      200  {object}  task.Task
// @Failure      404  {object}  model.ErrorResponse
// @Router       /api/v1/tasks/{id}/complete [post]
func (h *TaskHandler) Complete(c *gin.Context) {
	callerID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeUnauthorized(c)
		return
	}

	t, _, err := h.repo.MarkCompleted(c.Request.Context(), c.Param("id"), callerID)
	if err != nil {
		writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, t)
}

// Delete 删除任务（软删除）
// @Summary      删除任务
// @Tags         任务
// @Produce      json
// @Param        id  path  string  true  "任务ID"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  model.ErrorResponse
// @Router       /api/v1/tasks/{id} [delete]
func (h *TaskHandler) Delete(c *gin.Context) {
	callerID, ok := ctxutil.GetUserID(c.Request.Context())
	if !ok {
		writeUnauthorized(c)
		return
	}

	if err := h.repo.SoftDelete(c.Request.Context(), c.Param("id"), callerID); err != nil {
		writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "任务已删除",
	})
}

func writeTaskValidation(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, model.ErrorResponse{
		Code:    40002,
		Message: msg,
	})
}

func writeTaskError(c *gin.Context, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		c.JSON(http.StatusNotFound, model.ErrorResponse{
			Code:    40402,
			Message: "任务不存在",
		})
		return
	}
	log.Error().Err(err).Msg("task store error")
	writeInternal(c)
}
