// Package tool 实现助手可调用的五个任务操作。
//
// 工具集是封闭的：新增/删除工具必须修改 Invoke 的 switch 和 Catalog，
// 属于编译期可见的改动。工具永远不向编排层返回 Go error——一切失败
// 都封装为结构化 Result，交由模型以自然语言向用户解释。
package tool

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"

	"plum/internal/repository"
	taskRepo "plum/internal/repository/task"
)

// 工具名称（封闭集合）
const (
	NameAddTask      = "add_task"
	NameListTasks    = "list_tasks"
	NameCompleteTask = "complete_task"
	NameDeleteTask   = "delete_task"
	NameUpdateTask   = "update_task"
)

// ErrorCode 工具错误码（封闭集合）
type ErrorCode string

const (
	CodeValidationError ErrorCode = "VALIDATION_ERROR"
	CodeTaskNotFound    ErrorCode = "TASK_NOT_FOUND"
	CodeInternalError   ErrorCode = "INTERNAL_ERROR"
)

// Result 工具执行结果
// Data 为各工具自己的结果结构（add_task.go 等文件定义）
type Result struct {
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	ErrorCode ErrorCode `json:"error_code,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// JSON 序列化结果（写入消息的 tool_calls 记录）
func (r Result) JSON() json.RawMessage {
	data, err := json.Marshal(r)
	if err != nil {
		// Result 只含可序列化字段，到这里说明某个工具塞了不可序列化的 Data
		log.Error().Err(err).Msg("failed to marshal tool result")
		return json.RawMessage(`{"success":false,"error_code":"INTERNAL_ERROR"}`)
	}
	return data
}

func ok(data any) Result {
	return Result{Success: true, Data: data}
}

func fail(code ErrorCode, msg string) Result {
	return Result{Success: false, Error: msg, ErrorCode: code}
}

// Executor 工具执行器
// 无状态：caller 身份由编排层按请求传入，绝不从工具参数中读取
type Executor struct {
	tasks taskRepo.TaskRepository
}

// NewExecutor 创建工具执行器
func NewExecutor(tasks taskRepo.TaskRepository) *Executor {
	return &Executor{tasks: tasks}
}

// Invoke 执行一次工具调用
// name 来自模型请求，args 为模型给出的 JSON 参数；callerID 由编排层注入
func (e *Executor) Invoke(ctx context.Context, callerID, name string, args json.RawMessage) Result {
	var result Result
	switch name {
	case NameAddTask:
		result = e.addTask(ctx, callerID, args)
	case NameListTasks:
		result = e.listTasks(ctx, callerID, args)
	case NameCompleteTask:
		result = e.completeTask(ctx, callerID, args)
	case NameDeleteTask:
		result = e.deleteTask(ctx, callerID, args)
	case NameUpdateTask:
		result = e.updateTask(ctx, callerID, args)
	default:
		result = fail(CodeValidationError, "unknown tool: "+name)
	}

	if !result.Success {
		log.Warn().
			Str("tool", name).
			Str("error_code", string(result.ErrorCode)).
			Str("error", result.Error).
			Msg("tool call failed")
	}
	return result
}

// storeFail 将仓库错误映射为工具错误
// 不存在与归属他人由仓库层统一折叠为 ErrNotFound
func storeFail(err error) Result {
	if errors.Is(err, repository.ErrNotFound) {
		return fail(CodeTaskNotFound, "task not found")
	}
	log.Error().Err(err).Msg("task store error")
	return fail(CodeInternalError, "task store unavailable")
}

// parseArgs 解析工具参数
func parseArgs(args json.RawMessage, dest any) error {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return json.Unmarshal(args, dest)
}
