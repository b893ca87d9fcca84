package tool

import (
	"context"
	"encoding/json"
	"time"
)

// CompleteTaskArgs complete_task 参数
type CompleteTaskArgs struct {
	TaskID string `json:"task_id"`
}

// CompleteTaskData complete_task 成功结果
type CompleteTaskData struct {
	TaskID      string `json:"task_id"`
	Title       string `json:"title"`
	Status      string `json:"status"`
	CompletedAt string `json:"completed_at,omitempty"`
	Message     string `json:"message,omitempty"`
}

func (e *Executor) completeTask(ctx context.Context, callerID string, raw json.RawMessage) Result {
	var args CompleteTaskArgs
	if err := parseArgs(raw, &args); err != nil {
		return fail(CodeValidationError, "invalid arguments: "+err.Error())
	}
	if args.TaskID == "" {
		return fail(CodeValidationError, "task_id is required")
	}

	t, updated, err := e.tasks.MarkCompleted(ctx, args.TaskID, callerID)
	if err != nil {
		return storeFail(err)
	}

	data := CompleteTaskData{TaskID: t.ID, Title: t.Title, Status: "completed"}
	if t.CompletedAt != nil {
		data.CompletedAt = t.CompletedAt.Format(time.RFC3339)
	}
	// 重复完成是幂等操作，不算错误，首次完成时间保持不变
	if !updated {
		data.Message = "task was already completed"
	}
	return ok(data)
}
