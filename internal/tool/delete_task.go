package tool

import (
	"context"
	"encoding/json"
)

// DeleteTaskArgs delete_task 参数
type DeleteTaskArgs struct {
	TaskID string `json:"task_id"`
}

// DeleteTaskData delete_task 成功结果
type DeleteTaskData struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
}

func (e *Executor) deleteTask(ctx context.Context, callerID string, raw json.RawMessage) Result {
	var args DeleteTaskArgs
	if err := parseArgs(raw, &args); err != nil {
		return fail(CodeValidationError, "invalid arguments: "+err.Error())
	}
	if args.TaskID == "" {
		return fail(CodeValidationError, "task_id is required")
	}

	// 先取后删：删除结果里要带任务标题
	t, err := e.tasks.FindByID(ctx, args.TaskID, callerID)
	if err != nil {
		return storeFail(err)
	}
	if err := e.tasks.SoftDelete(ctx, args.TaskID, callerID); err != nil {
		return storeFail(err)
	}
	return ok(DeleteTaskData{TaskID: t.ID, Title: t.Title})
}
