package tool

import (
	"context"
	"encoding/json"
	"time"

	"plum/internal/model/task"
)

// ListTasksArgs list_tasks 参数
type ListTasksArgs struct {
	Status string `json:"status,omitempty"` // all | pending | completed，缺省 all
}

// TaskSummary 任务摘要
type TaskSummary struct {
	TaskID    string `json:"task_id"`
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
	DueDate   string `json:"due_date,omitempty"`
}

// ListTasksData list_tasks 成功结果
// 空列表同样是成功
type ListTasksData struct {
	Tasks []TaskSummary `json:"tasks"`
	Count int           `json:"count"`
}

func (e *Executor) listTasks(ctx context.Context, callerID string, raw json.RawMessage) Result {
	var args ListTasksArgs
	if err := parseArgs(raw, &args); err != nil {
		return fail(CodeValidationError, "invalid arguments: "+err.Error())
	}

	status := task.Status(args.Status)
	if args.Status == "" {
		status = task.StatusAll
	}
	if !status.Valid() {
		return fail(CodeValidationError, "status must be one of all/pending/completed")
	}

	tasks, err := e.tasks.ListByUserID(ctx, callerID, status)
	if err != nil {
		return storeFail(err)
	}

	summaries := make([]TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		s := TaskSummary{TaskID: t.ID, Title: t.Title, Completed: t.Completed}
		if t.DueDate != nil {
			s.DueDate = t.DueDate.Format(time.RFC3339)
		}
		summaries = append(summaries, s)
	}
	return ok(ListTasksData{Tasks: summaries, Count: len(summaries)})
}
