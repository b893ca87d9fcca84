package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"plum/internal/model/task"
)

// AddTaskArgs add_task 参数
type AddTaskArgs struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	DueDate     string `json:"due_date,omitempty"` // RFC3339 或 2006-01-02
}

// AddTaskData add_task 成功结果
type AddTaskData struct {
	TaskID  string `json:"task_id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
	DueDate string `json:"due_date,omitempty"`
}

func (e *Executor) addTask(ctx context.Context, callerID string, raw json.RawMessage) Result {
	var args AddTaskArgs
	if err := parseArgs(raw, &args); err != nil {
		return fail(CodeValidationError, "invalid arguments: "+err.Error())
	}

	title := strings.TrimSpace(args.Title)
	if title == "" {
		return fail(CodeValidationError, "title is required")
	}
	if utf8.RuneCountInString(title) > task.TitleMaxLen {
		return fail(CodeValidationError, fmt.Sprintf("title exceeds %d characters", task.TitleMaxLen))
	}
	if utf8.RuneCountInString(args.Description) > task.DescriptionMaxLen {
		return fail(CodeValidationError, fmt.Sprintf("description exceeds %d characters", task.DescriptionMaxLen))
	}

	dueDate, err := ParseDueDate(args.DueDate)
	if err != nil {
		return fail(CodeValidationError, err.Error())
	}

	t := &task.Task{
		UserID:      callerID,
		Title:       title,
		Description: strings.TrimSpace(args.Description),
		DueDate:     dueDate,
	}
	if err := e.tasks.Create(ctx, t); err != nil {
		return storeFail(err)
	}

	data := AddTaskData{TaskID: t.ID, Title: t.Title, Status: "pending"}
	if t.DueDate != nil {
		data.DueDate = t.DueDate.Format(time.RFC3339)
	}
	return ok(data)
}

// ParseDueDate 解析截止日期，空串表示未设置
func ParseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid due_date %q, expected RFC3339 or YYYY-MM-DD", s)
}
