package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.mongodb.org/mongo-driver/bson"

	"plum/internal/model/task"
)

// UpdateTaskArgs update_task 参数
// title/description/due_date 至少提供一个
type UpdateTaskArgs struct {
	TaskID      string  `json:"task_id"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	DueDate     *string `json:"due_date,omitempty"`
}

// UpdateTaskData update_task 成功结果
type UpdateTaskData struct {
	TaskID        string   `json:"task_id"`
	UpdatedFields []string `json:"updated_fields"`
	Title         string   `json:"title"`
	UpdatedAt     string   `json:"updated_at"`
}

func (e *Executor) updateTask(ctx context.Context, callerID string, raw json.RawMessage) Result {
	var args UpdateTaskArgs
	if err := parseArgs(raw, &args); err != nil {
		return fail(CodeValidationError, "invalid arguments: "+err.Error())
	}
	if args.TaskID == "" {
		return fail(CodeValidationError, "task_id is required")
	}

	// 零字段更新在触碰存储之前就拒绝
	set := bson.M{}
	var updated []string

	if args.Title != nil {
		title := strings.TrimSpace(*args.Title)
		if title == "" {
			return fail(CodeValidationError, "title must not be empty")
		}
		if utf8.RuneCountInString(title) > task.TitleMaxLen {
			return fail(CodeValidationError, fmt.Sprintf("title exceeds %d characters", task.TitleMaxLen))
		}
		set["title"] = title
		updated = append(updated, "title")
	}
	if args.Description != nil {
		if utf8.RuneCountInString(*args.Description) > task.DescriptionMaxLen {
			return fail(CodeValidationError, fmt.Sprintf("description exceeds %d characters", task.DescriptionMaxLen))
		}
		set["description"] = strings.TrimSpace(*args.Description)
		updated = append(updated, "description")
	}
	if args.DueDate != nil {
		dueDate, err := ParseDueDate(*args.DueDate)
		if err != nil {
			return fail(CodeValidationError, err.Error())
		}
		set["due_date"] = dueDate
		updated = append(updated, "due_date")
	}

	if len(set) == 0 {
		return fail(CodeValidationError, "at least one of title/description/due_date is required")
	}

	t, err := e.tasks.Update(ctx, args.TaskID, callerID, set)
	if err != nil {
		return storeFail(err)
	}

	return ok(UpdateTaskData{
		TaskID:        t.ID,
		UpdatedFields: updated,
		Title:         t.Title,
		UpdatedAt:     t.UpdatedAt.Format(time.RFC3339),
	})
}
