package tool

import (
	"github.com/cloudwego/eino/schema"
)

// Catalog 返回提供给模型的工具目录
// 与 Invoke 的 switch 一一对应，五个工具，不多不少
func Catalog() []*schema.ToolInfo {
	return []*schema.ToolInfo{
		{
			Name: NameAddTask,
			Desc: "Create a new task for the user.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"title": {
					Type:     schema.String,
					Desc:     "Task title, 1-200 characters",
					Required: true,
				},
				"description": {
					Type: schema.String,
					Desc: "Optional task description, up to 1000 characters",
				},
				"due_date": {
					Type: schema.String,
					Desc: "Optional due date, RFC3339 or YYYY-MM-DD",
				},
			}),
		},
		{
			Name: NameListTasks,
			Desc: "List the user's tasks, optionally filtered by status.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"status": {
					Type: schema.String,
					Desc: "Filter: all, pending or completed (default all)",
					Enum: []string{"all", "pending", "completed"},
				},
			}),
		},
		{
			Name: NameCompleteTask,
			Desc: "Mark a task as completed. Completing an already completed task is not an error.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"task_id": {
					Type:     schema.String,
					Desc:     "ID of the task to complete",
					Required: true,
				},
			}),
		},
		{
			Name: NameDeleteTask,
			Desc: "Delete a task.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"task_id": {
					Type:     schema.String,
					Desc:     "ID of the task to delete",
					Required: true,
				},
			}),
		},
		{
			Name: NameUpdateTask,
			Desc: "Update a task's title, description or due date. At least one field is required.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"task_id": {
					Type:     schema.String,
					Desc:     "ID of the task to update",
					Required: true,
				},
				"title": {
					Type: schema.String,
					Desc: "New title, 1-200 characters",
				},
				"description": {
					Type: schema.String,
					Desc: "New description, up to 1000 characters",
				},
				"due_date": {
					Type: schema.String,
					Desc: "New due date, RFC3339 or YYYY-MM-DD",
				},
			}),
		},
	}
}
