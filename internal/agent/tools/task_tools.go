package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"taskagent/internal/models"
	"taskagent/internal/services"
)

// ListTasksInput filters the task list; open tasks only by default
type ListTasksInput struct {
	IncludeCompleted bool `json:"include_completed,omitempty" jsonschema_description:"Also list tasks that are already completed"`
}

// TaskIDInput identifies a single task
type TaskIDInput struct {
	ID string `json:"id" jsonschema_description:"ID of the task"`
}

// UpdateTaskInput changes fields of an existing task
type UpdateTaskInput struct {
	ID          string  `json:"id" jsonschema_description:"ID of the task to update"`
	Title       *string `json:"title,omitempty" jsonschema_description:"New title"`
	Description *string `json:"description,omitempty" jsonschema_description:"New description"`
	Completed   *bool   `json:"completed,omitempty" jsonschema_description:"Mark the task completed (true) or open (false)"`
}

// TaskTools returns the task-management tools bound to svc
func TaskTools(svc services.TaskService) []ToolDefinition {
	return []ToolDefinition{
		{
			Name:        "list_tasks",
			Description: "List the user's tasks. Open tasks only unless include_completed is set.",
			InputSchema: GenerateSchema[ListTasksInput](),
			Function: func(ctx context.Context, input json.RawMessage) (string, error) {
				var in ListTasksInput
				if err := decodeInput(input, &in); err != nil {
					return "", err
				}
				tasks, err := svc.ListTasks(ctx)
				if err != nil {
					return "", err
				}
				filtered := make([]models.Task, 0, len(tasks))
				for _, t := range tasks {
					if in.IncludeCompleted || !t.Completed {
						filtered = append(filtered, t)
					}
				}
				return encodeResult(filtered)
			},
		},
		{
			Name:        "get_task",
			Description: "Fetch a single task by its ID.",
			InputSchema: GenerateSchema[TaskIDInput](),
			Function: func(ctx context.Context, input json.RawMessage) (string, error) {
				var in TaskIDInput
				if err := decodeInput(input, &in); err != nil {
					return "", err
				}
				if in.ID == "" {
					return "", errors.New("id is required")
				}
				task, err := svc.GetTask(ctx, in.ID)
				if err != nil {
					return "", err
				}
				return encodeResult(task)
			},
		},
		{
			Name:        "create_task",
			Description: "Create a new task with a title and optional description.",
			InputSchema: GenerateSchema[models.TaskCreate](),
			Function: func(ctx context.Context, input json.RawMessage) (string, error) {
				var in models.TaskCreate
				if err := decodeInput(input, &in); err != nil {
					return "", err
				}
				task, err := svc.CreateTask(ctx, in)
				if err != nil {
					return "", err
				}
				return encodeResult(task)
			},
		},
		{
			Name:        "update_task",
			Description: "Update a task's title or description, or mark it completed.",
			InputSchema: GenerateSchema[UpdateTaskInput](),
			Function: func(ctx context.Context, input json.RawMessage) (string, error) {
				var in UpdateTaskInput
				if err := decodeInput(input, &in); err != nil {
					return "", err
				}
				if in.ID == "" {
					return "", errors.New("id is required")
				}
				task, err := svc.UpdateTask(ctx, in.ID, models.TaskUpdate{
					Title:       in.Title,
					Description: in.Description,
					Completed:   in.Completed,
				})
				if err != nil {
					return "", err
				}
				return encodeResult(task)
			},
		},
		{
			Name:        "delete_task",
			Description: "Delete a task permanently.",
			InputSchema: GenerateSchema[TaskIDInput](),
			Function: func(ctx context.Context, input json.RawMessage) (string, error) {
				var in TaskIDInput
				if err := decodeInput(input, &in); err != nil {
					return "", err
				}
				if in.ID == "" {
					return "", errors.New("id is required")
				}
				if err := svc.DeleteTask(ctx, in.ID); err != nil {
					return "", err
				}
				return fmt.Sprintf("Task %s deleted", in.ID), nil
			},
		},
	}
}

func decodeInput(input json.RawMessage, v any) error {
	if len(input) == 0 {
		return nil
	}
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("failed to parse input: %w", err)
	}
	return nil
}

func encodeResult(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}
