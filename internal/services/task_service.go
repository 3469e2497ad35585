// Package services provides task persistence for the task manager.
package services

import (
	"context"
	"errors"

	"taskagent/internal/models"
)

// ErrTaskNotFound is returned when no task matches the requested ID.
var ErrTaskNotFound = errors.New("task not found")

// ErrInvalidTask is returned when a create or update would leave a task invalid.
var ErrInvalidTask = errors.New("invalid task")

// TaskService is the persistence contract for tasks.
type TaskService interface {
	ListTasks(ctx context.Context) ([]models.Task, error)
	GetTask(ctx context.Context, id string) (*models.Task, error)
	CreateTask(ctx context.Context, req models.TaskCreate) (*models.Task, error)
	UpdateTask(ctx context.Context, id string, req models.TaskUpdate) (*models.Task, error)
	DeleteTask(ctx context.Context, id string) error
}
