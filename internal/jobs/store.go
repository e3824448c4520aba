package jobs

import "context"

// Store persists task states for queue restart recovery.
type Store interface {
	LoadTasks(ctx context.Context) ([]*Task, error)
	UpsertTask(ctx context.Context, task *Task) error
	DeleteTask(ctx context.Context, taskID string) error
	// DeleteTaskData removes all auxiliary data (run results) for a task.
	DeleteTaskData(ctx context.Context, taskID string) error
}
