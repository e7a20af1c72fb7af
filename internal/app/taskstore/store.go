package taskstore

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

type Task struct {
	TaskID      int64     `json:"task_id"`
	Description string    `json:"description"`
	Deadline    time.Time `json:"deadline"`
	Status      string    `json:"status"`
	ProjectID   int64     `json:"project_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TaskFields are the caller-mutable columns of a task.
type TaskFields struct {
	Description string
	Deadline    time.Time
	Status      string
	ProjectID   int64
}

type Assignee struct {
	TaskID       int64
	EmployeeID   int64
	EmployeeName string
}

type EmployeeTask struct {
	Task
	ProjectTitle *string `json:"project_title"`
}

type Employee struct {
	ID   int64   `json:"id"`
	Name string  `json:"name"`
	Role *string `json:"role"`
}

// WriteResult is returned by every statement that mutates rows.
type WriteResult struct {
	InsertedID int64
	Affected   int64
}

type TaskFilter struct {
	ProjectID   *int64
	OngoingOnly bool
}

// Queries are the statements the task core issues. Implementations run
// them either directly on the pool or inside a transaction.
type Queries interface {
	InsertTask(ctx context.Context, fields TaskFields) (WriteResult, error)
	UpdateTask(ctx context.Context, taskID int64, fields TaskFields) (WriteResult, error)
	UpdateTaskStatus(ctx context.Context, taskID int64, status string) (WriteResult, error)
	DeleteTask(ctx context.Context, taskID int64) (WriteResult, error)

	DeleteAssignments(ctx context.Context, taskID int64) (WriteResult, error)
	InsertAssignment(ctx context.Context, taskID, employeeID int64) (WriteResult, error)

	GetTask(ctx context.Context, taskID int64) (Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)
	// ListAssignees returns assignee rows for the given tasks, or for every
	// task when taskIDs is nil.
	ListAssignees(ctx context.Context, taskIDs []int64) ([]Assignee, error)
	ListTasksByEmployee(ctx context.Context, employeeID int64) ([]EmployeeTask, error)
	ListEmployees(ctx context.Context) ([]Employee, error)
}

type Store interface {
	Queries
	// WithTx runs fn in one transaction: commit when fn returns nil,
	// rollback otherwise.
	WithTx(ctx context.Context, fn func(q Queries) error) error
}
