package model

import (
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "Pending"
	StatusCompleted Status = "Completed"
)

// statusAliases maps accepted input labels to their canonical status.
var statusAliases = map[string]Status{
	"Pending":   StatusPending,
	"Completed": StatusCompleted,
	"Pendente":  StatusPending,
	"Concluída": StatusCompleted,
}

// ParseStatus resolves an input label to a canonical Status.
func ParseStatus(s string) (Status, bool) {
	st, ok := statusAliases[s]
	return st, ok
}

// Task represents a todo item owned by a single user.
type Task struct {
	ID          string     `json:"task_id"`
	UserID      string     `json:"user_id"`
	Title       string     `json:"title"`
	Description *string    `json:"description"`
	DueDate     *time.Time `json:"due_date"`
	Status      Status     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskFields holds the raw fields shared by create and update requests.
// Pointer fields distinguish an absent (or null) value from an empty one.
type TaskFields struct {
	Title       *string `json:"title" validate:"required,min=3,max=100"`
	Description *string `json:"description" validate:"omitempty,max=500"`
	DueDate     *string `json:"due_date" validate:"omitempty,iso8601,future"`
}

// CreateTaskRequest represents the request body for creating a task.
type CreateTaskRequest struct {
	TaskFields
}

// UpdateTaskRequest represents the request body for updating a task.
type UpdateTaskRequest struct {
	TaskFields
	Status *string `json:"status" validate:"required,task_status"`
}

// TaskInput is a validated, typed request with defaults applied.
type TaskInput struct {
	Title       string
	Description *string
	DueDate     *time.Time
	Status      Status
}

// TaskChanges is the complete set of mutable task fields. Nil pointers
// clear the stored value; they never mean "keep the previous value".
type TaskChanges struct {
	Title       string
	Description *string
	DueDate     *time.Time
	Status      Status
}

// Changes converts a validated input into a full replacement value set.
func (in TaskInput) Changes() TaskChanges {
	return TaskChanges{
		Title:       in.Title,
		Description: in.Description,
		DueDate:     in.DueDate,
		Status:      in.Status,
	}
}

// Clone returns a deep copy of the task so callers cannot alias stored state.
func (t Task) Clone() Task {
	c := t
	if t.Description != nil {
		d := *t.Description
		c.Description = &d
	}
	if t.DueDate != nil {
		d := *t.DueDate
		c.DueDate = &d
	}
	return c
}
