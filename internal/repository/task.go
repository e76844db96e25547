package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hiroki-koketsu/taskboard/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/taskboard/internal/repository")

// ErrCapacityExceeded is returned by Add when the store is full.
var ErrCapacityExceeded = errors.New("maximum records limit reached")

// DefaultMaxRecords is used when no positive capacity is configured.
const DefaultMaxRecords = 1000

// TaskStore is keyed task storage with a capacity guard.
type TaskStore interface {
	Add(ctx context.Context, task model.Task) (model.Task, error)
	GetByID(ctx context.Context, id string) (model.Task, bool)
	GetAll(ctx context.Context) []model.Task
	Update(ctx context.Context, id string, changes model.TaskChanges) (model.Task, bool)
	Count() int64
}

// TaskRepository provides an in-memory storage for tasks.
type TaskRepository struct {
	mu         sync.RWMutex
	tasks      map[string]model.Task
	order      []string
	maxRecords int
	now        func() time.Time
}

var _ TaskStore = (*TaskRepository)(nil)

// Option configures a TaskRepository.
type Option func(*TaskRepository)

// WithClock overrides the time source used to stamp updated_at.
func WithClock(now func() time.Time) Option {
	return func(r *TaskRepository) {
		r.now = now
	}
}

// NewTaskRepository creates a new TaskRepository holding at most maxRecords tasks.
func NewTaskRepository(maxRecords int, opts ...Option) *TaskRepository {
	if maxRecords <= 0 {
		maxRecords = DefaultMaxRecords
	}
	r := &TaskRepository{
		tasks:      make(map[string]model.Task),
		maxRecords: maxRecords,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add inserts a fully formed task keyed by its ID.
func (r *TaskRepository) Add(ctx context.Context, task model.Task) (model.Task, error) {
	_, span := tracer.Start(ctx, "TaskRepository.Add",
		trace.WithAttributes(attribute.String("task.id", task.ID)),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.tasks) >= r.maxRecords {
		span.SetAttributes(attribute.Bool("task.capacity_exceeded", true))
		return model.Task{}, ErrCapacityExceeded
	}

	if _, exists := r.tasks[task.ID]; !exists {
		r.order = append(r.order, task.ID)
	}
	r.tasks[task.ID] = task.Clone()

	span.SetAttributes(attribute.Int("task.count", len(r.tasks)))
	return task.Clone(), nil
}

// GetByID retrieves a task by its ID. The boolean is false on a miss.
func (r *TaskRepository) GetByID(ctx context.Context, id string) (model.Task, bool) {
	_, span := tracer.Start(ctx, "TaskRepository.GetByID",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	task, ok := r.tasks[id]
	span.SetAttributes(attribute.Bool("task.found", ok))
	if !ok {
		return model.Task{}, false
	}
	return task.Clone(), true
}

// GetAll returns a snapshot of all tasks in insertion order.
func (r *TaskRepository) GetAll(ctx context.Context) []model.Task {
	_, span := tracer.Start(ctx, "TaskRepository.GetAll")
	defer span.End()

	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]model.Task, 0, len(r.order))
	for _, id := range r.order {
		tasks = append(tasks, r.tasks[id].Clone())
	}

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks
}

// Update replaces the mutable fields of an existing task and stamps updated_at.
// Identity fields and created_at are kept from the stored record.
func (r *TaskRepository) Update(ctx context.Context, id string, changes model.TaskChanges) (model.Task, bool) {
	_, span := tracer.Start(ctx, "TaskRepository.Update",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()

	r.mu.Lock()
	defer r.mu.Unlock()

	task, ok := r.tasks[id]
	span.SetAttributes(attribute.Bool("task.found", ok))
	if !ok {
		return model.Task{}, false
	}

	task.Title = changes.Title
	task.Description = changes.Description
	task.DueDate = changes.DueDate
	task.Status = changes.Status

	now := r.now().UTC()
	if now.Before(task.CreatedAt) {
		now = task.CreatedAt
	}
	task.UpdatedAt = now

	task = task.Clone()
	r.tasks[id] = task
	return task.Clone(), true
}

// Count returns the current number of tasks.
func (r *TaskRepository) Count() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.tasks))
}
