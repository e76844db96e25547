// Package service holds the task business rules: validation, ownership
// checks and store mutation all go through TaskService.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hiroki-koketsu/taskboard/internal/model"
	"github.com/hiroki-koketsu/taskboard/internal/repository"
	"github.com/hiroki-koketsu/taskboard/internal/validation"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/taskboard/internal/service")

// TaskService is the only component allowed to authorize and mutate tasks.
type TaskService struct {
	store     repository.TaskStore
	validator *validation.Validator
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a TaskService.
type Option func(*TaskService)

// WithClock sets the time source used for created_at/updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *TaskService) {
		s.now = now
	}
}

// WithIDGenerator overrides task id generation.
func WithIDGenerator(newID func() string) Option {
	return func(s *TaskService) {
		s.newID = newID
	}
}

// NewTaskService creates a new TaskService.
func NewTaskService(store repository.TaskStore, v *validation.Validator, logger *slog.Logger, opts ...Option) *TaskService {
	s := &TaskService{
		store:     store,
		validator: v,
		logger:    logger,
		now:       time.Now,
		newID:     func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates body and stores a new Pending task owned by callerID.
func (s *TaskService) Create(ctx context.Context, callerID string, body []byte) (model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskService.Create")
	defer span.End()

	in, err := s.validator.DecodeCreate(body)
	if err != nil {
		return model.Task{}, s.fail(ctx, span, validationFailure("validation failed", err))
	}

	now := s.now().UTC()
	task := model.Task{
		ID:          s.newID(),
		UserID:      callerID,
		Title:       in.Title,
		Description: in.Description,
		DueDate:     in.DueDate,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	stored, err := s.store.Add(ctx, task)
	if err != nil {
		if errors.Is(err, repository.ErrCapacityExceeded) {
			return model.Task{}, s.fail(ctx, span, model.ErrCapacityExceeded.Wrap(err))
		}
		return model.Task{}, s.fail(ctx, span, model.ErrInternal.Wrap(err))
	}

	span.SetAttributes(attribute.String("task.id", stored.ID))
	s.logger.InfoContext(ctx, "task created",
		slog.String("task_id", stored.ID),
		slog.String("user_id", callerID),
	)
	return stored, nil
}

// Get returns the task identified by rawID if callerID owns it.
func (s *TaskService) Get(ctx context.Context, callerID, rawID string) (model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskService.Get",
		trace.WithAttributes(attribute.String("task.id", rawID)),
	)
	defer span.End()

	id, err := s.validator.ValidateID(rawID)
	if err != nil {
		return model.Task{}, s.fail(ctx, span, validationFailure("invalid task id", err))
	}

	task, terr := s.owned(ctx, callerID, id)
	if terr != nil {
		return model.Task{}, s.fail(ctx, span, terr)
	}
	return task, nil
}

// Update replaces title, description, due_date and status of an owned task.
// Absent description or due_date clear the stored value.
func (s *TaskService) Update(ctx context.Context, callerID, rawID string, body []byte) (model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskService.Update",
		trace.WithAttributes(attribute.String("task.id", rawID)),
	)
	defer span.End()

	id, err := s.validator.ValidateID(rawID)
	if err != nil {
		return model.Task{}, s.fail(ctx, span, validationFailure("invalid task id", err))
	}

	in, err := s.validator.DecodeUpdate(body)
	if err != nil {
		return model.Task{}, s.fail(ctx, span, validationFailure("validation failed", err))
	}

	if _, terr := s.owned(ctx, callerID, id); terr != nil {
		return model.Task{}, s.fail(ctx, span, terr)
	}

	updated, ok := s.store.Update(ctx, id, in.Changes())
	if !ok {
		return model.Task{}, s.fail(ctx, span, model.ErrInternal.Wrap(errors.New("task vanished between lookup and update")))
	}

	s.logger.InfoContext(ctx, "task updated",
		slog.String("task_id", id),
		slog.String("status", string(updated.Status)),
	)
	return updated, nil
}

// List returns the tasks owned by callerID, oldest first.
func (s *TaskService) List(ctx context.Context, callerID string) ([]model.Task, error) {
	ctx, span := tracer.Start(ctx, "TaskService.List")
	defer span.End()

	all := s.store.GetAll(ctx)
	tasks := make([]model.Task, 0, len(all))
	for _, t := range all {
		if t.UserID == callerID {
			tasks = append(tasks, t)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	return tasks, nil
}

// owned looks the task up and checks ownership. Existence is checked first.
func (s *TaskService) owned(ctx context.Context, callerID, id string) (model.Task, *model.TaskError) {
	task, ok := s.store.GetByID(ctx, id)
	if !ok {
		return model.Task{}, model.ErrTaskNotFound
	}
	if task.UserID != callerID {
		return model.Task{}, model.ErrAccessDenied
	}
	return task, nil
}

func (s *TaskService) fail(ctx context.Context, span trace.Span, err *model.TaskError) error {
	span.SetAttributes(attribute.String("error.kind", string(err.Kind)))
	if err.Status >= 500 {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Message)
		s.logger.ErrorContext(ctx, "task operation failed", slog.Any("error", err))
	} else {
		s.logger.WarnContext(ctx, "task request rejected",
			slog.String("kind", string(err.Kind)),
			slog.String("message", err.Message),
		)
	}
	return err
}

func validationFailure(message string, err error) *model.TaskError {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		te := model.NewValidationError(message, verr.Fields)
		te.Err = err
		return te
	}
	return model.ErrInternal.Wrap(err)
}
