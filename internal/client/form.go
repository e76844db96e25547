package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/hiroki-koketsu/taskboard/internal/model"
)

// Mode selects whether a Form creates a new task or edits an existing one.
type Mode int

const (
	ModeCreate Mode = iota
	ModeEdit
)

// State is the submission state of a Form.
type State int

const (
	StateIdle State = iota
	StateSubmitting
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubmitting:
		return "submitting"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Form field names, as reported in field errors.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldDueDate     = "due_date"
	FieldStatus      = "status"
)

const (
	fallbackCreateMessage = "Failed to create task"
	fallbackUpdateMessage = "Failed to update task"
)

// ErrSubmitInProgress is returned when Submit is called while a previous
// submission has not finished.
var ErrSubmitInProgress = errors.New("submission already in progress")

// Values is what the user entered. An empty Description means none.
type Values struct {
	Title       string
	Description string
	DueDate     *time.Time
	Status      model.Status
}

// Form binds user input to the task API and tracks submission state.
type Form struct {
	mode     Mode
	taskID   string
	client   *Client
	navigate func(path string)
	initial  Values

	mu          sync.Mutex
	state       State
	message     string
	fieldErrors []model.FieldError
}

// NewCreateForm returns a form that creates tasks. navigate is called with
// "/" after a successful submit.
func NewCreateForm(c *Client, navigate func(string)) *Form {
	return &Form{
		mode:     ModeCreate,
		client:   c,
		navigate: navigate,
		initial:  Values{Status: model.StatusPending},
	}
}

// NewEditForm returns a form prefilled from task.
func NewEditForm(c *Client, task model.Task, navigate func(string)) *Form {
	initial := Values{
		Title:   task.Title,
		DueDate: task.DueDate,
		Status:  task.Status,
	}
	if task.Description != nil {
		initial.Description = *task.Description
	}
	return &Form{
		mode:     ModeEdit,
		taskID:   task.ID,
		client:   c,
		navigate: navigate,
		initial:  initial,
	}
}

// Initial returns the values the form starts with.
func (f *Form) Initial() Values {
	return f.initial
}

// State returns the current submission state.
func (f *Form) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Message is the user-facing error of the last failed submit.
func (f *Form) Message() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.message
}

// FieldErrors are the per-field errors of the last failed submit.
func (f *Form) FieldErrors() []model.FieldError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.FieldError(nil), f.fieldErrors...)
}

// Editable reports whether field accepts input given the selected status.
// In edit mode a completed task only allows its status to change.
func (f *Form) Editable(field string, status model.Status) bool {
	if f.State() == StateSubmitting {
		return false
	}
	if field == FieldStatus {
		return f.mode == ModeEdit
	}
	return !(f.mode == ModeEdit && status == model.StatusCompleted)
}

// Submit sends v to the API. On success the caches are already invalidated
// by the client and navigate("/") is called.
func (f *Form) Submit(ctx context.Context, v Values) (model.Task, error) {
	f.mu.Lock()
	if f.state == StateSubmitting {
		f.mu.Unlock()
		return model.Task{}, ErrSubmitInProgress
	}
	f.state = StateSubmitting
	f.message = ""
	f.fieldErrors = nil
	f.mu.Unlock()

	fields := toFields(v)

	var (
		task     model.Task
		err      error
		fallback string
	)
	if f.mode == ModeCreate {
		fallback = fallbackCreateMessage
		task, err = f.client.Create(ctx, model.CreateTaskRequest{TaskFields: fields})
	} else {
		fallback = fallbackUpdateMessage
		status := string(v.Status)
		task, err = f.client.Update(ctx, f.taskID, model.UpdateTaskRequest{TaskFields: fields, Status: &status})
	}

	f.mu.Lock()
	if err != nil {
		f.state = StateFailed
		var verr *model.ValidationError
		var apiErr *APIError
		switch {
		case errors.As(err, &verr):
			f.fieldErrors = verr.Fields
		case errors.As(err, &apiErr):
			f.fieldErrors = apiErr.Details
			f.message = MessageOf(err, fallback)
		default:
			f.message = fallback
		}
		f.mu.Unlock()
		return model.Task{}, err
	}
	f.state = StateSucceeded
	f.mu.Unlock()

	if f.navigate != nil {
		f.navigate("/")
	}
	return task, nil
}

func toFields(v Values) model.TaskFields {
	title := v.Title
	fields := model.TaskFields{Title: &title}
	if v.Description != "" {
		d := v.Description
		fields.Description = &d
	}
	if v.DueDate != nil {
		due := v.DueDate.UTC().Format(time.RFC3339)
		fields.DueDate = &due
	}
	return fields
}
