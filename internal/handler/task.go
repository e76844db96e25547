package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hiroki-koketsu/taskboard/internal/auth"
	"github.com/hiroki-koketsu/taskboard/internal/model"
	"github.com/hiroki-koketsu/taskboard/internal/service"
	"github.com/hiroki-koketsu/taskboard/internal/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/hiroki-koketsu/taskboard/internal/handler")

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

const (
	routeCollection = "/api/v1/task"
	routeItem       = "/api/v1/task/{id}"
)

// TaskHandler handles HTTP requests for tasks.
type TaskHandler struct {
	svc     *service.TaskService
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(svc *service.TaskService, logger *slog.Logger, metrics *telemetry.Metrics) *TaskHandler {
	return &TaskHandler{
		svc:     svc,
		logger:  logger,
		metrics: metrics,
	}
}

// Routes returns the chi router with task routes. Callers must mount it
// behind Authenticate.
func (h *TaskHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)

	return r
}

// List returns the caller's tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracer.Start(r.Context(), "TaskHandler.List")
	defer span.End()
	r = r.WithContext(ctx)

	userID, _ := auth.UserIDFromContext(ctx)

	tasks, err := h.svc.List(ctx, userID)
	if err != nil {
		h.fail(w, r, "list", routeCollection, err, start)
		return
	}

	span.SetAttributes(attribute.Int("task.count", len(tasks)))
	h.succeed(w, r, "list", routeCollection, http.StatusOK, tasks, start)
}

// Create adds a new task owned by the caller.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx, span := tracer.Start(r.Context(), "TaskHandler.Create")
	defer span.End()
	r = r.WithContext(ctx)

	userID, _ := auth.UserIDFromContext(ctx)

	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, "create", routeCollection, err, start)
		return
	}

	task, err := h.svc.Create(ctx, userID, body)
	if err != nil {
		h.fail(w, r, "create", routeCollection, err, start)
		return
	}

	span.SetAttributes(attribute.String("task.id", task.ID))
	h.succeed(w, r, "create", routeCollection, http.StatusCreated, task, start)
}

// Get returns a task by ID.
func (h *TaskHandler) Get(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(r.Context(), "TaskHandler.Get",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()
	r = r.WithContext(ctx)

	userID, _ := auth.UserIDFromContext(ctx)

	task, err := h.svc.Get(ctx, userID, id)
	if err != nil {
		h.fail(w, r, "get", routeItem, err, start)
		return
	}

	h.succeed(w, r, "get", routeItem, http.StatusOK, task, start)
}

// Update replaces an existing task's editable fields.
func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := chi.URLParam(r, "id")

	ctx, span := tracer.Start(r.Context(), "TaskHandler.Update",
		trace.WithAttributes(attribute.String("task.id", id)),
	)
	defer span.End()
	r = r.WithContext(ctx)

	userID, _ := auth.UserIDFromContext(ctx)

	body, err := readBody(w, r)
	if err != nil {
		h.fail(w, r, "update", routeItem, err, start)
		return
	}

	task, err := h.svc.Update(ctx, userID, id, body)
	if err != nil {
		h.fail(w, r, "update", routeItem, err, start)
		return
	}

	h.succeed(w, r, "update", routeItem, http.StatusOK, task, start)
}

// Health returns a health check response.
func (h *TaskHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *TaskHandler) succeed(w http.ResponseWriter, r *http.Request, op, route string, status int, data any, start time.Time) {
	respondJSON(w, status, dataEnvelope{Data: data})
	h.metrics.RecordOperation(r.Context(), op, "ok")
	h.metrics.RecordRequest(r.Context(), r.Method, route, status, start)
}

func (h *TaskHandler) fail(w http.ResponseWriter, r *http.Request, op, route string, err error, start time.Time) {
	resp := errorFromDomain(err)
	if resp.Status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("operation", op),
			slog.Any("error", err),
		)
	}
	respondJSON(w, resp.Status, resp)
	h.metrics.RecordOperation(r.Context(), op, resp.Code)
	h.metrics.RecordRequest(r.Context(), r.Method, route, resp.Status, start)
}

// readBody reads at most maxBodyBytes of the request body.
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, model.NewValidationError("request body too large", []model.FieldError{
				{Field: "body", Message: "request body must not exceed 1 MiB"},
			})
		}
		return nil, model.NewValidationError("unreadable request body", []model.FieldError{
			{Field: "body", Message: "request body could not be read"},
		})
	}
	return body, nil
}
