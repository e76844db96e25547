// Package validation turns untyped task input into typed values or an
// ordered list of field errors. The same rules run on the server and in
// the client package.
package validation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hiroki-koketsu/taskboard/internal/model"
)

const (
	TitleMinLength       = 3
	TitleMaxLength       = 100
	DescriptionMaxLength = 500
)

// fieldOrder is the declaration order of request fields; errors are reported in it.
var fieldOrder = map[string]int{
	"body":        0,
	"id":          1,
	"title":       2,
	"description": 3,
	"due_date":    4,
	"status":      5,
}

var messages = map[string]string{
	"title.required":     "title is required",
	"title.min":          fmt.Sprintf("title must be at least %d characters", TitleMinLength),
	"title.max":          fmt.Sprintf("title must not exceed %d characters", TitleMaxLength),
	"description.max":    fmt.Sprintf("description must not exceed %d characters", DescriptionMaxLength),
	"due_date.iso8601":   "due_date must be a valid ISO 8601 date-time",
	"due_date.future":    "due_date must be in the future",
	"status.required":    "status is required",
	"status.task_status": "status must be one of: Pending, Completed",
	"id.required":        "task id is required",
	"id.uuid":            "task id must be a valid UUID",
}

type idParams struct {
	ID string `json:"id" validate:"required,uuid"`
}

// Validator holds the compiled task rule set.
type Validator struct {
	validate *validator.Validate
	now      func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock sets the time source used by the due date rule.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

// New builds a Validator with the task rules registered.
func New(opts ...Option) *Validator {
	v := &Validator{now: time.Now}
	for _, opt := range opts {
		opt(v)
	}

	vd := validator.New(validator.WithRequiredStructEnabled())
	vd.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Registration only fails for empty tags or nil funcs.
	_ = vd.RegisterValidation("iso8601", isISO8601)
	_ = vd.RegisterValidation("future", v.isFuture)
	_ = vd.RegisterValidation("task_status", isTaskStatus)

	v.validate = vd
	return v
}

// DecodeCreate parses a raw create body and validates it.
func (v *Validator) DecodeCreate(body []byte) (model.TaskInput, error) {
	var req model.CreateTaskRequest
	pre, err := decode(body, &req)
	if err != nil {
		return model.TaskInput{}, err
	}
	return v.create(req, pre)
}

// DecodeUpdate parses a raw update body and validates it.
func (v *Validator) DecodeUpdate(body []byte) (model.TaskInput, error) {
	var req model.UpdateTaskRequest
	pre, err := decode(body, &req)
	if err != nil {
		return model.TaskInput{}, err
	}
	return v.update(req, pre)
}

// ValidateCreate validates an already decoded create request.
// The returned input has Status set to Pending.
func (v *Validator) ValidateCreate(req model.CreateTaskRequest) (model.TaskInput, error) {
	return v.create(req, nil)
}

// ValidateUpdate validates an already decoded update request.
func (v *Validator) ValidateUpdate(req model.UpdateTaskRequest) (model.TaskInput, error) {
	return v.update(req, nil)
}

// ValidateID checks that raw is a task identifier. It never touches storage.
func (v *Validator) ValidateID(raw string) (string, error) {
	p := idParams{ID: raw}
	if fields := v.collect(&p, nil); len(fields) > 0 {
		return "", &model.ValidationError{Fields: fields}
	}
	return p.ID, nil
}

func (v *Validator) create(req model.CreateTaskRequest, pre []model.FieldError) (model.TaskInput, error) {
	req.TaskFields = normalize(req.TaskFields)
	if fields := v.collect(&req, pre); len(fields) > 0 {
		return model.TaskInput{}, &model.ValidationError{Fields: fields}
	}
	in := toInput(req.TaskFields)
	in.Status = model.StatusPending
	return in, nil
}

func (v *Validator) update(req model.UpdateTaskRequest, pre []model.FieldError) (model.TaskInput, error) {
	req.TaskFields = normalize(req.TaskFields)
	if fields := v.collect(&req, pre); len(fields) > 0 {
		return model.TaskInput{}, &model.ValidationError{Fields: fields}
	}
	in := toInput(req.TaskFields)
	in.Status, _ = model.ParseStatus(*req.Status)
	return in, nil
}

// collect runs the struct rules and merges them with decode-time errors.
// A field that already failed decoding is not reported twice.
func (v *Validator) collect(s any, pre []model.FieldError) []model.FieldError {
	fields := append([]model.FieldError(nil), pre...)
	seen := make(map[string]bool, len(pre))
	for _, f := range pre {
		seen[f.Field] = true
	}

	err := v.validate.Struct(s)
	var verrs validator.ValidationErrors
	switch {
	case err == nil:
	case errors.As(err, &verrs):
		for _, fe := range verrs {
			name := fe.Field()
			if seen[name] {
				continue
			}
			seen[name] = true
			fields = append(fields, model.FieldError{Field: name, Message: message(name, fe.Tag())})
		}
	default:
		fields = append(fields, model.FieldError{Field: "body", Message: err.Error()})
	}

	sort.SliceStable(fields, func(i, j int) bool {
		return fieldOrder[fields[i].Field] < fieldOrder[fields[j].Field]
	})
	return fields
}

func message(field, tag string) string {
	if m, ok := messages[field+"."+tag]; ok {
		return m
	}
	return fmt.Sprintf("%s is invalid", field)
}

// decode unmarshals body into dst. Type mismatches on individual fields are
// returned as field errors so the remaining rules still run; a body that is
// not a JSON object fails outright.
func decode(body []byte, dst any) ([]model.FieldError, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil
	}

	err := json.Unmarshal(body, dst)
	if err == nil {
		return nil, nil
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return []model.FieldError{{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("%s must be a %s", typeErr.Field, jsonTypeName(typeErr.Type)),
		}}, nil
	}
	if typeErr != nil {
		return nil, &model.ValidationError{Fields: []model.FieldError{
			{Field: "body", Message: "request body must be a JSON object"},
		}}
	}
	return nil, &model.ValidationError{Fields: []model.FieldError{
		{Field: "body", Message: "request body must be valid JSON"},
	}}
}

func jsonTypeName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Struct, reflect.Map:
		return "object"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return "number"
	}
}

func normalize(f model.TaskFields) model.TaskFields {
	if f.Title != nil {
		t := strings.TrimSpace(*f.Title)
		f.Title = &t
	}
	return f
}

func toInput(f model.TaskFields) model.TaskInput {
	in := model.TaskInput{Title: *f.Title}
	if f.Description != nil {
		d := *f.Description
		in.Description = &d
	}
	if f.DueDate != nil {
		if t, err := parseDateTime(*f.DueDate); err == nil {
			t = t.UTC()
			in.DueDate = &t
		}
	}
	return in
}

func parseDateTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

func isISO8601(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	_, err := parseDateTime(fl.Field().String())
	return err == nil
}

// isFuture requires the date to be strictly later than validation time.
func (v *Validator) isFuture(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	t, err := parseDateTime(fl.Field().String())
	if err != nil {
		return false
	}
	return t.After(v.now())
}

func isTaskStatus(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	_, ok := model.ParseStatus(fl.Field().String())
	return ok
}
