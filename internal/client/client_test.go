package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hiroki-koketsu/taskboard/internal/auth"
	"github.com/hiroki-koketsu/taskboard/internal/handler"
	"github.com/hiroki-koketsu/taskboard/internal/model"
	"github.com/hiroki-koketsu/taskboard/internal/repository"
	"github.com/hiroki-koketsu/taskboard/internal/service"
	"github.com/hiroki-koketsu/taskboard/internal/telemetry"
	"github.com/hiroki-koketsu/taskboard/internal/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// apiServer runs the real task API and counts the requests it receives.
type apiServer struct {
	*httptest.Server
	tokens   *auth.TokenService
	requests atomic.Int64
}

func newAPIServer(t *testing.T) *apiServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := repository.NewTaskRepository(100)
	metrics, err := telemetry.NewMetrics(noop.NewMeterProvider().Meter("test"), store.Count)
	require.NoError(t, err)
	tokens, err := auth.NewTokenService(testSecret, time.Hour)
	require.NoError(t, err)

	svc := service.NewTaskService(store, validation.New(), logger)
	router := handler.NewRouter(handler.NewTaskHandler(svc, logger, metrics), tokens, logger, time.Minute)

	s := &apiServer{tokens: tokens}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		router.ServeHTTP(w, r)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *apiServer) client(t *testing.T, userID string) *Client {
	t.Helper()
	token, err := s.tokens.Issue(userID)
	require.NoError(t, err)
	return New(s.URL, WithToken(token), WithHTTPClient(s.Client()))
}

func strPtr(s string) *string { return &s }

func createRequest(title string) model.CreateTaskRequest {
	return model.CreateTaskRequest{TaskFields: model.TaskFields{Title: strPtr(title)}}
}

func TestClient_CreateAndGet(t *testing.T) {
	srv := newAPIServer(t)
	c := srv.client(t, "alice")
	ctx := context.Background()

	created, err := c.Create(ctx, createRequest("Buy milk"))
	require.NoError(t, err)
	assert.Equal(t, "alice", created.UserID)
	assert.Equal(t, model.StatusPending, created.Status)

	got, err := c.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Buy milk", got.Title)
}

func TestClient_LocalValidationSkipsServer(t *testing.T) {
	srv := newAPIServer(t)
	c := srv.client(t, "alice")

	_, err := c.Create(context.Background(), createRequest("ab"))

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Fields[0].Field)
	assert.Equal(t, int64(0), srv.requests.Load())

	status := "Archived"
	_, err = c.Update(context.Background(), uuid.NewString(), model.UpdateTaskRequest{
		TaskFields: model.TaskFields{Title: strPtr("Buy milk")},
		Status:     &status,
	})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "status", verr.Fields[0].Field)
	assert.Equal(t, int64(0), srv.requests.Load())
}

func TestClient_SanitizesMarkup(t *testing.T) {
	srv := newAPIServer(t)
	c := srv.client(t, "alice")

	req := createRequest("<b>Buy</b> milk")
	req.Description = strPtr(`<script>alert(1)</script><a href="http://x">notes</a>`)

	task, err := c.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Buy milk", task.Title)
	require.NotNil(t, task.Description)
	assert.NotContains(t, *task.Description, "<")
	assert.Contains(t, *task.Description, "notes")
}

func TestClient_EmptyDescriptionIsOmitted(t *testing.T) {
	srv := newAPIServer(t)
	c := srv.client(t, "alice")

	req := createRequest("Buy milk")
	req.Description = strPtr("")

	task, err := c.Create(context.Background(), req)
	require.NoError(t, err)
	assert.Nil(t, task.Description)
}

func TestClient_GetIsCached(t *testing.T) {
	srv := newAPIServer(t)
	c := srv.client(t, "alice")
	ctx := context.Background()

	created, err := c.Create(ctx, createRequest("Buy milk"))
	require.NoError(t, err)
	afterCreate := srv.requests.Load()

	_, err = c.Get(ctx, created.ID)
	require.NoError(t, err)
	_, err = c.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, afterCreate+1, srv.requests.Load(), "second read is served from cache")

	status := string(model.StatusCompleted)
	_, err = c.Update(ctx, created.ID, model.UpdateTaskRequest{
		TaskFields: model.TaskFields{Title: strPtr("Buy milk")},
		Status:     &status,
	})
	require.NoError(t, err)
	afterUpdate := srv.requests.Load()

	got, err := c.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, afterUpdate+1, srv.requests.Load(), "update invalidates the cached task")
}

func TestClient_ListIsInvalidatedByCreate(t *testing.T) {
	srv := newAPIServer(t)
	c := srv.client(t, "alice")
	ctx := context.Background()

	tasks, err := c.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)
	_, cached := c.Cache().Get(keyTasks)
	assert.True(t, cached)

	_, err = c.Create(ctx, createRequest("Buy milk"))
	require.NoError(t, err)
	_, cached = c.Cache().Get(keyTasks)
	assert.False(t, cached)

	tasks, err = c.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Buy milk", tasks[0].Title)
}

func TestClient_CachedValuesAreCopies(t *testing.T) {
	srv := newAPIServer(t)
	c := srv.client(t, "alice")
	ctx := context.Background()

	req := createRequest("Buy milk")
	req.Description = strPtr("2 litres")
	created, err := c.Create(ctx, req)
	require.NoError(t, err)

	first, err := c.Get(ctx, created.ID)
	require.NoError(t, err)
	*first.Description = "changed"

	second, err := c.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "2 litres", *second.Description)
}

func TestClient_APIError(t *testing.T) {
	srv := newAPIServer(t)
	alice := srv.client(t, "alice")
	bob := srv.client(t, "bob")
	ctx := context.Background()

	_, err := alice.Get(ctx, uuid.NewString())
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, string(model.KindNotFound), apiErr.Code)
	assert.Equal(t, "task not found", MessageOf(err, "fallback"))

	created, err := alice.Create(ctx, createRequest("Buy milk"))
	require.NoError(t, err)

	_, err = bob.Get(ctx, created.ID)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, string(model.KindUnauthorized), apiErr.Code)

	_, err = New(srv.URL, WithHTTPClient(srv.Client())).List(ctx)
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClient_NonJSONError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := New(srv.URL, WithHTTPClient(srv.Client())).List(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Equal(t, "fallback", MessageOf(err, "fallback"))
}

func TestMessageOf_NonAPIError(t *testing.T) {
	assert.Equal(t, "fallback", MessageOf(errors.New("connection refused"), "fallback"))
	assert.Equal(t, "fallback", MessageOf(&APIError{Status: 500}, "fallback"))
}

func TestQueryCache_Expiry(t *testing.T) {
	now := time.Date(2026, time.April, 1, 8, 0, 0, 0, time.UTC)
	q := NewQueryCache(time.Minute)
	q.now = func() time.Time { return now }

	q.Set("tasks", 1)
	v, ok := q.Get("tasks")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	now = now.Add(time.Minute + time.Second)
	_, ok = q.Get("tasks")
	assert.False(t, ok)
	assert.Equal(t, 1, q.Len())

	q.Invalidate("tasks")
	assert.Equal(t, 0, q.Len())
}

func TestClient_Options(t *testing.T) {
	pinned := time.Now().Add(24 * time.Hour)
	c := New("http://unused/",
		WithCacheTTL(time.Hour),
		WithValidator(validation.New(validation.WithClock(func() time.Time { return pinned }))),
	)

	assert.Equal(t, "http://unused", c.baseURL)
	assert.Equal(t, time.Hour, c.Cache().ttl)

	// Tomorrow minus an hour is already past for the pinned clock.
	due := pinned.Add(-time.Hour).UTC().Format(time.RFC3339)
	req := createRequest("Buy milk")
	req.DueDate = &due

	_, err := c.Create(context.Background(), req)
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "due_date", verr.Fields[0].Field)
}

func TestClient_KeepsPlainTextIntact(t *testing.T) {
	srv := newAPIServer(t)
	c := srv.client(t, "alice")
	ctx := context.Background()

	tests := []struct {
		name  string
		title string
	}{
		{name: "apostrophe", title: "Don't forget"},
		{name: "ampersand", title: "Tom & Jerry"},
		{name: "quotes", title: `Read "Dune" again`},
		{name: "max length of ampersands", title: strings.Repeat("&", 97) + "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := createRequest(tt.title)
			req.Description = strPtr("Bread & butter, don't skip")

			created, err := c.Create(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, tt.title, created.Title)
			require.NotNil(t, created.Description)
			assert.Equal(t, "Bread & butter, don't skip", *created.Description)

			got, err := srv.client(t, "alice").Get(ctx, created.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.title, got.Title)
		})
	}
}

func TestClient_ValidatesSanitizedText(t *testing.T) {
	srv := newAPIServer(t)
	c := srv.client(t, "alice")

	_, err := c.Create(context.Background(), createRequest("<b>ab</b>"))

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, model.FieldError{Field: "title", Message: "title must be at least 3 characters"}, verr.Fields[0])
	assert.Equal(t, int64(0), srv.requests.Load())
}

func TestClient_EditRoundTripKeepsTitle(t *testing.T) {
	srv := newAPIServer(t)
	c := srv.client(t, "alice")
	ctx := context.Background()

	const title = "Don't forget Tom & Jerry"
	task, err := c.Create(ctx, createRequest(title))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		form := NewEditForm(c, task, nil)
		require.Equal(t, title, form.Initial().Title)

		task, err = form.Submit(ctx, form.Initial())
		require.NoError(t, err)
		assert.Equal(t, title, task.Title)
	}
}

// gatedServer answers every task GET with a task titled by version, but only
// after release is closed. entered receives one signal per request.
type gatedServer struct {
	*httptest.Server
	entered  chan struct{}
	release  chan struct{}
	requests atomic.Int64
	version  atomic.Int64
}

func newGatedServer(t *testing.T) *gatedServer {
	t.Helper()
	g := &gatedServer{
		entered: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
	g.version.Store(1)
	g.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.requests.Add(1)
		title := fmt.Sprintf("version %d", g.version.Load())
		g.entered <- struct{}{}
		<-g.release

		id := strings.TrimPrefix(r.URL.Path, basePath+"/")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{"task_id":%q,"user_id":"alice","title":%q,"status":"Pending"}}`, id, title)
	}))
	t.Cleanup(g.Close)
	return g
}

func (g *gatedServer) waitForRequest(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the server")
	}
}

func TestClient_InvalidateDiscardsInFlightRead(t *testing.T) {
	g := newGatedServer(t)
	c := New(g.URL, WithHTTPClient(g.Client()))
	id := uuid.NewString()

	type result struct {
		task model.Task
		err  error
	}
	done := make(chan result, 1)
	go func() {
		task, err := c.Get(context.Background(), id)
		done <- result{task, err}
	}()

	g.waitForRequest(t)
	// A write lands while the read is still on the wire.
	g.version.Store(2)
	c.Cache().Invalidate(taskKey(id))
	close(g.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "version 1", res.task.Title)

	_, cached := c.Cache().Get(taskKey(id))
	assert.False(t, cached, "stale read must not repopulate the cache")

	fresh, err := c.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "version 2", fresh.Title)
	assert.Equal(t, int64(2), g.requests.Load())
}

func TestClient_CancelledCallerDoesNotFailSharedRead(t *testing.T) {
	g := newGatedServer(t)
	c := New(g.URL, WithHTTPClient(g.Client()))
	id := uuid.NewString()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, id)
		done <- err
	}()

	g.waitForRequest(t)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(g.release)
	assert.Eventually(t, func() bool {
		_, ok := c.Cache().Get(taskKey(id))
		return ok
	}, 5*time.Second, 10*time.Millisecond)

	task, err := c.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "version 1", task.Title)
	assert.Equal(t, int64(1), g.requests.Load())
}

func TestQueryCache_SetIfGeneration(t *testing.T) {
	q := NewQueryCache(time.Minute)

	gen := q.Generation("tasks/a")
	assert.True(t, q.SetIfGeneration("tasks/a", 1, gen))

	stale := q.Generation("tasks/a")
	q.Invalidate("tasks/a")
	assert.False(t, q.SetIfGeneration("tasks/a", 2, stale))
	_, ok := q.Get("tasks/a")
	assert.False(t, ok)

	assert.True(t, q.SetIfGeneration("tasks/a", 3, q.Generation("tasks/a")))
	v, ok := q.Get("tasks/a")
	require.True(t, ok)
	assert.Equal(t, 3, v)
}
