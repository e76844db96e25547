package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hiroki-koketsu/taskboard/internal/auth"
	"github.com/hiroki-koketsu/taskboard/internal/model"
)

// NewRouter builds the HTTP routing tree: /health is public, task routes
// under /api/v1/task require a bearer token.
func NewRouter(tasks *TaskHandler, verifier auth.Verifier, logger *slog.Logger, timeout time.Duration) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CleanPath)
	r.Use(middleware.Timeout(timeout))

	r.Get("/health", tasks.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(verifier, logger))
		r.Mount("/task", tasks.Routes())
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, model.KindNotFound, "route not found")
	})

	return r
}
