package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fieldsoftheworld/ftw-inference-api/internal/api/middleware"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/domain"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/service"
	"github.com/fieldsoftheworld/ftw-inference-api/internal/service/auth"
)

// RouterConfig carries everything the router needs to serve the API.
type RouterConfig struct {
	Info      APIInfo
	Registry  *domain.ModelRegistry
	Projects  service.ProjectService
	Inference service.InferenceService

	// JWTService may be nil when AuthDisabled is set.
	JWTService   auth.JWTService
	AuthDisabled bool

	CORSOrigins []string
	Logger      *slog.Logger
}

// NewRouter assembles the routing tree: standard middleware, the public
// discovery endpoints and the authenticated v1 API. Root, health and
// metrics stay reachable at the top level for load balancers and
// scrapers that do not know the version prefix.
func NewRouter(cfg RouterConfig) (http.Handler, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("model registry is required")
	}
	if cfg.Projects == nil {
		return nil, fmt.Errorf("project service is required")
	}
	if cfg.Inference == nil {
		return nil, fmt.Errorf("inference service is required")
	}
	if !cfg.AuthDisabled && cfg.JWTService == nil {
		return nil, fmt.Errorf("jwt service is required when authentication is enabled")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	rootHandler := NewRootHandler(cfg.Info, cfg.Registry)
	projectHandler := NewProjectHandler(cfg.Projects, cfg.Logger)
	inferenceHandler := NewInferenceHandler(cfg.Inference, cfg.Logger)
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTService, cfg.AuthDisabled)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.NewTraceMiddleware(cfg.Logger))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Metrics)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", rootHandler.GetRoot)
	r.Get("/health", rootHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/", rootHandler.GetRoot)
		r.Get("/health", rootHandler.Health)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Put("/example", inferenceHandler.RunExample)

			r.Route("/projects", func(r chi.Router) {
				r.Post("/", projectHandler.CreateProject)
				r.Get("/", projectHandler.ListProjects)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", projectHandler.GetProject)
					r.Delete("/", projectHandler.DeleteProject)
					r.Put("/images/{window}", projectHandler.UploadImage)
					r.Put("/inference", inferenceHandler.SubmitInference)
					r.Get("/inference", projectHandler.InferenceResults)
					r.Put("/polygons", inferenceHandler.SubmitPolygonize)
					r.Get("/status", projectHandler.Status)
					r.Get("/tasks/{task_id}", projectHandler.TaskDetails)
				})
			})
		})
	})

	return r, nil
}
