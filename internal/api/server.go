package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soundtrace/backend/internal/api/handlers"
	"github.com/soundtrace/backend/internal/api/middleware"
	"github.com/soundtrace/backend/internal/api/websocket"
	"github.com/soundtrace/backend/internal/modules/fingerprint"
	"github.com/soundtrace/backend/internal/modules/library"
	"github.com/soundtrace/backend/internal/modules/pipeline"
	"github.com/soundtrace/backend/internal/modules/projects"
	"github.com/soundtrace/backend/internal/shared/config"
	"github.com/soundtrace/backend/internal/shared/database"
	"github.com/soundtrace/backend/internal/shared/metrics"
	"github.com/soundtrace/backend/internal/shared/storage"
	"go.uber.org/zap"
)

// ServerConfig holds dependencies for the API server
type ServerConfig struct {
	Config    *config.Config
	Logger    *zap.Logger
	DB        *database.Postgres
	Redis     *database.Redis
	Storage   *storage.Service
	WSHub     *websocket.Hub
	Projects  *projects.Store
	Library   *library.Store
	Pipeline  *pipeline.Module
	Extractor *fingerprint.Extractor
	Metrics   *metrics.Metrics
}

// Server represents the API server
type Server struct {
	config    *config.Config
	logger    *zap.Logger
	db        *database.Postgres
	redis     *database.Redis
	storage   *storage.Service
	wsHub     *websocket.Hub
	projects  *projects.Store
	library   *library.Store
	pipeline  *pipeline.Module
	extractor *fingerprint.Extractor
	metrics   *metrics.Metrics
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		config:    cfg.Config,
		logger:    cfg.Logger,
		db:        cfg.DB,
		redis:     cfg.Redis,
		storage:   cfg.Storage,
		wsHub:     cfg.WSHub,
		projects:  cfg.Projects,
		library:   cfg.Library,
		pipeline:  cfg.Pipeline,
		extractor: cfg.Extractor,
		metrics:   cfg.Metrics,
	}
}

// Router returns the configured HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Compress(5))
	r.Use(middleware.SecurityHeaders)
	if s.metrics != nil {
		r.Use(middleware.MetricsMiddleware(s.metrics))
	}

	// CORS: reflect the request's Origin for allowed origins so
	// browsers accept credentialed requests.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "Range"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "Content-Length", "Content-Range", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Rate limiting (100 req/min per IP globally)
	rateLimiter := middleware.NewRateLimiter(s.redis.Client, s.logger)
	r.Use(rateLimiter.Limit(middleware.GlobalRateLimit))

	// Create handlers
	healthHandler := handlers.NewHealthHandler(s.db, s.redis)
	projectHandler := handlers.NewProjectHandler(s.projects, s.pipeline, s.storage, s.config.MaxUploadSize, s.logger)
	libraryHandler := handlers.NewLibraryHandler(s.library, s.extractor, s.storage, s.logger)
	jobHandler := handlers.NewJobHandler(s.pipeline, s.logger)
	wsHandler := handlers.NewWebSocketHandler(s.wsHub, s.logger)

	// Prometheus scrape endpoint
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)
		r.Get("/ready", healthHandler.Ready)

		// Projects and their pipeline actions
		r.Route("/projects", func(r chi.Router) {
			r.With(rateLimiter.Limit(middleware.UploadRateLimit)).
				Post("/", projectHandler.Create)
			r.Get("/", projectHandler.List)
			r.Get("/{id}", projectHandler.Get)
			r.Delete("/{id}", projectHandler.Delete)

			r.Get("/{id}/segments", projectHandler.ListSegments)
			r.Patch("/{id}/segments/{segmentId}", projectHandler.UpdateSegmentStatus)

			r.Group(func(r chi.Router) {
				r.Use(rateLimiter.Limit(middleware.TaskCreationRateLimit))
				r.Post("/{id}/match", projectHandler.Scan)
				r.Post("/{id}/separate", projectHandler.Separate)
				r.Post("/{id}/detect", projectHandler.Detect)
				r.Post("/{id}/preview", projectHandler.Preview)
				r.Post("/{id}/export", projectHandler.Export)
			})
		})

		// Reference track library
		r.Route("/library/tracks", func(r chi.Router) {
			r.With(rateLimiter.Limit(middleware.UploadRateLimit)).
				Post("/", libraryHandler.AddTrack)
			r.Get("/", libraryHandler.ListTracks)
			r.Get("/{id}", libraryHandler.GetTrack)
			r.Delete("/{id}", libraryHandler.DeleteTrack)
		})

		// Job records
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobHandler.ListJobs)
			r.Get("/{id}", jobHandler.GetJob)
			r.Delete("/{id}", jobHandler.DeleteJob)
		})

		// Cancellation by task id
		r.Post("/tasks/{taskId}/cancel", jobHandler.CancelTask)

		// WebSocket
		r.Get("/ws", wsHandler.HandleConnection)
	})

	return r
}
