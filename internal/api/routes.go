package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/relaykit/taskqueue/internal/api/handlers"
	apiMiddleware "github.com/relaykit/taskqueue/internal/api/middleware"
	"github.com/relaykit/taskqueue/internal/api/websocket"
	"github.com/relaykit/taskqueue/internal/config"
	"github.com/relaykit/taskqueue/internal/events"
)

// Engine is the subset of *engine.Engine the HTTP server depends on; it is
// the union of what the task and admin handlers each need.
type Engine interface {
	handlers.Engine
	handlers.AdminEngine
	Emitter() *events.Emitter
}

// Server is the repo's HTTP front door: the task API, the admin API, the
// websocket event feed and the metrics endpoint, all built only on the
// engine's public operations (§4 "HTTP admin + task API surface").
type Server struct {
	router       *chi.Mux
	engine       Engine
	config       *config.Config
	taskHandler  *handlers.TaskHandler
	adminHandler *handlers.AdminHandler
	wsHub        *websocket.Hub
	wsHandler    *websocket.Handler
}

// NewServer creates a new HTTP server. redisClient is optional: pass nil
// when the configured backend is not Redis, and worker liveness/pause
// endpoints degrade accordingly.
func NewServer(cfg *config.Config, eng Engine, redisClient *redis.Client) *Server {
	wsHub := websocket.NewHub(eng.Emitter())

	s := &Server{
		router:       chi.NewRouter(),
		engine:       eng,
		config:       cfg,
		taskHandler:  handlers.NewTaskHandler(eng),
		adminHandler: handlers.NewAdminHandler(eng, redisClient),
		wsHub:        wsHub,
		wsHandler:    websocket.NewHandler(wsHub),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apiMiddleware.RequestLogger())
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Heartbeat("/health"))
}

func (s *Server) setupRoutes() {
	authCfg := &apiMiddleware.AuthConfig{
		Enabled:   s.config.Auth.Enabled,
		JWTSecret: s.config.Auth.JWTSecret,
		APIKeys:   s.config.Auth.APIKeys,
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(apiMiddleware.ClientRateLimit(1000))
		r.Use(apiMiddleware.Auth(authCfg))

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.taskHandler.Create)
			r.Get("/{taskID}", s.taskHandler.Get)
			r.Delete("/{taskID}", s.taskHandler.Cancel)
			r.Get("/", s.taskHandler.List)
		})
	})

	s.router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.AllowContentType("application/json"))
		r.Use(apiMiddleware.Auth(authCfg))

		r.Get("/health", s.adminHandler.HealthCheck)

		r.Get("/workers", s.adminHandler.ListWorkers)
		r.Get("/workers/{workerID}", s.adminHandler.GetWorker)
		r.Post("/workers/{workerID}/pause", s.adminHandler.PauseWorker)
		r.Post("/workers/{workerID}/resume", s.adminHandler.ResumeWorker)

		r.Get("/queues", s.adminHandler.GetQueues)

		r.Get("/failed", s.adminHandler.ListFailed)
		r.Post("/failed/retry", s.adminHandler.RetryFailedTask)
	})

	s.router.Get("/ws", s.wsHandler.ServeWS)

	if s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, promhttp.Handler())
	}
}

// Start starts the WebSocket hub.
func (s *Server) Start(ctx context.Context) {
	go s.wsHub.Run(ctx)
}

// BridgeRedisEvents forwards events published by other processes (typically
// worker processes sharing this server's Redis backend) into the websocket
// hub, via events.RedisBridge. Call this only when the configured backend is
// Redis; redisClient must be the same connection the backend uses.
func (s *Server) BridgeRedisEvents(ctx context.Context, redisClient *redis.Client) error {
	bridge := events.NewRedisBridge(redisClient)
	ch, err := bridge.Subscribe(ctx,
		events.TaskAdded, events.TaskStarted, events.TaskCompleted,
		events.TaskFailed, events.TaskRetried, events.TaskStuck, events.TaskRemoved,
	)
	if err != nil {
		return err
	}

	go func() {
		for ev := range ch {
			s.wsHub.Ingest(ev)
		}
	}()

	return nil
}

// Stop stops the WebSocket hub.
func (s *Server) Stop() {
	s.wsHub.Stop()
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
