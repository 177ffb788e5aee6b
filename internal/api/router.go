package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/jmalmrose/promptlab/internal/api/handlers"
	"github.com/jmalmrose/promptlab/internal/api/middleware"
	"github.com/jmalmrose/promptlab/internal/auth"
	"github.com/jmalmrose/promptlab/internal/cache"
	"github.com/jmalmrose/promptlab/internal/config"
	"github.com/jmalmrose/promptlab/internal/prompt"
	"github.com/jmalmrose/promptlab/internal/provider"
	"github.com/jmalmrose/promptlab/internal/queue"
	"github.com/jmalmrose/promptlab/internal/registry"
	"github.com/jmalmrose/promptlab/internal/testrun"
)

type Router struct {
	mux   *chi.Mux
	db    *pgxpool.Pool
	redis *redis.Client
	cfg   *config.Config
	jwt   *auth.JWTMiddleware
}

func NewRouter(db *pgxpool.Pool, rdb *redis.Client, cfg *config.Config) *Router {
	users := auth.NewService(db)
	return &Router{
		mux:   chi.NewRouter(),
		db:    db,
		redis: rdb,
		cfg:   cfg,
		jwt:   auth.NewJWTMiddleware(cfg.Auth.JWTSecret, users),
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	rl := middleware.NewRateLimiter(100, 200)
	r.Use(rl.Limit)

	// Health endpoints (no auth)
	health := handlers.NewHealthHandler(rt.db, rt.redis)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)

	// Services
	registrySvc := registry.NewService(rt.db, cache.New(rt.redis))
	promptSvc := prompt.NewService(rt.db)
	runStore := testrun.NewPGStore(rt.db)
	notifier := testrun.NewRunNotifier(rt.redis)
	queueClient := queue.NewClient(rt.cfg.Redis)

	// The API side of the orchestrator only validates and enqueues; the
	// invoker and credentials live in the worker process.
	runSvc := testrun.NewService(runStore, registrySvc, queueClient, provider.NewRegistry(), nil, testrun.Options{})
	streamer := testrun.NewStreamer(runStore, notifier, 0)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(rt.jwt.Authenticate)

		promptH := handlers.NewPromptHandler(promptSvc, runSvc)
		r.Route("/prompts", func(r chi.Router) {
			r.Post("/", promptH.Create)
			r.Get("/", promptH.List)
			r.Get("/{id}", promptH.Get)
			r.Delete("/{id}", promptH.Delete)
			r.Post("/{id}/versions", promptH.CreateVersion)
			r.Get("/{id}/versions", promptH.ListVersions)
			r.Post("/{id}/test", promptH.Test)
		})

		runH := handlers.NewTestRunHandler(runStore, streamer)
		r.Route("/test-runs", func(r chi.Router) {
			r.Get("/{id}", runH.Get)
			r.Get("/{id}/stream", runH.Stream)
			r.Put("/{id}/results", runH.Judge)
		})

		modelsH := handlers.NewModelsHandler(registrySvc)
		r.Get("/models", modelsH.List)

		adminH := handlers.NewAdminHandler(registrySvc)
		r.Route("/admin", func(r chi.Router) {
			r.Use(auth.RequireAdmin)
			r.Get("/providers", adminH.ListProviders)
			r.Post("/providers", adminH.CreateProvider)
			r.Put("/providers/{id}", adminH.UpdateProvider)
			r.Delete("/providers/{id}", adminH.DeleteProvider)
			r.Get("/presets", adminH.ListPresets)
			r.Post("/presets", adminH.CreatePreset)
			r.Delete("/presets/{id}", adminH.DeletePreset)
		})
	})

	return r
}
