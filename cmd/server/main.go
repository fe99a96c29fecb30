// Package main is the entry point for the PointID mission gateway.
// It serves the mission-tracking front end and a JSON API backed by
// per-session stores that talk to the upstream GraphQL server.
//
// Architecture:
//   - Sessions are opaque cookies; tokens live in Redis (or memory)
//   - Each session gets its own GraphQL HTTP client and WebSocket client
//   - Mission and chat state is cached per session and patched on mutation
//   - Ratings and mission actions are recorded in a Postgres ledger
//   - Chat events are relayed to the browser over a WebSocket
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/pointid/mission-gateway/internal/config"
	"github.com/pointid/mission-gateway/internal/database"
	"github.com/pointid/mission-gateway/internal/handlers"
	"github.com/pointid/mission-gateway/internal/middleware"
	"github.com/pointid/mission-gateway/internal/models"
	"github.com/pointid/mission-gateway/internal/services"
	"github.com/pointid/mission-gateway/internal/session"
	"go.uber.org/zap"
)

func main() {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	var logger *zap.Logger
	if cfg.Environment == "development" {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	sugar.Infow("Starting PointID mission gateway",
		"port", cfg.Port,
		"env", cfg.Environment,
		"graphql_url", cfg.GraphQLURL,
		"graphql_ws_url", cfg.GraphQLWSURL,
	)

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	// Ledger: Postgres when configured, memory otherwise
	var ledger services.Ledger
	var dbPinger handlers.Pinger
	if cfg.DatabaseURL != "" {
		db, err := database.NewPool(rootCtx, cfg.DatabaseURL, database.PoolConfig{
			MaxConns: int32(cfg.DBMaxConns),
			MinConns: int32(cfg.DBMinConns),
		})
		if err != nil {
			sugar.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		ledger = services.NewPgLedger(db, sugar)
		dbPinger = db
	} else {
		sugar.Warn("DATABASE_URL not set, ledger kept in memory")
		ledger = services.NewMemoryLedger()
	}

	// Session store: Redis when configured, memory otherwise
	var store session.Store
	if cfg.RedisURL != "" {
		rs, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			sugar.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rs.Close()
		store = rs
	} else {
		sugar.Warn("REDIS_URL not set, sessions kept in memory")
		store = session.NewMemoryStore()
	}

	manager := session.NewManager(store, session.NewTokenParser(cfg.JWTSecret), cfg.SessionTTL, sugar)
	registry := services.NewRegistry(services.RegistryConfig{
		GraphQLURL:   cfg.GraphQLURL,
		GraphQLWSURL: cfg.GraphQLWSURL,
		KeepAlive:    cfg.WSKeepAlive,
		IdleTTL:      cfg.StoreIdleTTL,
	}, manager, ledger, sugar)
	defer registry.Close()
	go registry.Run(rootCtx, time.Minute)

	// Initialize handlers
	sessionHandler := handlers.NewSessionHandler(manager, registry, handlers.CookieConfig{
		Name:   cfg.CookieName,
		Secure: cfg.SecureCookies(),
		TTL:    cfg.SessionTTL,
	}, sugar)
	missionHandler := handlers.NewMissionHandler(registry, sugar)
	subMissionHandler := handlers.NewSubMissionHandler(registry, sugar)
	documentHandler := handlers.NewDocumentHandler(registry, sugar)
	chatHandler := handlers.NewChatHandler(registry, allowOrigin(cfg.AllowedOrigins), sugar)
	activityHandler := handlers.NewActivityHandler(ledger, sugar)
	healthHandler := handlers.NewHealthHandler(dbPinger, manager, registry.Len, sugar)

	// Build router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(logger))
	r.Use(chimw.Recoverer)
	r.Use(middleware.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.LoadSession(manager, cfg.CookieName, sugar))
	r.Use(middleware.RateLimit(rootCtx, cfg.RateLimitRPM))

	// API Routes
	r.Route("/api", func(r chi.Router) {
		// Health check
		r.Get("/health", healthHandler.Check)
		r.Get("/health/ready", healthHandler.Ready)

		// Session endpoints (public)
		r.Route("/session", func(r chi.Router) {
			r.Post("/", sessionHandler.Login)
			r.Get("/", sessionHandler.Me)
			r.Delete("/", sessionHandler.Logout)
		})

		// Everything else needs a signed-in user
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession())

			// Long-lived chat relay, outside the request timeout
			r.Get("/chat/ws", chatHandler.Relay)

			r.Group(func(r chi.Router) {
				r.Use(chimw.Timeout(60 * time.Second))

				r.Get("/toasts", missionHandler.Toasts)
				r.Get("/requests", missionHandler.Requests)
				r.Get("/activity/recent", activityHandler.Recent)

				r.Route("/missions", func(r chi.Router) {
					r.Get("/", missionHandler.List)
					r.With(middleware.RequireRole(models.RoleAssureur)).Post("/", missionHandler.Create)

					r.Route("/{id}", func(r chi.Router) {
						r.Get("/", missionHandler.Get)
						r.Get("/actions", missionHandler.Actions)
						r.Get("/log", missionHandler.Log)
						r.Post("/comments", missionHandler.Comment)
						r.Post("/documents", documentHandler.Upload)
						r.Get("/sub-missions", subMissionHandler.List)
						r.Post("/sub-missions", subMissionHandler.Create)
						r.With(middleware.RequireRole(models.RoleAssureur)).Post("/rating", missionHandler.Rate)
						r.Post("/{action}", missionHandler.Transition)
					})
				})

				r.Patch("/sub-missions/{id}", subMissionHandler.UpdateStatus)

				r.Route("/chat/rooms", func(r chi.Router) {
					r.Get("/", chatHandler.Rooms)
					r.Post("/", chatHandler.CreateRoom)
					r.Get("/{id}/messages", chatHandler.Messages)
					r.Post("/{id}/messages", chatHandler.Send)
					r.Post("/{id}/read", chatHandler.MarkRead)
					r.Post("/{id}/typing", chatHandler.Typing)
				})

				r.Route("/exports", func(r chi.Router) {
					r.Group(func(r chi.Router) {
						r.Use(middleware.RequireRole(models.RoleAssureur))
						r.Get("/missions", documentHandler.ExportMissions)
						r.Get("/missions/{id}", documentHandler.ExportMissionDetails)
					})
					r.Group(func(r chi.Router) {
						r.Use(middleware.RequireRole(models.RolePrestataire))
						r.Get("/prestataire/missions", documentHandler.ExportPrestataireMissions)
						r.Get("/prestataire/report", documentHandler.ExportPrestataireReport)
					})
				})
			})
		})
	})

	// Front-end routes
	index := spaIndex(cfg.StaticDir)
	for _, p := range []string{"/", "/pro-registration", "/login-selection", "/login/{type}"} {
		r.Get(p, index)
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession())
		r.Get("/societaire-dashboard", index)
		r.Get("/assureur-dashboard", index)
		r.Get("/prestataire-dashboard", index)
		r.Get("/mission-creation", index)
		r.Get("/mission/{id}", index)
		r.Get("/chat", index)
	})

	// Built assets
	r.Handle("/*", http.FileServer(http.Dir(cfg.StaticDir)))

	// Create HTTP server. No write timeout: exports and the chat relay
	// stream for longer than a request.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sugar.Infof("Server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	sugar.Info("Shutting down gracefully...")
	stop()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		sugar.Errorf("Forced shutdown: %v", err)
	}

	sugar.Info("Server stopped")
}

// spaIndex serves the front end's index.html for client-side routes
func spaIndex(dir string) http.HandlerFunc {
	path := filepath.Join(dir, "index.html")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, path)
	}
}

// allowOrigin checks the chat relay's Origin header against the CORS list
func allowOrigin(origins []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range origins {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return strings.EqualFold(origin, "http://"+r.Host) || strings.EqualFold(origin, "https://"+r.Host)
	}
}
