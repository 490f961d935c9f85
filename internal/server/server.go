// Package server assembles the management-API stub: a thin HTTP surface
// over domain provisioning, SMTP credential issuance, and quota readout.
// Everything else a full control plane would expose (organizations,
// projects, streams, members, invites, runtime config CRUD) is out of
// scope and lives in a separate dashboard that talks to the same tables
// directly.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/remails-com/remails/internal/handler"
	"github.com/remails-com/remails/internal/observability"
	"github.com/remails-com/remails/internal/server/middleware"
)

type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	JWTSecret    string
	CORSOrigins  []string
	RateLimitCfg middleware.RateLimitConfig
	Redis        *redis.Client
	Handlers     *handler.Handlers
	Metrics      *observability.Metrics
	Logger       *slog.Logger
}

// errAPIKeyAuthUnsupported is returned by every API-key lookup attempt.
// Issuing and verifying management-API keys is out of scope here; the
// stub only authenticates operators via JWT.
var errAPIKeyAuthUnsupported = errors.New("api key authentication is not supported by this server")

func New(cfg Config) *http.Server {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.TracingMiddleware())
	if cfg.Metrics != nil {
		r.Use(middleware.MetricsMiddleware(cfg.Metrics))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	noAPIKeys := func(ctx context.Context, keyHash string) (*middleware.AuthContext, error) {
		return nil, errAPIKeyAuthUnsupported
	}
	authMw := middleware.Auth(cfg.JWTSecret, "re_", noAPIKeys, nil)
	rateLimitMw := middleware.RateLimit(cfg.Redis, cfg.RateLimitCfg)

	h := cfg.Handlers

	r.Group(func(r chi.Router) {
		r.Use(authMw)
		r.Use(rateLimitMw)

		r.Post("/domains", h.Domain.Create)
		r.Get("/domains", h.Domain.List)
		r.Get("/domains/{domainId}", h.Domain.Get)
		r.Delete("/domains/{domainId}", h.Domain.Delete)

		r.Post("/smtp-credentials", h.Credential.Create)
		r.Get("/streams/{streamId}/smtp-credentials", h.Credential.List)
		r.Delete("/smtp-credentials/{credentialId}", h.Credential.Delete)

		r.Get("/quota", h.Quota.Get)
	})

	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
}
