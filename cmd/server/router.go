package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/eyesee/license-server-go/internal/config"
	"github.com/eyesee/license-server-go/internal/handler"
	"github.com/eyesee/license-server-go/internal/httputil"
	"github.com/eyesee/license-server-go/internal/middleware"
	"github.com/eyesee/license-server-go/internal/repository"
	"github.com/eyesee/license-server-go/internal/service"
)

const serviceName = "license-server"

type routerDeps struct {
	cfg            *config.Config
	store          repository.Store
	licenseService *service.LicenseService
	adminService   *service.AdminService
	limiter        middleware.Limiter
}

func newRouter(d routerDeps) http.Handler {
	isProduction := d.cfg.IsProduction()

	bodyLimitMiddleware := middleware.NewBodyLimitMiddleware(0)
	securityHeadersMiddleware := middleware.NewSecurityHeadersMiddleware(isProduction)
	publicRateLimit := middleware.NewRateLimitMiddleware(d.limiter, d.cfg.PublicRateLimitPerMin, "public")
	adminAuth := middleware.NewAdminAuthMiddleware(d.cfg.AdminPassword, d.cfg.AdminPasswordHash, middleware.NewAuthFailureLimiter())

	licenseHandler := handler.NewLicenseHandler(d.licenseService, d.adminService, d.cfg.EnableTestEndpoints)
	adminHandler := handler.NewAdminHandler(d.adminService)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	if d.cfg.TrustProxyHeaders {
		// Only safe behind a proxy that overwrites these headers.
		r.Use(chimiddleware.RealIP)
	}
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	if d.cfg.MetricsEnabled {
		r.Use(middleware.Metrics)
	}
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
	r.Use(bodyLimitMiddleware.Handler)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()

		status, code := "ok", http.StatusOK
		if err := d.store.Ping(ctx); err != nil {
			log.Error().Err(err).Msg("health check: store unreachable")
			status, code = "degraded", http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, map[string]any{
			"status":    status,
			"backend":   d.cfg.StoreBackend,
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"service": serviceName,
			"status":  "online",
			"endpoints": map[string]string{
				"license": "/api/license",
				"admin":   "/api/admin",
				"health":  "/health",
			},
		})
	})

	if d.cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/license", func(r chi.Router) {
		r.Use(publicRateLimit.Handler)
		r.Mount("/", licenseHandler.Routes())
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(adminAuth.Handler)
		r.Mount("/", adminHandler.Routes())
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(securityHeadersMiddleware.Handler)
		static := handler.StaticFileServer(d.cfg.StaticDir, "/admin")
		r.Handle("/", static)
		r.Handle("/*", static)
	})

	return r
}
