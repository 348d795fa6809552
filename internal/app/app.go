package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"isxlicense/internal/config"
	apierrors "isxlicense/internal/errors"
	"isxlicense/internal/infrastructure"
	"isxlicense/internal/license"
	customMiddleware "isxlicense/internal/middleware"
	"isxlicense/internal/services"
	handlers "isxlicense/internal/transport/http"
	ws "isxlicense/internal/websocket"
	"isxlicense/pkg/contracts"
)

// Application represents the license server
type Application struct {
	Config        *config.Config
	Router        *chi.Mux
	Server        *http.Server
	Core          *Core
	WebSocketHub  *ws.Hub
	Services      *ServiceContainer
	OTelProviders *infrastructure.OTelProviders
	Logger        *slog.Logger
	ErrorHandler  *apierrors.ErrorHandler
}

// ServiceContainer holds all application services
type ServiceContainer struct {
	License        *license.Manager
	LicenseService services.LicenseService
	Health         *services.HealthService
	WebSocket      *ws.Hub
}

// Option adjusts NewApplication
type Option func(*appOptions)

type appOptions struct {
	logger *slog.Logger
	core   []CoreOption
}

// WithLogger uses logger instead of initializing one from cfg.Logging
func WithLogger(logger *slog.Logger) Option {
	return func(o *appOptions) { o.logger = logger }
}

// WithCoreOptions passes options through to OpenCore
func WithCoreOptions(opts ...CoreOption) Option {
	return func(o *appOptions) { o.core = append(o.core, opts...) }
}

// NewApplication creates a new application instance with dependency injection
func NewApplication(ctx context.Context, cfg *config.Config, opts ...Option) (*Application, error) {
	o := &appOptions{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = infrastructure.InitializeLogger(cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}

	logger.InfoContext(ctx, "Application starting",
		slog.String("name", config.AppName),
		slog.String("version", contracts.Version))

	cfg.ResolvedPaths().LogPathResolution(logger)

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.OTelConfigFrom(cfg.Telemetry), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
		ErrorHandler:  apierrors.NewErrorHandler(logger, false),
	}

	if err := app.initializeServices(ctx, o.core); err != nil {
		_ = otelProviders.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices opens the license engine and builds the services on it
func (a *Application) initializeServices(ctx context.Context, coreOpts []CoreOption) error {
	hub := ws.NewHub(a.Logger)
	hub.Start()
	a.WebSocketHub = hub

	opts := append([]CoreOption{
		WithPublisher(hub),
		WithTelemetry(a.OTelProviders),
	}, coreOpts...)

	core, err := OpenCore(ctx, a.Config, a.Logger, opts...)
	if err != nil {
		hub.Stop()
		return err
	}
	a.Core = core

	a.Services = &ServiceContainer{
		License:        core.Manager,
		LicenseService: services.NewLicenseService(core.Manager, a.Logger),
		Health:         services.NewHealthService(core.Manager, hub, a.Logger),
		WebSocket:      hub,
	}
	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	// Only middleware that leaves the ResponseWriter alone runs ahead of
	// the websocket upgrade.
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	r.HandleFunc("/ws", ws.NewHandler(a.WebSocketHub, a.Config.Server.AllowedOrigins, a.Logger))

	r.Group(func(r chi.Router) {
		otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
		if err != nil {
			a.Logger.Error("Failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
		} else {
			r.Use(otelMiddleware.Handler)
		}

		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)

		if a.Config.Server.RateLimitRPS > 0 {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Server.RateLimitRPS,
				a.Config.Server.RateLimitBurst,
				a.Logger,
			).Handler)
		}

		guard := customMiddleware.NewLicenseGuard(a.Core.Manager, a.Logger,
			customMiddleware.WithExcludedPrefixes("/api/audit"))
		r.Use(guard.Handler)

		a.setupAPIRoutes(r)
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	r.NotFound(a.ErrorHandler.NotFound)
	r.MethodNotAllowed(a.ErrorHandler.MethodNotAllowed)

	a.Router = r
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router) {
	healthHandler := handlers.NewHealthHandler(a.Services.Health, a.Logger)
	r.Get("/", healthHandler.Version)
	r.Get("/healthz", healthHandler.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/health", healthHandler.HealthCheck)
		r.Get("/health/ready", healthHandler.ReadinessCheck)
		r.Get("/health/live", healthHandler.LivenessCheck)
		r.Get("/version", healthHandler.Version)

		licenseHandler := handlers.NewLicenseHandler(a.Services.LicenseService, a.ErrorHandler, a.Logger)
		licenseRoutes := licenseHandler.Routes()
		if a.Config.Server.Admin {
			licenseRoutes.Post("/revoke", licenseHandler.Revoke)
		}
		r.Mount("/license", licenseRoutes)

		if a.Config.Server.Admin {
			auditHandler := handlers.NewAuditHandler(a.Core.Audit, a.ErrorHandler, a.Logger)
			r.Mount("/audit", auditHandler.Routes())
		}

		// One probe per feature so clients can check a single entitlement.
		r.Route("/entitlements", func(r chi.Router) {
			r.Get("/", handlers.Entitlements)
			for _, feature := range license.AllFeatures {
				r.With(customMiddleware.RequireFeature(feature)).Get("/"+string(feature), handlers.Entitlements)
			}
		})
	})
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Stop gracefully stops the application. It is safe to call after a
// failed start.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	if a.WebSocketHub != nil {
		a.WebSocketHub.Stop()
	}

	if a.Core != nil {
		if err := a.Core.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing storage", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	if err := infrastructure.CloseLogFile(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Run serves until ctx is cancelled or SIGINT/SIGTERM arrives, then shuts
// down gracefully.
func (a *Application) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", config.AppName),
		slog.String("version", contracts.Version),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level),
		slog.Bool("admin_endpoints", a.Config.Server.Admin))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.ErrorContext(gctx, "Server error", slog.String("error", err.Error()))
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.Logger.InfoContext(gctx, "Shutdown requested")
		return a.Stop(gctx)
	})

	return g.Wait()
}
