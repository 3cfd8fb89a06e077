// main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/cors"

	"interactionlog/internal/admin"
	"interactionlog/internal/auth"
	"interactionlog/internal/cleanup"
	"interactionlog/internal/config"
	"interactionlog/internal/data"
	"interactionlog/internal/engine"
	"interactionlog/internal/form"
	"interactionlog/internal/gateway"
	"interactionlog/internal/logger"
	"interactionlog/internal/middleware"
	"interactionlog/internal/options"
	"interactionlog/internal/rules"
	"interactionlog/internal/security"
	"interactionlog/internal/telemetry"
)

const requestTimeout = 15 * time.Second

type App struct {
	cfg           config.Config
	addr          string
	mux           *http.ServeMux
	connections   sync.WaitGroup
	totalRequests int64

	store   *data.Store
	csrf    *security.CSRFStore
	form    *form.Handler
	auth    *auth.Authenticator
	admin   *admin.Handler
	cleanup *cleanup.Job
}

func main() {
	// Step 1: Setup configuration first
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if loc, err := time.LoadLocation(cfg.TimeZone); err == nil {
		time.Local = loc // This affects the standard log package
	}

	// Step 2: Setup logging
	if err := logger.SetupLogger(cfg.LoggerConfig()); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Close()

	// Only NOW is logging safe to use!
	logger.LogInfo("Environment loaded. Logger ready.")
	cfg.LogCurrentEnvironment()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Step 3: Tracing (opt-in)
	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.OTELEnabled,
		Endpoint:    cfg.OTELEndpoint,
		Environment: cfg.Environment,
	})
	if err != nil {
		logger.LogError("Tracing setup failed, continuing without it: %v", err)
	}

	// Step 4: Storage, options and handlers
	app := newApp(ctx, cfg)

	// Step 5: Start background tasks
	go app.cleanup.Run(ctx)

	// Step 6: Run server
	app.Run(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTracing(flushCtx); err != nil {
		logger.LogError("Tracing shutdown error: %v", err)
	}
	if app.store != nil {
		if err := app.store.Close(); err != nil {
			logger.LogError("Database close error: %v", err)
		}
	}
}

// newApp wires every component. Storage and admin failures degrade the
// service instead of stopping it.
func newApp(ctx context.Context, cfg config.Config) *App {
	a := &App{cfg: cfg, addr: cfg.Addr()}

	a.store = openStore(ctx, cfg)

	defaults := rules.DefaultOptionSets()
	if cfg.FallbackOptionsPath != "" {
		loaded, err := options.LoadDefaults(cfg.FallbackOptionsPath)
		if err != nil {
			logger.LogError("Failed to load fallback options from %s, using built-in lists: %v", cfg.FallbackOptionsPath, err)
		} else {
			defaults = loaded
		}
	}

	var source options.Source
	var gw engine.Gateway
	var adminStore admin.Store
	var retainer cleanup.Retainer
	if a.store != nil {
		if n, err := a.store.SeedOptions(ctx, defaults); err != nil {
			logger.LogError("Failed to seed form options: %v", err)
		} else if n > 0 {
			logger.LogInfo("Seeded %d form options", n)
		}
		source = options.SourceFunc(a.store.OptionNames)
		gw = gateway.NewLocalGateway(a.store)
		adminStore = a.store
		retainer = a.store
	}

	cache := options.NewCache(source,
		options.WithMaxAge(cfg.OptionsMaxAge),
		options.WithDefaults(defaults),
	)

	a.csrf = security.NewCSRFStore(cfg.CSRFTokenTTL, nil)
	rateLimit := security.NewWindow(cfg.RateLimitWindow, nil)
	duplicates := security.NewWindow(cfg.DuplicateWindow, nil)

	a.form = form.NewHandler(form.Config{
		Gateway:    gw,
		Options:    cache,
		CSRF:       a.csrf,
		RateLimit:  rateLimit,
		Duplicates: duplicates,
	})
	a.auth = auth.New(auth.Config{
		Username:     cfg.AdminUsername,
		PasswordHash: cfg.AdminPasswordHash,
		Secret:       cfg.JWTSecret,
		TTL:          cfg.SessionTTL,
	})
	a.admin = admin.NewHandler(admin.Config{
		Store:   adminStore,
		Options: cache,
		Stats:   a.form,
	})
	a.cleanup = cleanup.New(cleanup.Config{
		Sweepers: map[string]cleanup.Sweeper{
			"csrf token": a.csrf,
			"rate limit": rateLimit,
			"duplicate":  duplicates,
		},
		SweepInterval: cfg.SweepInterval,
		Store:         retainer,
		RetentionDays: cfg.RetentionDays,
	})

	a.mux = a.routes()
	return a
}

func openStore(ctx context.Context, cfg config.Config) *data.Store {
	if !cfg.StorageConfigured() {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0o755); err != nil {
		logger.LogError("Failed to create database directory, submissions disabled: %v", err)
		return nil
	}
	store, err := data.Open(ctx, cfg.DatabasePath)
	if err != nil {
		logger.LogError("Failed to open database, submissions disabled: %v", err)
		return nil
	}
	logger.LogInfo("Database ready at %s", cfg.DatabasePath)
	return store
}

// routes sets up all API routes
func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/healthz", middleware.Methods(http.HandlerFunc(a.healthz), http.MethodGet, http.MethodHead))

	api := func(h http.HandlerFunc) http.Handler { return middleware.API(h) }
	protected := func(h http.HandlerFunc) http.Handler { return middleware.API(a.auth.Middleware(h)) }

	// Public form
	mux.Handle("GET /api/csrf-token", a.csrf.Handler())
	mux.Handle("POST /api/interactions", api(a.form.Submit))
	mux.Handle("GET /api/options", api(a.form.AllOptions))
	mux.Handle("GET /api/options/{set}", api(a.form.OptionSet))
	mux.Handle("GET /api/form-rules", api(a.form.Rules))

	// Admin dashboard
	mux.Handle("POST /api/admin/login", api(a.auth.LoginHandler))
	mux.Handle("GET /api/admin/interactions", protected(a.admin.ListInteractions))
	mux.Handle("GET /api/admin/interactions/export", protected(a.admin.Export))
	mux.Handle("GET /api/admin/interactions/{id}", protected(a.admin.GetInteraction))
	mux.Handle("GET /api/admin/summary", protected(a.admin.Summary))
	mux.Handle("GET /api/admin/options/{set}", protected(a.admin.ListOptions))
	mux.Handle("POST /api/admin/options/{set}", protected(a.admin.CreateOption))
	mux.Handle("PUT /api/admin/options/{set}/{id}", protected(a.admin.UpdateOption))

	mux.Handle("/", api(notFound))

	return mux
}

func (a *App) healthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	storage := "disabled"
	if a.store != nil {
		storage = "ok"
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.store.Ping(ctx); err != nil {
			logger.LogError("Health check ping failed: %v", err)
			storage = "unreachable"
		}
	}
	if storage != "ok" {
		status = "degraded"
	}

	middleware.WriteAPISuccess(w, r, map[string]any{
		"status":        status,
		"storage":       storage,
		"admin_enabled": a.auth.Configured(),
		"form":          a.form.Status(),
		"requests":      atomic.LoadInt64(&a.totalRequests),
	})
}

func notFound(w http.ResponseWriter, r *http.Request) {
	logger.LogInfo("404 not found: %s", r.URL.Path)
	middleware.WriteAPIError(w, r, http.StatusNotFound, middleware.CodeNotFound, "Not found", nil)
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	server := &http.Server{
		Addr:         a.addr,
		Handler:      a.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a separate goroutine
	go func() {
		logger.LogInfo("Starting server on %s", a.addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogFatal("Server failed: %v", err)
		}
	}()

	// Wait for a shutdown signal
	<-ctx.Done()
	logger.LogInfo("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown the server gracefully
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.LogError("Server shutdown error: %v", err)
	}

	// Wait for active connections to finish
	logger.LogInfo("Waiting for active connections to finish...")
	a.connections.Wait()
	logger.LogInfo("All connections closed. Total requests handled: %d", atomic.LoadInt64(&a.totalRequests))
	logger.LogInfo("Server shut down gracefully")
}

// Handler assembles all middleware around the main mux
func (a *App) Handler() http.Handler {
	var handler http.Handler = a.mux

	handler = a.trackConnections(handler)
	handler = logRequests(handler)
	handler = withTimeout(handler, requestTimeout)
	handler = withCORS(handler, a.cfg.AllowedOrigins)

	return handler
}

// Middleware: CORS for the configured front-end origins
func withCORS(h http.Handler, origins []string) http.Handler {
	opts := cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Accept-Language", gateway.CSRFHeader, "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         600,
	}
	if len(origins) == 0 {
		// An empty list means "*" to cors; refuse every origin instead.
		opts.AllowOriginFunc = func(string) bool { return false }
	}
	return cors.New(opts).Handler(h)
}

// Middleware: timeout handler
func withTimeout(h http.Handler, timeout time.Duration) http.Handler {
	return http.TimeoutHandler(h, timeout, `{"success":false,"error":"Request timed out","code":"timeout"}`)
}

// Middleware: log requests
func logRequests(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		h.ServeHTTP(w, r)

		duration := time.Since(start)
		logger.LogInfo("%s %s took %v", r.Method, r.URL.Path, duration)
	})
}

// Middleware: track active connections and total requests
func (a *App) trackConnections(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.connections.Add(1)
		atomic.AddInt64(&a.totalRequests, 1)
		defer a.connections.Done()

		h.ServeHTTP(w, r)
	})
}
