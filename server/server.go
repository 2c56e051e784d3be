// Package server exposes the graph compiler, the preset store and the
// upstream gateway over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"

	"github.com/meikuraledutech/fluxflow"
	"github.com/meikuraledutech/fluxflow/gateway"
	"github.com/meikuraledutech/fluxflow/internal/metrics"
)

// DefaultCookieName names the session cookie when Options leaves it empty.
const DefaultCookieName = "fluxflow.sid"

// Options configures a Server.
type Options struct {
	Gateway *gateway.Gateway
	Presets fluxflow.PresetStore
	Metrics *metrics.Registry
	Logger  *slog.Logger

	CookieName   string
	CookieSecure bool
	// SessionTTL sets the cookie lifetime. 0 issues a browser-session cookie.
	SessionTTL time.Duration
	// AllowOrigins enables CORS with credentials for the listed origins.
	AllowOrigins []string
}

// Server owns the fiber app and its dependencies.
type Server struct {
	app     *fiber.App
	gw      *gateway.Gateway
	presets fluxflow.PresetStore
	metrics *metrics.Registry
	logger  *slog.Logger

	cookieName   string
	cookieSecure bool
	sessionTTL   time.Duration
}

// New builds a Server with every route registered.
func New(opts Options) (*Server, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("server: gateway is required")
	}
	if opts.Presets == nil {
		return nil, fmt.Errorf("server: preset store is required")
	}
	s := &Server{
		gw:           opts.Gateway,
		presets:      opts.Presets,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		cookieName:   opts.CookieName,
		cookieSecure: opts.CookieSecure,
		sessionTTL:   opts.SessionTTL,
	}
	if s.metrics == nil {
		s.metrics = metrics.NewRegistry()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.cookieName == "" {
		s.cookieName = DefaultCookieName
	}

	s.app = fiber.New(fiber.Config{
		AppName:      "fluxflow",
		ErrorHandler: s.handleError,
	})
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(s.observe)
	if len(opts.AllowOrigins) > 0 {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:     opts.AllowOrigins,
			AllowCredentials: true,
		}))
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	app := s.app

	app.Get("/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))

	// ── Auth ──────────────────────────────────────────────────────────
	auth := app.Group("/auth")
	auth.Post("/login", s.login)
	auth.Post("/logout", s.logout)
	auth.Get("/check-session", s.checkSession)
	auth.Get("/ping", s.ping)

	// ── Upstream proxy ────────────────────────────────────────────────
	up := app.Group("/grafana")
	up.Get("/user-data", s.userData)
	up.Get("/user-folders", s.userFolders)
	up.Get("/user-dashboards", s.userDashboards)
	up.Get("/api/dashboards/uid/:uid", s.getDashboard)
	up.Post("/dashboard/update", s.updateDashboard)
	up.Post("/dashboard/create", s.createDashboard)
	up.Post("/dashboard/create-named", s.createNamedDashboard)
	up.Delete("/dashboard/delete/:uid", s.deleteDashboard)
	up.Post("/dashboard/panel-create", s.createPanel)
	up.Post("/dashboard/panel-update", s.updatePanel)
	up.Get("/influxdb/buckets", s.listBuckets)
	up.Get("/influxdb/metadata", s.bucketMetadata)

	// ── Graph compiler ────────────────────────────────────────────────
	graph := app.Group("/graph")
	graph.Post("/compile", s.compile)
	graph.Post("/validate-edge", s.validateEdge)
	graph.Post("/run", s.run)

	// ── Presets ───────────────────────────────────────────────────────
	presets := app.Group("/presets", s.requireSession)
	presets.Get("/", s.listPresets)
	presets.Post("/", s.savePreset)
	presets.Get("/:id", s.getPreset)
	presets.Delete("/:id", s.deletePreset)
	presets.Post("/:id/load", s.loadPreset)
	presets.Post("/:id/merge", s.mergePreset)
}

// App returns the underlying fiber app, mainly for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown is called.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
