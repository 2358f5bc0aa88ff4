// Package server is the web frontend of the portal. Every visitor gets an
// application instance of their own; pages read that instance's session
// store and route guards gate the protected pages.
package server

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/physicstutor/tutorportal/internal/backend"
	"github.com/physicstutor/tutorportal/internal/config"
	"github.com/physicstutor/tutorportal/internal/database"
	"github.com/physicstutor/tutorportal/internal/guard"
	"github.com/physicstutor/tutorportal/internal/logger"
	"github.com/physicstutor/tutorportal/internal/models"
	"github.com/physicstutor/tutorportal/internal/validation"
)

//go:embed templates/*.html
var templatesFS embed.FS

// Server represents the HTTP server
type Server struct {
	router   *gin.Engine
	db       *gorm.DB
	config   *config.Config
	logger   zerolog.Logger
	registry *Registry
	cron     *cron.Cron
	version  string
}

// New creates a new server instance
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	db, err := database.Open(cfg.Database.URL, zlog)
	if err != nil {
		return nil, err
	}

	if err := models.AutoMigrateFrontend(db); err != nil {
		database.Close(db)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	client := backend.NewClient(cfg.Backend.URL, cfg.Backend.AnonKey, cfg.Backend.Timeout)
	registry := NewRegistry(client, db, validation.New(), cfg.Server.SiteURL, cfg.Server.VisitorIdleTTL,
		logger.Component(zlog, "registry"))

	server := &Server{
		db:       db,
		config:   cfg,
		logger:   zlog,
		registry: registry,
		cron:     cron.New(),
		version:  version,
	}

	if _, err := server.cron.AddFunc(cfg.Server.TokenRefreshSchedule, server.maintainSessions); err != nil {
		registry.Close()
		database.Close(db)
		return nil, fmt.Errorf("invalid token refresh schedule %q: %w", cfg.Server.TokenRefreshSchedule, err)
	}

	tmpl, err := template.ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		registry.Close()
		database.Close(db)
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	server.setupRouter(tmpl)
	return server, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter(tmpl *template.Template) {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.SetHTMLTemplate(tmpl)

	s.router.Use(gin.Recovery())
	s.router.Use(logger.RequestLogger(s.logger))

	// Health check endpoint (no visitor session)
	s.router.GET("/health", s.healthCheck)

	site := s.router.Group("/")
	site.Use(s.visitorMiddleware())
	{
		site.GET("/", s.indexPage)
		site.GET("/signup", s.signUpPage)
		site.GET(guard.LogInPath, s.logInPage)
		site.POST("/signup", s.signUp)
		site.POST(guard.LogInPath, s.logIn)
		site.GET("/reset-password", s.resetPasswordPage)
		site.POST("/reset-password", s.resetPassword)

		member := site.Group("/")
		member.Use(guard.RequireSession(visitorState))
		{
			member.GET("/dashboard", s.dashboardPage)
			member.GET("/store", s.storePage)
			member.POST("/profile", s.updateProfile)
			member.POST("/password", s.updatePassword)
			member.POST("/logout", s.logOut)
		}

		admin := site.Group("/admin")
		admin.Use(guard.RequireAdmin(visitorState))
		{
			admin.GET("", s.adminPage)
			admin.GET("/:section", s.adminSectionPage)
		}
	}

	api := s.router.Group("/api")
	if len(s.config.Server.CORSOrigins) > 0 {
		api.Use(s.corsMiddleware())
	}
	api.Use(s.visitorMiddleware())
	{
		api.GET("/session", s.getSession)
	}
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the visitor registry
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "tutorportal",
		"version":   s.version,
		"visitors":  s.registry.Len(),
	})
}

// maintainSessions is the cron job: refresh tokens about to expire, then
// drop visitors that went idle
func (s *Server) maintainSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Backend.Timeout)
	defer cancel()

	s.registry.RefreshDue(ctx)
	s.registry.EvictIdle()
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Server.ListenAddr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.cron.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info().Msg("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.Close()
	return err
}

// Close stops the scheduler, tears down every visitor instance and closes
// the database
func (s *Server) Close() {
	<-s.cron.Stop().Done()
	s.registry.Close()

	if err := database.Close(s.db); err != nil {
		s.logger.Error().Err(err).Msg("Error closing database")
		return
	}
	s.logger.Info().Msg("Server shutdown complete")
}
