// Package devbackend is a local stand-in for the hosted auth and table
// service. It speaks the subset of the /auth/v1 and /rest/v1 protocols the
// portal uses and enforces the same row rules on the profiles table.
package devbackend

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/physicstutor/tutorportal/internal/logger"
	"github.com/physicstutor/tutorportal/internal/models"
	"github.com/physicstutor/tutorportal/internal/validation"
)

const (
	minPasswordLength = validation.MinPasswordLength
	refreshTokenTTL   = 30 * 24 * time.Hour
)

// Options configure the stand-in backend
type Options struct {
	JWTSecret string
	AccessTTL time.Duration
	// AnonKey, when set, must be sent as the apikey header on every request
	AnonKey        string
	BcryptCost     int
	SignupsPerHour int
	Autoconfirm    bool
}

// Server is the stand-in backend
type Server struct {
	router *gin.Engine
	db     *gorm.DB
	opts   Options
	issuer *TokenIssuer
	hasher *Hasher
	logger zerolog.Logger
	now    func() time.Time

	limitMu  sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates the stand-in backend on db. Tables are migrated.
func New(db *gorm.DB, opts Options, zlog zerolog.Logger) (*Server, error) {
	if err := models.AutoMigrateBackend(db); err != nil {
		return nil, err
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = time.Hour
	}
	if opts.SignupsPerHour <= 0 {
		opts.SignupsPerHour = 30
	}

	s := &Server{
		db:       db,
		opts:     opts,
		issuer:   NewTokenIssuer(opts.JWTSecret, opts.AccessTTL),
		hasher:   NewHasher(opts.BcryptCost),
		logger:   zlog,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
	s.setupRouter()
	return s, nil
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(logger.RequestLogger(s.logger))
	s.router.Use(s.apiKeyMiddleware())
	s.router.Use(s.identify())

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "online", "service": "devbackend"})
	})

	authRoutes := s.router.Group("/auth/v1")
	{
		authRoutes.POST("/signup", s.signUp)
		authRoutes.POST("/token", s.token)
		authRoutes.POST("/logout", s.logout)
		authRoutes.POST("/recover", s.recoverPassword)
		authRoutes.GET("/user", s.getUser)
		authRoutes.PUT("/user", s.updateUser)
	}

	rest := s.router.Group("/rest/v1")
	{
		rest.GET("/profiles", s.listProfiles)
		rest.PATCH("/profiles", s.updateProfiles)
	}
}

// Run serves on addr until ctx is done
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting dev backend")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) apiKeyMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.opts.AnonKey == "" || c.Request.URL.Path == "/health" {
			c.Next()
			return
		}
		if c.GetHeader("apikey") != s.opts.AnonKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Invalid API key"})
			return
		}
		c.Next()
	}
}

const (
	claimsKey     = "claims"
	tokenErrorKey = "token_error"
)

// identify parses the bearer token. The anon key and a missing header both
// mean an anonymous caller.
func (s *Server) identify() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || token == s.opts.AnonKey {
			c.Next()
			return
		}

		claims, err := s.issuer.Validate(token)
		if err != nil {
			c.Set(tokenErrorKey, err)
			c.Next()
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

func callerClaims(c *gin.Context) (*Claims, error) {
	if v, ok := c.Get(tokenErrorKey); ok {
		return nil, v.(error)
	}
	if v, ok := c.Get(claimsKey); ok {
		return v.(*Claims), nil
	}
	return nil, nil
}

// allow reports whether another email-sending request for email fits the
// hourly budget
func (s *Server) allow(email string) bool {
	s.limitMu.Lock()
	defer s.limitMu.Unlock()

	l, ok := s.limiters[email]
	if !ok {
		n := s.opts.SignupsPerHour
		l = rate.NewLimiter(rate.Every(time.Hour/time.Duration(n)), n)
		s.limiters[email] = l
	}
	return l.AllowN(s.now(), 1)
}

func authError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": status, "error_code": code, "msg": msg})
}

func restError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": msg, "details": nil, "hint": nil})
}
