package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/physicstutor/tutorportal/internal/auth"
	"github.com/physicstutor/tutorportal/internal/session"
)

const (
	visitorCookie = "tp_visitor"
	visitorMaxAge = 400 * 24 * 60 * 60 // browsers cap cookie lifetime at 400 days
	appKey        = "app"
)

// visitorMiddleware resolves the visitor's application instance, issuing a
// visitor cookie on first contact
func (s *Server) visitorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(visitorCookie)
		if err != nil || !validVisitorID(id) {
			id = ulid.Make().String()
		}
		// Refresh the expiry on every visit
		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(visitorCookie, id, visitorMaxAge, "/", "", s.config.Server.SecureCookies, true)

		app, err := s.registry.Get(id)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to resolve visitor session")
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}

		c.Set(appKey, app)
		c.Next()
	}
}

func validVisitorID(id string) bool {
	_, err := ulid.ParseStrict(id)
	return err == nil
}

// appFrom returns the instance set by visitorMiddleware
func appFrom(c *gin.Context) *auth.App {
	return c.MustGet(appKey).(*auth.App)
}

// visitorState is the guard's view of the visitor
func visitorState(c *gin.Context) session.State {
	return appFrom(c).Store.Snapshot()
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     s.config.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
