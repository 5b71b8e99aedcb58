package api

import (
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/prasenjit/go-apibot/internal/events"
)

// Router handles HTTP routing
type Router struct {
	engine  *gin.Engine
	handler *Handler
}

// NewRouter creates a new router serving the admin API and screens
func NewRouter(handler *Handler) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		engine:  gin.New(),
		handler: handler,
	}

	r.engine.Use(recovery())
	r.engine.Use(corsMiddleware())
	r.engine.Use(requestLogger())

	r.setupRoutes()
	r.setupUI()

	return r
}

// setupRoutes configures the JSON API
func (r *Router) setupRoutes() {
	h := r.handler

	api := r.engine.Group("/_api")
	{
		api.GET("/health", h.HealthCheck)
		api.GET("/state", h.GetState)

		// Session
		api.GET("/session", h.GetSession)
		api.PUT("/session", h.SetSession)
		api.DELETE("/session", h.ClearSession)

		// Configurations
		api.GET("/configs", h.ListConfigs)
		api.POST("/configs", h.CreateConfig)
		api.PUT("/configs/:id", h.UpdateConfig)
		api.DELETE("/configs/:id", h.DeleteConfig)
		api.POST("/configs/:id/test", h.TestConfig)
		api.DELETE("/test-result", h.ClearTestResult)
		api.DELETE("/error", h.DismissError)

		// Editor helpers
		api.GET("/placeholders", h.ListPlaceholders)
		api.POST("/openapi/endpoints", h.ListOpenAPIEndpoints)

		// Drafts
		api.GET("/drafts", h.ListDrafts)
		api.POST("/drafts", h.CreateDraft)
		api.GET("/drafts/:id", h.GetDraft)
		api.DELETE("/drafts/:id", h.DeleteDraft)
		api.PATCH("/drafts/:id/fields", h.UpdateDraftFields)
		api.POST("/drafts/:id/lists/:list", h.AddDraftPair)
		api.PUT("/drafts/:id/lists/:list/:index", h.UpdateDraftPair)
		api.DELETE("/drafts/:id/lists/:list/:index", h.RemoveDraftPair)
		api.PUT("/drafts/:id/cursor", h.SetDraftCursor)
		api.POST("/drafts/:id/placeholders", h.InsertDraftPlaceholder)
		api.POST("/drafts/:id/advance", h.AdvanceDraft)
		api.POST("/drafts/:id/retreat", h.RetreatDraft)
		api.POST("/drafts/:id/save", h.SaveDraft)
		api.POST("/drafts/:id/import", h.ImportDraftEndpoint)
		api.GET("/drafts/:id/preview", h.PreviewDraft)

		// Events
		api.GET("/events", h.ListEvents)
		api.DELETE("/events", h.ClearEvents)

		// Statistics
		api.GET("/stats", h.GetGlobalStats)
		api.GET("/stats/operations/:op", h.GetOperationStats)
		api.POST("/stats/reset", h.ResetStats)
	}

	wsHandler := events.NewWebSocketHandler(h.eventsService)
	r.engine.GET("/_api/events/stream", gin.WrapH(wsHandler))
}

// Handler returns the http.Handler
func (r *Router) Handler() http.Handler {
	return r.engine
}

// requestLogger logs every request through zerolog
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		switch {
		case len(c.Errors) > 0:
			event = log.Error().Err(c.Errors.Last())
		case status >= http.StatusInternalServerError:
			event = log.Warn()
		case c.Request.URL.Path == "/_api/health":
			event = log.Debug()
		}

		event.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Str("ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// recovery turns panics into 500 responses and logs the stack
func recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(io.Discard, func(c *gin.Context, recovered any) {
		log.Error().
			Interface("panic", recovered).
			Str("stack", string(debug.Stack())).
			Str("path", c.Request.URL.Path).
			Msg("panic recovered")
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
