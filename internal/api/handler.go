package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/prasenjit/go-apibot/internal/client"
	"github.com/prasenjit/go-apibot/internal/events"
	"github.com/prasenjit/go-apibot/internal/models"
	"github.com/prasenjit/go-apibot/internal/parser"
	"github.com/prasenjit/go-apibot/internal/placeholder"
	"github.com/prasenjit/go-apibot/internal/session"
	"github.com/prasenjit/go-apibot/internal/stats"
	"github.com/prasenjit/go-apibot/internal/storage"
	"github.com/prasenjit/go-apibot/internal/store"
	"github.com/prasenjit/go-apibot/internal/wizard"
)

// Handler handles admin API requests
type Handler struct {
	store          *store.Store
	session        *session.Session
	drafts         storage.Storage
	eventsService  *events.Service
	statsCollector *stats.Collector
	parser         *parser.Parser
	preview        *placeholder.Engine
	now            func() time.Time
	draftLocks     draftLocks
}

// NewHandler creates a new API handler
func NewHandler(st *store.Store, sess *session.Session, drafts storage.Storage, eventsService *events.Service, statsCollector *stats.Collector) *Handler {
	return &Handler{
		store:          st,
		session:        sess,
		drafts:         drafts,
		eventsService:  eventsService,
		statsCollector: statsCollector,
		parser:         parser.NewParser(),
		preview:        placeholder.NewEngine(),
		now:            time.Now,
	}
}

// configInput is a configuration in editor shape plus the owning device
type configInput struct {
	DeviceID int64 `json:"deviceId"`
	models.FormData
}

type tokenInput struct {
	Token string `json:"token" binding:"required"`
}

type testInput struct {
	TestMessage string `json:"testMessage"`
}

// respondError maps domain errors to status codes
func respondError(c *gin.Context, err error) {
	var verr *wizard.ValidationError
	var apiErr *client.APIError

	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Validation failed", "fields": verr.Fields})
	case errors.Is(err, client.ErrMissingToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, storage.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Draft not found"})
	case errors.As(err, &apiErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": apiErr.Message, "status": apiErr.StatusCode})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": client.Message(err)})
	}
}

func paramID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid configuration id"})
		return 0, false
	}
	return id, true
}

// GetState returns the current store snapshot
func (h *Handler) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Snapshot())
}

// GetSession describes the current session without exposing the token
func (h *Handler) GetSession(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Info())
}

// SetSession replaces the bearer token
func (h *Handler) SetSession(c *gin.Context) {
	var input tokenInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.session.SetToken(input.Token)
	c.JSON(http.StatusOK, h.session.Info())
}

// ClearSession drops the bearer token
func (h *Handler) ClearSession(c *gin.Context) {
	h.session.Clear()
	c.JSON(http.StatusOK, h.session.Info())
}

// ListConfigs fetches the configurations of a device
func (h *Handler) ListConfigs(c *gin.Context) {
	deviceID, err := strconv.ParseInt(c.Query("deviceId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId query parameter is required"})
		return
	}

	configs, err := h.store.List(c.Request.Context(), deviceID)
	if err != nil {
		respondError(c, err)
		return
	}
	if configs == nil {
		configs = []models.BotConfig{}
	}
	c.JSON(http.StatusOK, configs)
}

// CreateConfig validates an editor-shaped configuration and creates it
func (h *Handler) CreateConfig(c *gin.Context) {
	input := configInput{FormData: models.NewFormData()}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.DeviceID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId is required"})
		return
	}
	if errs := wizard.ValidateAll(&input.FormData); len(errs) > 0 {
		respondError(c, &wizard.ValidationError{Fields: errs})
		return
	}

	req, err := wizard.ToCreateRequest(input.FormData, input.DeviceID)
	if err != nil {
		respondError(c, err)
		return
	}

	cfg, err := h.store.Create(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

// UpdateConfig validates an editor-shaped configuration and sends a full update
func (h *Handler) UpdateConfig(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	input := configInput{FormData: models.NewFormData()}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if errs := wizard.ValidateAll(&input.FormData); len(errs) > 0 {
		respondError(c, &wizard.ValidationError{Fields: errs})
		return
	}

	req, err := wizard.ToUpdateRequest(input.FormData)
	if err != nil {
		respondError(c, err)
		return
	}

	cfg, err := h.store.Update(c.Request.Context(), id, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// DeleteConfig deletes a configuration
func (h *Handler) DeleteConfig(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TestConfig runs a configuration against a sample message
func (h *Handler) TestConfig(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}

	var input testInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.TestMessage == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "testMessage is required"})
		return
	}

	result, err := h.store.Test(c.Request.Context(), id, input.TestMessage)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ClearTestResult drops the current test result
func (h *Handler) ClearTestResult(c *gin.Context) {
	h.store.ClearTestResult()
	c.Status(http.StatusNoContent)
}

// DismissError clears the shared error slot
func (h *Handler) DismissError(c *gin.Context) {
	h.store.DismissError()
	c.Status(http.StatusNoContent)
}

// ListPlaceholders returns the recognized request-body tokens
func (h *Handler) ListPlaceholders(c *gin.Context) {
	tokens := placeholder.All()
	result := make([]gin.H, len(tokens))
	for i, tok := range tokens {
		result[i] = gin.H{"token": tok, "description": placeholder.Description(tok)}
	}
	c.JSON(http.StatusOK, result)
}

type openAPIInput struct {
	Content string `json:"content" binding:"required"`
}

// ListOpenAPIEndpoints parses an OpenAPI document into endpoint templates
func (h *Handler) ListOpenAPIEndpoints(c *gin.Context) {
	var input openAPIInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := h.parser.Parse(input.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid OpenAPI document: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ListEvents returns recorded store events, newest first
func (h *Handler) ListEvents(c *gin.Context) {
	filter := &models.EventFilter{
		Operation: c.Query("operation"),
		Phase:     c.Query("phase"),
	}
	if v := c.Query("configId"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			filter.ConfigID = id
		}
	}
	if v := c.Query("since"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.StartTime = t
		}
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}

	c.JSON(http.StatusOK, h.eventsService.GetEvents(filter))
}

// ClearEvents drops recorded events
func (h *Handler) ClearEvents(c *gin.Context) {
	h.eventsService.Clear()
	c.Status(http.StatusNoContent)
}

// GetGlobalStats returns operation statistics
func (h *Handler) GetGlobalStats(c *gin.Context) {
	state := h.store.Snapshot()
	c.JSON(http.StatusOK, h.statsCollector.GetGlobalStats(len(state.Configs)))
}

// GetOperationStats returns statistics for one operation kind
func (h *Handler) GetOperationStats(c *gin.Context) {
	op := c.Param("op")
	stat := h.statsCollector.GetOperationStats(op)
	if stat == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No statistics for operation " + op})
		return
	}
	c.JSON(http.StatusOK, stat)
}

// ResetStats resets all statistics
func (h *Handler) ResetStats(c *gin.Context) {
	h.statsCollector.Reset()
	c.JSON(http.StatusOK, gin.H{"message": "Statistics reset"})
}

// HealthCheck returns health status
func (h *Handler) HealthCheck(c *gin.Context) {
	drafts := 0
	if list, err := h.drafts.ListDrafts(); err == nil {
		drafts = len(list)
	} else {
		log.Warn().Err(err).Msg("health check could not list drafts")
	}

	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"time":          h.now().UTC().Format(time.RFC3339),
		"authenticated": h.session.Token() != "",
		"drafts":        drafts,
		"events":        h.eventsService.GetStats(),
	})
}
