package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/prasenjit/go-apibot/internal/models"
	"github.com/prasenjit/go-apibot/internal/placeholder"
	"github.com/prasenjit/go-apibot/internal/wizard"
)

// errConfigNotCached is returned when an edit starts for a configuration
// that is not in the listed collection
var errConfigNotCached = errors.New("configuration is not in the listed collection")

// previewNotice labels every local preview
const previewNotice = "Local preview only. The backend substitutes placeholders when it calls the endpoint."

// draftView is a draft plus the wizard position details the screens need
type draftView struct {
	*models.Draft
	StepName string            `json:"stepName"`
	LastStep bool              `json:"lastStep"`
	Errors   map[string]string `json:"errors,omitempty"`
}

func viewOf(d *models.Draft, w *wizard.Wizard) draftView {
	v := draftView{
		Draft:    d,
		StepName: w.Step().String(),
		LastStep: w.IsLastStep(),
	}
	if errs := w.Errors(); len(errs) > 0 {
		v.Errors = errs
	}
	return v
}

type draftInput struct {
	DeviceID int64  `json:"deviceId"`
	ConfigID *int64 `json:"configId,omitempty"`
}

type pairInput struct {
	Key   *string `json:"key"`
	Value *string `json:"value"`
}

type cursorInput struct {
	Cursor int `json:"cursor"`
}

type placeholderInput struct {
	Token  string `json:"token" binding:"required"`
	Cursor *int   `json:"cursor,omitempty"`
}

type importInput struct {
	Content     string `json:"content" binding:"required"`
	OperationID string `json:"operationId"`
}

// newDraft starts a wizard session. With configID it edits the cached
// configuration, otherwise it creates a new one for deviceID.
func (h *Handler) newDraft(deviceID int64, configID *int64) (*models.Draft, *wizard.Wizard, error) {
	w := wizard.New()
	if configID != nil {
		cfg, ok := h.store.Snapshot().Find(*configID)
		if !ok {
			return nil, nil, errConfigNotCached
		}
		w = wizard.NewFromConfig(cfg)
		if deviceID == 0 {
			deviceID = cfg.DeviceID
		}
	}

	now := h.now()
	d := &models.Draft{
		ID:        uuid.New().String(),
		DeviceID:  deviceID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	w.Snapshot(d)

	if err := h.drafts.CreateDraft(d); err != nil {
		return nil, nil, err
	}
	return d, w, nil
}

// draftLocks serializes load-mutate-persist cycles per draft id so two
// requests on one draft cannot overwrite each other's changes
type draftLocks struct {
	mu    sync.Mutex
	locks map[string]*draftLock
}

type draftLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until id is free and returns the matching unlock
func (l *draftLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*draftLock)
	}
	dl, ok := l.locks[id]
	if !ok {
		dl = &draftLock{}
		l.locks[id] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()
	return func() {
		dl.mu.Unlock()
		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

func (h *Handler) loadDraft(id string) (*models.Draft, *wizard.Wizard, error) {
	d, err := h.drafts.GetDraft(id)
	if err != nil {
		return nil, nil, err
	}
	return d, wizard.Restore(d), nil
}

func (h *Handler) persist(d *models.Draft, w *wizard.Wizard) error {
	w.Snapshot(d)
	d.UpdatedAt = h.now()
	return h.drafts.UpdateDraft(d)
}

// saveDraft validates the whole buffer and sends it to the store. The draft
// is removed only when the backend accepted it; on any failure the draft and
// its data stay as they are.
func (h *Handler) saveDraft(ctx context.Context, d *models.Draft, w *wizard.Wizard) (*models.BotConfig, error) {
	form, err := w.Save()
	if err != nil {
		return nil, err
	}

	var cfg *models.BotConfig
	if id := w.EditingID(); id != nil {
		req, err := wizard.ToUpdateRequest(*form)
		if err != nil {
			return nil, err
		}
		if cfg, err = h.store.Update(ctx, *id, req); err != nil {
			return nil, err
		}
	} else {
		req, err := wizard.ToCreateRequest(*form, d.DeviceID)
		if err != nil {
			return nil, err
		}
		if cfg, err = h.store.Create(ctx, req); err != nil {
			return nil, err
		}
	}

	if err := h.drafts.DeleteDraft(d.ID); err != nil {
		log.Warn().Err(err).Str("draft_id", d.ID).Msg("failed to remove saved draft")
	}
	return cfg, nil
}

// applyFields sets fields in a stable order and stops at the first error
func applyFields(w *wizard.Wizard, fields map[string]string) error {
	names := make([]string, 0, len(fields))
	for k := range fields {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := w.SetField(name, fields[name]); err != nil {
			return err
		}
	}
	return nil
}

// fieldText converts a JSON scalar to the text form SetField expects
func fieldText(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case nil:
		return "", nil
	}
	return "", fmt.Errorf("unsupported value %v", v)
}

// ListDrafts returns all persisted drafts
func (h *Handler) ListDrafts(c *gin.Context) {
	drafts, err := h.drafts.ListDrafts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, drafts)
}

// CreateDraft starts a wizard session
func (h *Handler) CreateDraft(c *gin.Context) {
	var input draftInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.DeviceID == 0 && input.ConfigID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "deviceId or configId is required"})
		return
	}

	d, w, err := h.newDraft(input.DeviceID, input.ConfigID)
	if err != nil {
		if errors.Is(err, errConfigNotCached) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, viewOf(d, w))
}

// GetDraft returns a draft
func (h *Handler) GetDraft(c *gin.Context) {
	d, w, err := h.loadDraft(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(d, w))
}

// DeleteDraft cancels a wizard session
func (h *Handler) DeleteDraft(c *gin.Context) {
	if err := h.drafts.DeleteDraft(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// mutateDraft loads a draft, applies fn and persists the result. A failing fn
// leaves the stored draft untouched.
func (h *Handler) mutateDraft(c *gin.Context, fn func(w *wizard.Wizard) error) {
	defer h.draftLocks.lock(c.Param("id"))()

	d, w, err := h.loadDraft(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if err := fn(w); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.persist(d, w); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, viewOf(d, w))
}

// UpdateDraftFields sets scalar fields of the buffer
func (h *Handler) UpdateDraftFields(c *gin.Context) {
	var input map[string]interface{}
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fields := make(map[string]string, len(input))
	for k, v := range input {
		text, err := fieldText(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("%s: %v", k, err)})
			return
		}
		fields[k] = text
	}

	h.mutateDraft(c, func(w *wizard.Wizard) error {
		return applyFields(w, fields)
	})
}

// AddDraftPair appends an empty row to a list
func (h *Handler) AddDraftPair(c *gin.Context) {
	list := wizard.List(c.Param("list"))
	h.mutateDraft(c, func(w *wizard.Wizard) error {
		return w.AddPair(list)
	})
}

// UpdateDraftPair edits one row of a list
func (h *Handler) UpdateDraftPair(c *gin.Context) {
	list := wizard.List(c.Param("list"))
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid index"})
		return
	}

	var input pairInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.mutateDraft(c, func(w *wizard.Wizard) error {
		if input.Key != nil {
			if err := w.UpdatePair(list, index, wizard.PartKey, *input.Key); err != nil {
				return err
			}
		}
		if input.Value != nil {
			if err := w.UpdatePair(list, index, wizard.PartValue, *input.Value); err != nil {
				return err
			}
		}
		return nil
	})
}

// RemoveDraftPair deletes one row of a list
func (h *Handler) RemoveDraftPair(c *gin.Context) {
	list := wizard.List(c.Param("list"))
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid index"})
		return
	}

	h.mutateDraft(c, func(w *wizard.Wizard) error {
		return w.RemovePair(list, index)
	})
}

// SetDraftCursor moves the request-body cursor
func (h *Handler) SetDraftCursor(c *gin.Context) {
	var input cursorInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.mutateDraft(c, func(w *wizard.Wizard) error {
		w.SetCursor(input.Cursor)
		return nil
	})
}

// InsertDraftPlaceholder inserts a token at the cursor
func (h *Handler) InsertDraftPlaceholder(c *gin.Context) {
	var input placeholderInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.mutateDraft(c, func(w *wizard.Wizard) error {
		if input.Cursor != nil {
			w.SetCursor(*input.Cursor)
		}
		return w.InsertPlaceholder(input.Token)
	})
}

// AdvanceDraft validates the current step and moves forward
func (h *Handler) AdvanceDraft(c *gin.Context) {
	defer h.draftLocks.lock(c.Param("id"))()

	d, w, err := h.loadDraft(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	advanced := w.Advance()
	if err := h.persist(d, w); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	status := http.StatusOK
	if !advanced {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, viewOf(d, w))
}

// RetreatDraft moves back one step
func (h *Handler) RetreatDraft(c *gin.Context) {
	h.mutateDraft(c, func(w *wizard.Wizard) error {
		w.Retreat()
		return nil
	})
}

// SaveDraft creates or updates the configuration from the draft
func (h *Handler) SaveDraft(c *gin.Context) {
	defer h.draftLocks.lock(c.Param("id"))()

	d, w, err := h.loadDraft(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	created := !w.IsEdit()
	cfg, err := h.saveDraft(c.Request.Context(), d, w)
	if err != nil {
		respondError(c, err)
		return
	}

	if created {
		c.JSON(http.StatusCreated, cfg)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// ImportDraftEndpoint fills the buffer from an OpenAPI operation
func (h *Handler) ImportDraftEndpoint(c *gin.Context) {
	var input importInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	endpoints, err := h.parser.ParseEndpoints(input.Content)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid OpenAPI document: " + err.Error()})
		return
	}

	tpl, err := selectEndpoint(endpoints, input.OperationID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "endpoints": endpoints})
		return
	}

	h.mutateDraft(c, func(w *wizard.Wizard) error {
		return w.ApplyEndpointTemplate(tpl)
	})
}

func selectEndpoint(endpoints []models.EndpointTemplate, operationID string) (models.EndpointTemplate, error) {
	if operationID == "" {
		if len(endpoints) == 1 {
			return endpoints[0], nil
		}
		return models.EndpointTemplate{}, fmt.Errorf("operationId is required, document has %d endpoints", len(endpoints))
	}
	for _, ep := range endpoints {
		if ep.OperationID == operationID {
			return ep, nil
		}
	}
	return models.EndpointTemplate{}, fmt.Errorf("operation %q not found", operationID)
}

// PreviewDraft renders the request body with sample values
func (h *Handler) PreviewDraft(c *gin.Context) {
	d, _, err := h.loadDraft(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	sample := placeholder.Sample{
		Message:   c.DefaultQuery("message", "hello"),
		Sender:    c.DefaultQuery("sender", "+15550100"),
		DeviceID:  d.DeviceID,
		Timestamp: h.now(),
	}
	body := d.Form.RequestBody

	rendered, err := h.preview.Preview(body, sample)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"body":    body,
		"preview": rendered,
		"used":    placeholder.Used(body),
		"unknown": placeholder.Unknown(body),
		"notice":  previewNotice,
	})
}
