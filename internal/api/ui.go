package api

import (
	"embed"
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/prasenjit/go-apibot/internal/client"
	"github.com/prasenjit/go-apibot/internal/models"
	"github.com/prasenjit/go-apibot/internal/placeholder"
	"github.com/prasenjit/go-apibot/internal/session"
	"github.com/prasenjit/go-apibot/internal/store"
	"github.com/prasenjit/go-apibot/internal/wizard"
)

//go:embed templates/*.html
var templateFS embed.FS

// scalarFields are the wizard fields a screen form may post
var scalarFields = []string{
	wizard.FieldName,
	wizard.FieldTriggerText,
	wizard.FieldIsActive,
	wizard.FieldAPIEndpoint,
	wizard.FieldHTTPMethod,
	wizard.FieldBasicAuthEnabled,
	wizard.FieldBasicAuthUsername,
	wizard.FieldBasicAuthPassword,
	wizard.FieldRequestBody,
	wizard.FieldIncludeSender,
	wizard.FieldTimeout,
}

type stepLink struct {
	Index   int
	Name    string
	Current bool
	Done    bool
}

type pairRow struct {
	Index int
	Key   string
	Value string
}

type placeholderRow struct {
	Token       string
	Description string
}

type listPage struct {
	State    store.State
	DeviceID string
	Drafts   []*models.Draft
	Session  session.Info
	Loading  bool
}

type wizardPage struct {
	Draft        *models.Draft
	Form         models.FormData
	Step         int
	StepName     string
	Steps        []stepLink
	LastStep     bool
	IsEdit       bool
	Errors       map[string]string
	Message      string
	StoreError   string
	Methods      []string
	Headers      []pairRow
	CustomParams []pairRow
	Placeholders []placeholderRow
	Preview      string
	Unknown      []string
	Notice       string
	Saving       bool
}

type testPage struct {
	Config  *models.BotConfig
	Message string
	Result  *models.TestResult
	Error   string
	Loading bool
}

func (r *Router) setupUI() {
	tmpl := template.Must(template.New("").ParseFS(templateFS, "templates/*.html"))
	r.engine.SetHTMLTemplate(tmpl)

	h := r.handler
	r.engine.GET("/_ui", func(c *gin.Context) {
		c.Redirect(http.StatusMovedPermanently, "/_ui/")
	})

	ui := r.engine.Group("/_ui")
	{
		ui.GET("/", h.uiList)
		ui.POST("/session", h.uiSession)
		ui.POST("/error/dismiss", h.uiDismissError)
		ui.POST("/drafts", h.uiNewDraft)
		ui.GET("/drafts/:id", h.uiWizard)
		ui.POST("/drafts/:id", h.uiWizardPost)
		ui.POST("/configs/:id/delete", h.uiDelete)
		ui.GET("/configs/:id/test", h.uiTest)
		ui.POST("/configs/:id/test", h.uiTestPost)
	}
}

func listURL(deviceID int64) string {
	if deviceID == 0 {
		return "/_ui/"
	}
	return "/_ui/?deviceId=" + url.QueryEscape(strconv.FormatInt(deviceID, 10))
}

func (h *Handler) uiList(c *gin.Context) {
	page := listPage{
		DeviceID: c.Query("deviceId"),
		Session:  h.session.Info(),
	}

	if page.DeviceID != "" {
		if id, err := strconv.ParseInt(page.DeviceID, 10, 64); err == nil {
			// failures land in the shared error slot shown on the page
			_, _ = h.store.List(c.Request.Context(), id)
		}
	}

	page.State = h.store.Snapshot()
	page.Loading = page.State.Loading(store.OpList)
	if drafts, err := h.drafts.ListDrafts(); err == nil {
		page.Drafts = drafts
	}

	c.HTML(http.StatusOK, "list.html", page)
}

func (h *Handler) uiSession(c *gin.Context) {
	if token := c.PostForm("token"); token != "" {
		h.session.SetToken(token)
	} else {
		h.session.Clear()
	}
	c.Redirect(http.StatusSeeOther, "/_ui/?deviceId="+url.QueryEscape(c.PostForm("deviceId")))
}

func (h *Handler) uiDismissError(c *gin.Context) {
	h.store.DismissError()
	back := c.PostForm("back")
	if !strings.HasPrefix(back, "/_ui/") {
		back = "/_ui/"
	}
	c.Redirect(http.StatusSeeOther, back)
}

func (h *Handler) uiNewDraft(c *gin.Context) {
	deviceID, _ := strconv.ParseInt(c.PostForm("deviceId"), 10, 64)

	var configID *int64
	if v := c.PostForm("configId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			c.String(http.StatusBadRequest, "invalid configuration id")
			return
		}
		configID = &id
	}
	if deviceID == 0 && configID == nil {
		c.String(http.StatusBadRequest, "a device id is required")
		return
	}

	d, _, err := h.newDraft(deviceID, configID)
	if err != nil {
		if errors.Is(err, errConfigNotCached) {
			c.String(http.StatusNotFound, err.Error())
			return
		}
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	c.Redirect(http.StatusSeeOther, "/_ui/drafts/"+d.ID)
}

func (h *Handler) uiWizard(c *gin.Context) {
	d, w, err := h.loadDraft(c.Param("id"))
	if err != nil {
		c.String(http.StatusNotFound, "draft not found")
		return
	}
	h.renderWizard(c, http.StatusOK, d, w, "")
}

func (h *Handler) uiWizardPost(c *gin.Context) {
	defer h.draftLocks.lock(c.Param("id"))()

	d, w, err := h.loadDraft(c.Param("id"))
	if err != nil {
		c.String(http.StatusNotFound, "draft not found")
		return
	}

	if err := applyScreenForm(c, w); err != nil {
		h.renderWizard(c, http.StatusBadRequest, d, w, err.Error())
		return
	}

	action := c.PostForm("action")
	status := http.StatusOK
	var message string

	switch {
	case action == "next":
		if !w.Advance() {
			status = http.StatusUnprocessableEntity
		}
	case action == "back":
		w.Retreat()
	case action == "cancel":
		if err := h.drafts.DeleteDraft(d.ID); err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		c.Redirect(http.StatusSeeOther, listURL(d.DeviceID))
		return
	case action == "save":
		_, saveErr := h.saveDraft(c.Request.Context(), d, w)
		if saveErr == nil {
			c.Redirect(http.StatusSeeOther, listURL(d.DeviceID))
			return
		}
		status = http.StatusUnprocessableEntity
		var verr *wizard.ValidationError
		if !errors.As(saveErr, &verr) {
			status = http.StatusBadGateway
			message = client.Message(saveErr)
		}
	case strings.HasPrefix(action, "add:"):
		err = w.AddPair(wizard.List(strings.TrimPrefix(action, "add:")))
	case strings.HasPrefix(action, "remove:"):
		err = removeAction(w, strings.TrimPrefix(action, "remove:"))
	case strings.HasPrefix(action, "insert:"):
		err = w.InsertPlaceholder(strings.TrimPrefix(action, "insert:"))
	}
	if err != nil {
		status = http.StatusBadRequest
		message = err.Error()
	}

	if err := h.persist(d, w); err != nil {
		c.String(http.StatusInternalServerError, err.Error())
		return
	}
	h.renderWizard(c, status, d, w, message)
}

// removeAction parses "<list>:<index>"
func removeAction(w *wizard.Wizard, arg string) error {
	name, idx, ok := strings.Cut(arg, ":")
	if !ok {
		return wizard.ErrIndexOutOfRange
	}
	index, err := strconv.Atoi(idx)
	if err != nil {
		return wizard.ErrIndexOutOfRange
	}
	return w.RemovePair(wizard.List(name), index)
}

// applyScreenForm copies the posted fields of the current step into the
// wizard. Checkboxes post a hidden "false" before the box, so the last
// value wins.
func applyScreenForm(c *gin.Context, w *wizard.Wizard) error {
	fields := make(map[string]string)
	for _, name := range scalarFields {
		if values, ok := c.GetPostFormArray(name); ok && len(values) > 0 {
			fields[name] = values[len(values)-1]
		}
	}
	if err := applyFields(w, fields); err != nil {
		return err
	}

	for _, list := range []wizard.List{wizard.ListHeaders, wizard.ListCustomParams} {
		keys, ok := c.GetPostFormArray(string(list) + ".key")
		if !ok {
			continue
		}
		values := c.PostFormArray(string(list) + ".value")
		if err := replacePairs(w, list, keys, values); err != nil {
			return err
		}
	}

	if v := c.PostForm("cursor"); v != "" {
		if pos, err := strconv.Atoi(v); err == nil {
			w.SetCursor(pos)
		}
	}
	return nil
}

func replacePairs(w *wizard.Wizard, list wizard.List, keys, values []string) error {
	current := pairsOf(w.Form(), list)
	for i := len(current) - 1; i >= 0; i-- {
		if err := w.RemovePair(list, i); err != nil {
			return err
		}
	}

	for i, key := range keys {
		value := ""
		if i < len(values) {
			value = values[i]
		}
		if err := w.AddPair(list); err != nil {
			return err
		}
		if err := w.UpdatePair(list, i, wizard.PartKey, key); err != nil {
			return err
		}
		if err := w.UpdatePair(list, i, wizard.PartValue, value); err != nil {
			return err
		}
	}
	return nil
}

func pairsOf(form models.FormData, list wizard.List) []models.KeyValue {
	if list == wizard.ListCustomParams {
		return form.CustomParams
	}
	return form.Headers
}

func rows(pairs []models.KeyValue) []pairRow {
	out := make([]pairRow, len(pairs))
	for i, kv := range pairs {
		out[i] = pairRow{Index: i, Key: kv.Key, Value: kv.Value}
	}
	return out
}

func (h *Handler) renderWizard(c *gin.Context, status int, d *models.Draft, w *wizard.Wizard, message string) {
	form := w.Form()
	state := h.store.Snapshot()

	page := wizardPage{
		Draft:        d,
		Form:         form,
		Step:         int(w.Step()),
		StepName:     w.Step().String(),
		LastStep:     w.IsLastStep(),
		IsEdit:       w.IsEdit(),
		Errors:       w.Errors(),
		Message:      message,
		StoreError:   state.Error,
		Methods:      models.ValidMethods(),
		Headers:      rows(form.Headers),
		CustomParams: rows(form.CustomParams),
		Saving:       state.Loading(store.OpCreate) || state.Loading(store.OpUpdate),
	}
	for _, s := range wizard.Steps() {
		page.Steps = append(page.Steps, stepLink{
			Index:   int(s),
			Name:    s.String(),
			Current: s == w.Step(),
			Done:    s < w.Step(),
		})
	}
	for _, tok := range placeholder.All() {
		page.Placeholders = append(page.Placeholders, placeholderRow{Token: tok, Description: placeholder.Description(tok)})
	}

	if w.IsLastStep() && form.RequestBody != "" {
		preview, err := h.preview.Preview(form.RequestBody, placeholder.Sample{
			Message:   "hello",
			Sender:    "+15550100",
			DeviceID:  d.DeviceID,
			Timestamp: h.now(),
		})
		if err == nil {
			page.Preview = preview
			page.Notice = previewNotice
		}
		page.Unknown = placeholder.Unknown(form.RequestBody)
	}

	c.HTML(status, "wizard.html", page)
}

func (h *Handler) uiDelete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid configuration id")
		return
	}

	var deviceID int64
	if cfg, ok := h.store.Snapshot().Find(id); ok {
		deviceID = cfg.DeviceID
	}
	// a failure is shown through the shared error slot
	_ = h.store.Delete(c.Request.Context(), id)
	c.Redirect(http.StatusSeeOther, listURL(deviceID))
}

func (h *Handler) uiTest(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid configuration id")
		return
	}

	cfg, ok := h.store.Snapshot().Find(id)
	if !ok {
		c.String(http.StatusNotFound, "configuration is not in the listed collection")
		return
	}

	// a fresh test screen starts without a previous result
	h.store.ClearTestResult()
	c.HTML(http.StatusOK, "test.html", testPage{Config: cfg})
}

func (h *Handler) uiTestPost(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.String(http.StatusBadRequest, "invalid configuration id")
		return
	}

	state := h.store.Snapshot()
	cfg, ok := state.Find(id)
	if !ok {
		c.String(http.StatusNotFound, "configuration is not in the listed collection")
		return
	}

	page := testPage{Config: cfg, Message: c.PostForm("testMessage")}
	status := http.StatusOK
	if page.Message == "" {
		page.Error = "Enter a test message"
		status = http.StatusBadRequest
	} else if _, err := h.store.Test(c.Request.Context(), id, page.Message); err != nil {
		page.Error = client.Message(err)
		status = http.StatusBadGateway
	}

	state = h.store.Snapshot()
	page.Result = state.TestResult
	page.Loading = state.Loading(store.OpTest)
	c.HTML(status, "test.html", page)
}
