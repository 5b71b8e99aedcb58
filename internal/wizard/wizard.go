package wizard

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/prasenjit/go-apibot/internal/models"
	"github.com/prasenjit/go-apibot/internal/placeholder"
)

// Step is a position in the configuration wizard
type Step int

const (
	StepBasicInfo Step = iota
	StepEndpoint
	StepAuthentication
	StepRequest
	StepReview
)

// Steps returns the wizard steps in order
func Steps() []Step {
	return []Step{StepBasicInfo, StepEndpoint, StepAuthentication, StepRequest, StepReview}
}

func (s Step) String() string {
	switch s {
	case StepBasicInfo:
		return "Basic Info"
	case StepEndpoint:
		return "Endpoint"
	case StepAuthentication:
		return "Authentication"
	case StepRequest:
		return "Request Configuration"
	case StepReview:
		return "Review"
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// List names an ordered key/value list in the buffer
type List string

const (
	ListHeaders      List = "headers"
	ListCustomParams List = "customParams"
)

// Pair parts accepted by UpdatePair
const (
	PartKey   = "key"
	PartValue = "value"
)

var (
	ErrUnknownField    = errors.New("unknown field")
	ErrUnknownList     = errors.New("unknown list")
	ErrUnknownPart     = errors.New("unknown pair part")
	ErrIndexOutOfRange = errors.New("pair index out of range")
)

// Wizard owns one edit buffer while it is walked through the steps.
// It never performs I/O; callers hand the saved buffer to the store.
type Wizard struct {
	step      Step
	form      models.FormData
	errors    map[string]string
	cursor    int
	editingID *int64
}

// New creates a wizard with an empty buffer for a new configuration
func New() *Wizard {
	return &Wizard{
		step:   StepBasicInfo,
		form:   models.NewFormData(),
		errors: make(map[string]string),
	}
}

// NewFromConfig creates a wizard seeded from an existing configuration
func NewFromConfig(cfg *models.BotConfig) *Wizard {
	w := New()
	w.form = FromConfig(cfg)
	id := cfg.ID
	w.editingID = &id
	w.cursor = utf8.RuneCountInString(w.form.RequestBody)
	return w
}

// Restore rebuilds a wizard from a persisted draft. Errors start empty.
func Restore(d *models.Draft) *Wizard {
	w := New()
	w.form = d.Form.Clone()
	if w.form.Headers == nil {
		w.form.Headers = []models.KeyValue{}
	}
	if w.form.CustomParams == nil {
		w.form.CustomParams = []models.KeyValue{}
	}
	w.step = clampStep(Step(d.Step))
	w.cursor = placeholder.Clamp(d.Cursor, utf8.RuneCountInString(w.form.RequestBody))
	if d.EditingID != nil {
		id := *d.EditingID
		w.editingID = &id
	}
	return w
}

// Snapshot writes the wizard position and buffer into d
func (w *Wizard) Snapshot(d *models.Draft) {
	d.Step = int(w.step)
	d.Cursor = w.cursor
	d.Form = w.form.Clone()
	d.EditingID = nil
	if w.editingID != nil {
		id := *w.editingID
		d.EditingID = &id
	}
}

func clampStep(s Step) Step {
	if s < StepBasicInfo {
		return StepBasicInfo
	}
	if s > StepReview {
		return StepReview
	}
	return s
}

// Step returns the current step
func (w *Wizard) Step() Step { return w.step }

// IsLastStep reports whether the wizard is on the review step
func (w *Wizard) IsLastStep() bool { return w.step == StepReview }

// Form returns a copy of the edit buffer
func (w *Wizard) Form() models.FormData { return w.form.Clone() }

// Cursor returns the rune offset into the request body
func (w *Wizard) Cursor() int { return w.cursor }

// EditingID returns the id of the configuration being edited, or nil on create
func (w *Wizard) EditingID() *int64 { return w.editingID }

// IsEdit reports whether the wizard edits an existing configuration
func (w *Wizard) IsEdit() bool { return w.editingID != nil }

// Errors returns a copy of the recorded field errors
func (w *Wizard) Errors() map[string]string {
	out := make(map[string]string, len(w.errors))
	for k, v := range w.errors {
		out[k] = v
	}
	return out
}

// Advance validates the current step and moves forward when it is clean.
// On failure the step is unchanged and the errors are recorded.
func (w *Wizard) Advance() bool {
	errs := ValidateStep(w.step, &w.form)
	if len(errs) > 0 {
		w.errors = errs
		return false
	}
	w.errors = make(map[string]string)
	if w.step < StepReview {
		w.step++
	}
	return true
}

// Retreat moves to the previous step without validating
func (w *Wizard) Retreat() {
	if w.step > StepBasicInfo {
		w.step--
	}
}

// Save validates the whole buffer and returns a copy of it when clean.
// On failure it returns a *ValidationError and leaves step and data as they are.
func (w *Wizard) Save() (*models.FormData, error) {
	errs := ValidateAll(&w.form)
	if len(errs) > 0 {
		w.errors = errs
		return nil, &ValidationError{Fields: w.Errors()}
	}
	w.errors = make(map[string]string)
	form := w.form.Clone()
	return &form, nil
}

// SetField sets one scalar field from its text form and clears any error
// recorded for it. Timeouts are clamped to the supported range.
func (w *Wizard) SetField(field, value string) error {
	switch field {
	case FieldName:
		w.form.Name = value
	case FieldTriggerText:
		w.form.TriggerText = value
	case FieldAPIEndpoint:
		w.form.APIEndpoint = value
	case FieldHTTPMethod:
		method := strings.ToUpper(strings.TrimSpace(value))
		if !models.IsValidMethod(method) {
			return fmt.Errorf("unsupported http method %q", value)
		}
		w.form.HTTPMethod = method
	case FieldRequestBody:
		w.form.RequestBody = value
		w.cursor = placeholder.Clamp(w.cursor, utf8.RuneCountInString(value))
	case FieldIncludeSender:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", field, err)
		}
		w.form.IncludeSender = b
	case FieldIsActive:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", field, err)
		}
		w.form.IsActive = b
	case FieldTimeout:
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", field, err)
		}
		w.form.Timeout = ClampTimeout(n)
	case FieldBasicAuthEnabled:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for %s: %w", field, err)
		}
		if !b {
			w.form.BasicAuth = nil
		} else if w.form.BasicAuth == nil {
			w.form.BasicAuth = &models.BasicAuth{}
		}
	case FieldBasicAuthUsername:
		w.ensureAuth().Username = value
	case FieldBasicAuthPassword:
		w.ensureAuth().Password = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	delete(w.errors, field)
	return nil
}

func (w *Wizard) ensureAuth() *models.BasicAuth {
	if w.form.BasicAuth == nil {
		w.form.BasicAuth = &models.BasicAuth{}
	}
	return w.form.BasicAuth
}

// ClampTimeout bounds a timeout to the editor's range
func ClampTimeout(ms int) int {
	if ms < models.MinTimeoutMs {
		return models.MinTimeoutMs
	}
	if ms > models.MaxTimeoutMs {
		return models.MaxTimeoutMs
	}
	return ms
}

func (w *Wizard) list(name List) (*[]models.KeyValue, error) {
	switch name {
	case ListHeaders:
		return &w.form.Headers, nil
	case ListCustomParams:
		return &w.form.CustomParams, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownList, name)
}

// AddPair appends an empty row to the named list
func (w *Wizard) AddPair(name List) error {
	pairs, err := w.list(name)
	if err != nil {
		return err
	}
	*pairs = append(*pairs, models.KeyValue{})
	return nil
}

// UpdatePair sets the key or value of the row at index
func (w *Wizard) UpdatePair(name List, index int, part, value string) error {
	pairs, err := w.list(name)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(*pairs) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	switch part {
	case PartKey:
		(*pairs)[index].Key = value
	case PartValue:
		(*pairs)[index].Value = value
	default:
		return fmt.Errorf("%w: %s", ErrUnknownPart, part)
	}
	return nil
}

// RemovePair deletes the row at index, keeping the order of the others
func (w *Wizard) RemovePair(name List, index int) error {
	pairs, err := w.list(name)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(*pairs) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	out := make([]models.KeyValue, 0, len(*pairs)-1)
	out = append(out, (*pairs)[:index]...)
	out = append(out, (*pairs)[index+1:]...)
	*pairs = out
	return nil
}

// SetCursor moves the request-body cursor, clamped to the body length
func (w *Wizard) SetCursor(pos int) {
	w.cursor = placeholder.Clamp(pos, utf8.RuneCountInString(w.form.RequestBody))
}

// InsertPlaceholder inserts token into the request body at the cursor and
// leaves the cursor right after it.
func (w *Wizard) InsertPlaceholder(token string) error {
	body, cursor, err := placeholder.Insert(w.form.RequestBody, w.cursor, token)
	if err != nil {
		return err
	}
	w.form.RequestBody = body
	w.cursor = cursor
	delete(w.errors, FieldRequestBody)
	return nil
}

// ApplyEndpointTemplate copies an imported endpoint into the buffer.
// Header rows are appended; an existing body is only replaced when the
// template carries one.
func (w *Wizard) ApplyEndpointTemplate(tpl models.EndpointTemplate) error {
	method := strings.ToUpper(tpl.Method)
	if !models.IsValidMethod(method) {
		return fmt.Errorf("unsupported http method %q", tpl.Method)
	}

	w.form.APIEndpoint = tpl.URL
	w.form.HTTPMethod = method
	for _, kv := range ExpandMap(tpl.Headers) {
		w.form.Headers = append(w.form.Headers, kv)
	}
	if tpl.Body != "" {
		w.form.RequestBody = tpl.Body
		w.cursor = utf8.RuneCountInString(tpl.Body)
	}
	if w.form.Name == "" && tpl.Summary != "" {
		w.form.Name = tpl.Summary
		delete(w.errors, FieldName)
	}

	delete(w.errors, FieldAPIEndpoint)
	delete(w.errors, FieldHTTPMethod)
	delete(w.errors, FieldRequestBody)
	return nil
}
