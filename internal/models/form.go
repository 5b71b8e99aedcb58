package models

import "time"

// KeyValue is one editable header or custom parameter row
type KeyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FormData is the editor-shaped representation of a BotConfig.
// Headers and CustomParams keep user entry order and may hold
// duplicate or empty rows while editing; RequestBody is raw text.
type FormData struct {
	Name          string     `json:"name"`
	TriggerText   string     `json:"triggerText"`
	APIEndpoint   string     `json:"apiEndpoint"`
	HTTPMethod    string     `json:"httpMethod"`
	Headers       []KeyValue `json:"headers"`
	CustomParams  []KeyValue `json:"customParams"`
	RequestBody   string     `json:"requestBody"`
	BasicAuth     *BasicAuth `json:"basicAuth"`
	IncludeSender bool       `json:"includeSender"`
	Timeout       int        `json:"timeout"`
	IsActive      bool       `json:"isActive"`
}

// NewFormData returns an empty buffer with editor defaults
func NewFormData() FormData {
	return FormData{
		HTTPMethod:   MethodPost,
		Headers:      []KeyValue{},
		CustomParams: []KeyValue{},
		Timeout:      DefaultTimeoutMs,
		IsActive:     true,
	}
}

// Clone returns a deep copy of the buffer
func (f FormData) Clone() FormData {
	out := f
	out.Headers = append([]KeyValue{}, f.Headers...)
	out.CustomParams = append([]KeyValue{}, f.CustomParams...)
	if f.BasicAuth != nil {
		auth := *f.BasicAuth
		out.BasicAuth = &auth
	}
	return out
}

// Draft is a persisted wizard session
type Draft struct {
	ID        string    `json:"id"`
	DeviceID  int64     `json:"deviceId"`
	EditingID *int64    `json:"editingId,omitempty"` // nil when creating
	Step      int       `json:"step"`
	Cursor    int       `json:"cursor"`
	Form      FormData  `json:"form"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsEdit reports whether the draft edits an existing configuration
func (d *Draft) IsEdit() bool {
	return d.EditingID != nil
}

// EndpointTemplate is an endpoint extracted from an OpenAPI document
type EndpointTemplate struct {
	OperationID string            `json:"operationId"`
	Method      string            `json:"method"`
	URL         string            `json:"url"`
	Summary     string            `json:"summary"`
	Headers     map[string]string `json:"headers,omitempty"`
	Body        string            `json:"body,omitempty"`
}
