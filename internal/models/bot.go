package models

import (
	"encoding/json"
	"time"
)

// Supported HTTP methods for an outgoing bot call
const (
	MethodGet    = "GET"
	MethodPost   = "POST"
	MethodPut    = "PUT"
	MethodDelete = "DELETE"
	MethodPatch  = "PATCH"
)

// Timeout bounds enforced by the editor (milliseconds)
const (
	MinTimeoutMs     = 1000
	MaxTimeoutMs     = 30000
	DefaultTimeoutMs = 10000
)

// ValidMethods returns all supported HTTP methods in display order
func ValidMethods() []string {
	return []string{MethodGet, MethodPost, MethodPut, MethodDelete, MethodPatch}
}

// IsValidMethod reports whether method is one of the supported HTTP methods
func IsValidMethod(method string) bool {
	for _, m := range ValidMethods() {
		if m == method {
			return true
		}
	}
	return false
}

// BasicAuth is a username/password pair attached to outgoing calls
type BasicAuth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// BotConfig is an API bot configuration as persisted by the backend
type BotConfig struct {
	ID            int64             `json:"id"`
	UserID        int64             `json:"userId"`
	DeviceID      int64             `json:"deviceId"`
	Name          string            `json:"name"`
	TriggerText   string            `json:"triggerText"`
	APIEndpoint   string            `json:"apiEndpoint"`
	HTTPMethod    string            `json:"httpMethod"`
	Headers       map[string]string `json:"headers"`
	CustomParams  map[string]string `json:"customParams"`
	RequestBody   json.RawMessage   `json:"requestBody,omitempty"`
	BasicAuth     *BasicAuth        `json:"basicAuth,omitempty"`
	IncludeSender bool              `json:"includeSender"`
	Timeout       int               `json:"timeout"`
	IsActive      bool              `json:"isActive"`
	CreatedAt     time.Time         `json:"createdAt"`
	UpdatedAt     time.Time         `json:"updatedAt"`
}

// Clone returns a deep copy of the configuration
func (c BotConfig) Clone() BotConfig {
	out := c
	out.Headers = cloneMap(c.Headers)
	out.CustomParams = cloneMap(c.CustomParams)
	if c.RequestBody != nil {
		out.RequestBody = append(json.RawMessage{}, c.RequestBody...)
	}
	if c.BasicAuth != nil {
		auth := *c.BasicAuth
		out.BasicAuth = &auth
	}
	return out
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CreateBotRequest is the wire body for creating a configuration
type CreateBotRequest struct {
	DeviceID      int64             `json:"deviceId"`
	Name          string            `json:"name"`
	TriggerText   string            `json:"triggerText"`
	APIEndpoint   string            `json:"apiEndpoint"`
	HTTPMethod    string            `json:"httpMethod"`
	Headers       map[string]string `json:"headers"`
	CustomParams  map[string]string `json:"customParams"`
	RequestBody   json.RawMessage   `json:"requestBody,omitempty"`
	BasicAuth     *BasicAuth        `json:"basicAuth,omitempty"`
	IncludeSender bool              `json:"includeSender"`
	Timeout       int               `json:"timeout"`
	IsActive      bool              `json:"isActive"`
}

// UpdateBotRequest is the partial wire body for updating a configuration.
// Nil fields are left unchanged by the backend.
type UpdateBotRequest struct {
	Name          *string            `json:"name,omitempty"`
	TriggerText   *string            `json:"triggerText,omitempty"`
	APIEndpoint   *string            `json:"apiEndpoint,omitempty"`
	HTTPMethod    *string            `json:"httpMethod,omitempty"`
	Headers       *map[string]string `json:"headers,omitempty"`
	CustomParams  *map[string]string `json:"customParams,omitempty"`
	RequestBody   json.RawMessage    `json:"requestBody,omitempty"`
	BasicAuth     *BasicAuth         `json:"basicAuth,omitempty"`
	IncludeSender *bool              `json:"includeSender,omitempty"`
	Timeout       *int               `json:"timeout,omitempty"`
	IsActive      *bool              `json:"isActive,omitempty"`
}

// TestRequest is the wire body for a test run
type TestRequest struct {
	TestMessage string `json:"testMessage"`
}

// TestReply is the bot reply produced by a test run
type TestReply struct {
	Reply string `json:"reply"`
	Media string `json:"media,omitempty"`
}

// TestResult is the outcome of invoking a configuration against a sample message
type TestResult struct {
	Success  bool       `json:"success"`
	Response *TestReply `json:"response,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// Clone returns a deep copy of the result
func (r TestResult) Clone() TestResult {
	out := r
	if r.Response != nil {
		reply := *r.Response
		out.Response = &reply
	}
	return out
}

// Envelope is the response wrapper used by every backend endpoint
type Envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
