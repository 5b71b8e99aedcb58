package wizard

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/prasenjit/go-apibot/internal/models"
)

// Field identifiers used by SetField and in validation error maps
const (
	FieldName              = "name"
	FieldTriggerText       = "triggerText"
	FieldAPIEndpoint       = "apiEndpoint"
	FieldHTTPMethod        = "httpMethod"
	FieldRequestBody       = "requestBody"
	FieldIncludeSender     = "includeSender"
	FieldTimeout           = "timeout"
	FieldIsActive          = "isActive"
	FieldBasicAuthEnabled  = "basicAuthEnabled"
	FieldBasicAuthUsername = "basicAuth.username"
	FieldBasicAuthPassword = "basicAuth.password"
)

// Validation messages shown next to the offending field
const (
	MsgNameRequired     = "Name is required"
	MsgTriggerRequired  = "Trigger text is required"
	MsgEndpointRequired = "API endpoint is required"
	MsgEndpointScheme   = "API endpoint must start with http:// or https://"
	MsgBodyInvalidJSON  = "Request body must be valid JSON"
)

// ValidationError carries field-scoped validation failures. It never leaves
// the wizard's caller and is never placed in shared store state.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Has reports whether field failed validation
func (e *ValidationError) Has(field string) bool {
	_, ok := e.Fields[field]
	return ok
}

// ValidateStep runs the rules for a single step and returns field errors.
// An empty map means the step is clean.
func ValidateStep(step Step, form *models.FormData) map[string]string {
	errs := make(map[string]string)

	switch step {
	case StepBasicInfo:
		if strings.TrimSpace(form.Name) == "" {
			errs[FieldName] = MsgNameRequired
		}
		if strings.TrimSpace(form.TriggerText) == "" {
			errs[FieldTriggerText] = MsgTriggerRequired
		}
	case StepEndpoint:
		switch {
		case form.APIEndpoint == "":
			errs[FieldAPIEndpoint] = MsgEndpointRequired
		case !hasHTTPScheme(form.APIEndpoint):
			errs[FieldAPIEndpoint] = MsgEndpointScheme
		}
	case StepRequest:
		if form.HTTPMethod != models.MethodGet && form.RequestBody != "" && !json.Valid([]byte(form.RequestBody)) {
			errs[FieldRequestBody] = MsgBodyInvalidJSON
		}
	case StepAuthentication, StepReview:
		// nothing required
	}

	return errs
}

// ValidateAll runs every step's rules and merges the results
func ValidateAll(form *models.FormData) map[string]string {
	errs := make(map[string]string)
	for _, step := range Steps() {
		for k, v := range ValidateStep(step, form) {
			errs[k] = v
		}
	}
	return errs
}

func hasHTTPScheme(endpoint string) bool {
	return strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://")
}
