package wizard

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/prasenjit/go-apibot/internal/models"
)

// FoldPairs folds ordered key/value rows into a map. Rows with an empty key
// or an empty value are dropped; for duplicate keys the later row wins.
func FoldPairs(pairs []models.KeyValue) map[string]string {
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		if p.Key == "" || p.Value == "" {
			continue
		}
		out[p.Key] = p.Value
	}
	return out
}

// SurvivingPairs returns the rows FoldPairs keeps, in entry order
func SurvivingPairs(pairs []models.KeyValue) []models.KeyValue {
	out := make([]models.KeyValue, 0, len(pairs))
	for _, p := range pairs {
		if p.Key == "" || p.Value == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ExpandMap turns a wire map into editor rows sorted by key
func ExpandMap(m map[string]string) []models.KeyValue {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]models.KeyValue, 0, len(keys))
	for _, k := range keys {
		out = append(out, models.KeyValue{Key: k, Value: m[k]})
	}
	return out
}

// parseBody converts the body text buffer to wire JSON. An empty buffer
// yields nil so the field is omitted from the request.
func parseBody(text string) (json.RawMessage, error) {
	if text == "" {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(text)); err != nil {
		return nil, &ValidationError{Fields: map[string]string{FieldRequestBody: MsgBodyInvalidJSON}}
	}
	return json.RawMessage(buf.Bytes()), nil
}

// formatBody pretty-prints wire JSON with a two-space indent
func formatBody(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, trimmed, "", "  "); err != nil {
		return string(trimmed)
	}
	return buf.String()
}

func copyAuth(auth *models.BasicAuth) *models.BasicAuth {
	if auth == nil {
		return nil
	}
	c := *auth
	return &c
}

// requestAuth drops credentials without a username so a ticked but empty
// auth step sends no basicAuth at all
func requestAuth(auth *models.BasicAuth) *models.BasicAuth {
	if auth == nil || strings.TrimSpace(auth.Username) == "" {
		return nil
	}
	return copyAuth(auth)
}

// ToCreateRequest converts a finished buffer into a create request for deviceID
func ToCreateRequest(form models.FormData, deviceID int64) (*models.CreateBotRequest, error) {
	body, err := parseBody(form.RequestBody)
	if err != nil {
		return nil, err
	}

	return &models.CreateBotRequest{
		DeviceID:      deviceID,
		Name:          form.Name,
		TriggerText:   form.TriggerText,
		APIEndpoint:   form.APIEndpoint,
		HTTPMethod:    form.HTTPMethod,
		Headers:       FoldPairs(form.Headers),
		CustomParams:  FoldPairs(form.CustomParams),
		RequestBody:   body,
		BasicAuth:     requestAuth(form.BasicAuth),
		IncludeSender: form.IncludeSender,
		Timeout:       form.Timeout,
		IsActive:      form.IsActive,
	}, nil
}

// ToUpdateRequest converts a finished buffer into a partial update request.
// Every editable field is sent; an empty body or absent basic auth is omitted.
func ToUpdateRequest(form models.FormData) (*models.UpdateBotRequest, error) {
	body, err := parseBody(form.RequestBody)
	if err != nil {
		return nil, err
	}

	headers := FoldPairs(form.Headers)
	params := FoldPairs(form.CustomParams)

	return &models.UpdateBotRequest{
		Name:          &form.Name,
		TriggerText:   &form.TriggerText,
		APIEndpoint:   &form.APIEndpoint,
		HTTPMethod:    &form.HTTPMethod,
		Headers:       &headers,
		CustomParams:  &params,
		RequestBody:   body,
		BasicAuth:     requestAuth(form.BasicAuth),
		IncludeSender: &form.IncludeSender,
		Timeout:       &form.Timeout,
		IsActive:      &form.IsActive,
	}, nil
}

// FromConfig seeds an edit buffer from a fetched configuration
func FromConfig(cfg *models.BotConfig) models.FormData {
	method := cfg.HTTPMethod
	if method == "" {
		method = models.MethodPost
	}

	return models.FormData{
		Name:          cfg.Name,
		TriggerText:   cfg.TriggerText,
		APIEndpoint:   cfg.APIEndpoint,
		HTTPMethod:    method,
		Headers:       ExpandMap(cfg.Headers),
		CustomParams:  ExpandMap(cfg.CustomParams),
		RequestBody:   formatBody(cfg.RequestBody),
		BasicAuth:     copyAuth(cfg.BasicAuth),
		IncludeSender: cfg.IncludeSender,
		Timeout:       cfg.Timeout,
		IsActive:      cfg.IsActive,
	}
}
