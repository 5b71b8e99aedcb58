package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/prasenjit/go-apibot/internal/models"
)

// DefaultBasePath is the path prefix of the bot configuration API
const DefaultBasePath = "/api-bot"

// ErrMissingToken is returned when no bearer token is available. No request is sent.
var ErrMissingToken = errors.New("authentication token is missing")

// APIError is a non-success answer from the backend
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
}

// TokenSource supplies the bearer token for each request
type TokenSource interface {
	Token() string
}

// StaticToken is a fixed TokenSource
type StaticToken string

// Token returns the token
func (t StaticToken) Token() string { return string(t) }

// Options configures a Client
type Options struct {
	BaseURL    string
	BasePath   string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client is a typed client for the /api-bot REST API
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
}

// New creates a client. BasePath defaults to /api-bot and Timeout to 30s.
func New(opts Options, tokens TokenSource) *Client {
	basePath := opts.BasePath
	if basePath == "" {
		basePath = DefaultBasePath
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/") + strings.TrimRight(basePath, "/"),
		tokens:  tokens,
		http:    httpClient,
	}
}

// BaseURL returns the resolved API root, including the base path
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ListConfigs returns all configurations of a device
func (c *Client) ListConfigs(ctx context.Context, deviceID int64) ([]models.BotConfig, error) {
	query := url.Values{}
	query.Set("deviceId", strconv.FormatInt(deviceID, 10))

	var configs []models.BotConfig
	if err := c.do(ctx, http.MethodGet, "/configs?"+query.Encode(), nil, &configs); err != nil {
		return nil, err
	}
	if configs == nil {
		configs = []models.BotConfig{}
	}
	return configs, nil
}

// CreateConfig creates a configuration and returns it as stored by the backend
func (c *Client) CreateConfig(ctx context.Context, req *models.CreateBotRequest) (*models.BotConfig, error) {
	var cfg models.BotConfig
	if err := c.do(ctx, http.MethodPost, "/configs", req, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpdateConfig applies a partial update and returns the updated configuration
func (c *Client) UpdateConfig(ctx context.Context, id int64, req *models.UpdateBotRequest) (*models.BotConfig, error) {
	var cfg models.BotConfig
	if err := c.do(ctx, http.MethodPut, configPath(id), req, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DeleteConfig deletes a configuration
func (c *Client) DeleteConfig(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, configPath(id), nil, nil)
}

// TestConfig runs a configuration against a sample message
func (c *Client) TestConfig(ctx context.Context, id int64, message string) (*models.TestResult, error) {
	var result models.TestResult
	body := &models.TestRequest{TestMessage: message}
	if err := c.do(ctx, http.MethodPost, configPath(id)+"/test", body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func configPath(id int64) string {
	return "/configs/" + strconv.FormatInt(id, 10)
}

// do sends one request and decodes the envelope's data into out (when non-nil)
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token := ""
	if c.tokens != nil {
		token = c.tokens.Token()
	}
	if token == "" {
		return ErrMissingToken
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("backend request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw, resp.StatusCode)}
	}

	var env models.Envelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if !env.Success {
		return &APIError{StatusCode: resp.StatusCode, Message: errorMessage(raw, 0)}
	}

	if out != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("failed to decode response data: %w", err)
		}
	}
	return nil
}

// errorMessage extracts a human-readable message from an error body
func errorMessage(raw []byte, status int) string {
	if gjson.ValidBytes(raw) {
		for _, key := range []string{"message", "error", "error.message"} {
			if v := gjson.GetBytes(raw, key); v.Type == gjson.String && v.String() != "" {
				return v.String()
			}
		}
	}
	if status != 0 {
		if text := http.StatusText(status); text != "" {
			return text
		}
		return fmt.Sprintf("request failed with status %d", status)
	}
	return "request failed"
}

// Message returns the human-readable message for any client error
func Message(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
