package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasenjit/go-apibot/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, Timeout: 5 * time.Second}, StaticToken("tok"))
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNew_BasePath(t *testing.T) {
	c := New(Options{BaseURL: "http://backend/"}, nil)
	assert.Equal(t, "http://backend/api-bot", c.BaseURL())

	c = New(Options{BaseURL: "http://backend", BasePath: "v2/bots/"}, nil)
	assert.Equal(t, "http://backend/v2/bots", c.BaseURL())
}

func TestListConfigs(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api-bot/configs", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("deviceId"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, `{"success":true,"data":[{"id":1,"name":"a"},{"id":2,"name":"b"}]}`)
	})

	configs, err := c.ListConfigs(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, configs, 2)
	assert.Equal(t, int64(2), configs[1].ID)
}

func TestListConfigs_NullData(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"success":true,"data":null}`)
	})

	configs, err := c.ListConfigs(context.Background(), 1)
	require.NoError(t, err)
	assert.NotNil(t, configs)
	assert.Empty(t, configs)
}

func TestCreateConfig(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api-bot/configs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req models.CreateBotRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Weather", req.Name)
		assert.JSONEq(t, `{"q":"{{message}}"}`, string(req.RequestBody))

		writeJSON(w, http.StatusCreated, `{"success":true,"data":{"id":10,"name":"Weather"},"message":"created"}`)
	})

	cfg, err := c.CreateConfig(context.Background(), &models.CreateBotRequest{
		Name:        "Weather",
		RequestBody: json.RawMessage(`{"q":"{{message}}"}`),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), cfg.ID)
}

func TestUpdateConfig(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api-bot/configs/7", r.URL.Path)

		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"name":"renamed"}`, string(body))

		writeJSON(w, http.StatusOK, `{"success":true,"data":{"id":7,"name":"renamed"}}`)
	})

	name := "renamed"
	cfg, err := c.UpdateConfig(context.Background(), 7, &models.UpdateBotRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", cfg.Name)
}

func TestDeleteConfig(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/api-bot/configs/3", r.URL.Path)
		writeJSON(w, http.StatusOK, `{"success":true,"message":"deleted"}`)
	})

	require.NoError(t, c.DeleteConfig(context.Background(), 3))
}

func TestTestConfig(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api-bot/configs/42/test", r.URL.Path)

		var req models.TestRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hi", req.TestMessage)

		writeJSON(w, http.StatusOK, `{"success":true,"data":{"success":true,"response":{"reply":"hello"}}}`)
	})

	result, err := c.TestConfig(context.Background(), 42, "hi")
	require.NoError(t, err)
	assert.Equal(t, &models.TestResult{Success: true, Response: &models.TestReply{Reply: "hello"}}, result)
}

func TestErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus int
		wantMsg    string
	}{
		{name: "message field", status: http.StatusBadRequest, body: `{"success":false,"message":"Invalid endpoint"}`, wantStatus: 400, wantMsg: "Invalid endpoint"},
		{name: "error field", status: http.StatusNotFound, body: `{"error":"Config not found"}`, wantStatus: 404, wantMsg: "Config not found"},
		{name: "nested error", status: http.StatusConflict, body: `{"error":{"message":"duplicate trigger"}}`, wantStatus: 409, wantMsg: "duplicate trigger"},
		{name: "plain text body", status: http.StatusBadGateway, body: `upstream down`, wantStatus: 502, wantMsg: "Bad Gateway"},
		{name: "success false on 200", status: http.StatusOK, body: `{"success":false,"message":"quota exceeded"}`, wantStatus: 200, wantMsg: "quota exceeded"},
		{name: "success false without message", status: http.StatusOK, body: `{"success":false}`, wantStatus: 200, wantMsg: "request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			err := c.DeleteConfig(context.Background(), 1)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr), "got %v", err)
			assert.Equal(t, tt.wantStatus, apiErr.StatusCode)
			assert.Equal(t, tt.wantMsg, apiErr.Message)
			assert.Equal(t, tt.wantMsg, Message(err))
		})
	}
}

func TestMissingToken_NoRequest(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := New(Options{BaseURL: srv.URL}, StaticToken(""))

	_, err := c.ListConfigs(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrMissingToken))

	c = New(Options{BaseURL: srv.URL}, nil)
	err = c.DeleteConfig(context.Background(), 1)
	assert.True(t, errors.Is(err, ErrMissingToken))

	assert.Equal(t, int32(0), calls.Load())
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := New(Options{BaseURL: url}, StaticToken("tok"))
	_, err := c.ListConfigs(context.Background(), 1)
	require.Error(t, err)

	var apiErr *APIError
	assert.False(t, errors.As(err, &apiErr))
	assert.Contains(t, Message(err), "failed to send request")
}
