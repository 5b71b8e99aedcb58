package api

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/prasenjit/go-apibot/internal/client"
	"github.com/prasenjit/go-apibot/internal/storage"
)

func createDraft(t *testing.T, env *testEnv, body map[string]interface{}) draftResponse {
	t.Helper()

	w := env.do(t, "POST", "/_api/drafts", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	var d draftResponse
	decode(t, w, &d)
	return d
}

type draftResponse struct {
	ID        string            `json:"id"`
	DeviceID  int64             `json:"deviceId"`
	EditingID *int64            `json:"editingId"`
	Step      int               `json:"step"`
	Cursor    int               `json:"cursor"`
	StepName  string            `json:"stepName"`
	LastStep  bool              `json:"lastStep"`
	Errors    map[string]string `json:"errors"`
	Form      struct {
		Name        string `json:"name"`
		APIEndpoint string `json:"apiEndpoint"`
		HTTPMethod  string `json:"httpMethod"`
		RequestBody string `json:"requestBody"`
		Timeout     int    `json:"timeout"`
		Headers     []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"headers"`
	} `json:"form"`
}

func draftCall(t *testing.T, env *testEnv, method, path string, body interface{}, wantStatus int) draftResponse {
	t.Helper()

	w := env.do(t, method, path, body)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d: %s", method, path, wantStatus, w.Code, w.Body.String())
	}
	var d draftResponse
	decode(t, w, &d)
	return d
}

func TestCreateDraft(t *testing.T) {
	env := setupTestRouter(t)

	d := createDraft(t, env, map[string]interface{}{"deviceId": 7})
	if d.ID == "" {
		t.Fatal("Expected draft id")
	}
	if d.Step != 0 || d.StepName != "Basic Info" {
		t.Errorf("Expected first step, got %d %q", d.Step, d.StepName)
	}
	if d.EditingID != nil {
		t.Error("Expected create mode")
	}
	if d.Form.HTTPMethod != "POST" || d.Form.Timeout != 10000 {
		t.Errorf("Expected editor defaults, got %+v", d.Form)
	}

	w := env.do(t, "POST", "/_api/drafts", map[string]interface{}{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without device, got %d", w.Code)
	}

	w = env.do(t, "POST", "/_api/drafts", map[string]interface{}{"configId": 99})
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for uncached config, got %d", w.Code)
	}
}

func TestDraftWizardFlow_Create(t *testing.T) {
	env := setupTestRouter(t)
	d := createDraft(t, env, map[string]interface{}{"deviceId": 7})
	base := "/_api/drafts/" + d.ID

	// Step 1 blocks until name and trigger are present
	got := draftCall(t, env, "POST", base+"/advance", nil, http.StatusUnprocessableEntity)
	if got.Step != 0 {
		t.Errorf("Expected step to stay 0, got %d", got.Step)
	}
	if got.Errors["name"] == "" || got.Errors["triggerText"] == "" {
		t.Errorf("Expected name and trigger errors, got %v", got.Errors)
	}

	draftCall(t, env, "PATCH", base+"/fields", map[string]interface{}{
		"name":        "Weather",
		"triggerText": "!weather",
		"isActive":    true,
	}, http.StatusOK)
	got = draftCall(t, env, "POST", base+"/advance", nil, http.StatusOK)
	if got.Step != 1 {
		t.Fatalf("Expected step 1, got %d", got.Step)
	}

	draftCall(t, env, "PATCH", base+"/fields", map[string]interface{}{
		"apiEndpoint": "https://api.weather.example.com/now",
		"httpMethod":  "post",
	}, http.StatusOK)
	draftCall(t, env, "POST", base+"/advance", nil, http.StatusOK)
	got = draftCall(t, env, "POST", base+"/advance", nil, http.StatusOK)
	if got.Step != 3 {
		t.Fatalf("Expected request step, got %d", got.Step)
	}

	// Request step: two header rows, one left empty
	draftCall(t, env, "POST", base+"/lists/headers", nil, http.StatusOK)
	draftCall(t, env, "POST", base+"/lists/headers", nil, http.StatusOK)
	key, value := "X-Key", "abc"
	draftCall(t, env, "PUT", base+"/lists/headers/0", map[string]*string{"key": &key, "value": &value}, http.StatusOK)

	draftCall(t, env, "PATCH", base+"/fields", map[string]interface{}{
		"requestBody": `{"q": ""}`,
		"timeout":     50000,
	}, http.StatusOK)
	got = draftCall(t, env, "POST", base+"/placeholders", map[string]interface{}{
		"token":  "{{message}}",
		"cursor": 7,
	}, http.StatusOK)
	if got.Form.RequestBody != `{"q": "{{message}}"}` {
		t.Errorf("Unexpected body after insert: %q", got.Form.RequestBody)
	}
	if got.Cursor != 7+len("{{message}}") {
		t.Errorf("Expected cursor after token, got %d", got.Cursor)
	}
	if got.Form.Timeout != 30000 {
		t.Errorf("Expected timeout clamped to 30000, got %d", got.Form.Timeout)
	}

	got = draftCall(t, env, "POST", base+"/advance", nil, http.StatusOK)
	if !got.LastStep {
		t.Fatalf("Expected review step, got %d", got.Step)
	}

	w := env.do(t, "GET", base+"/preview?message=rain", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var preview map[string]interface{}
	decode(t, w, &preview)
	if !strings.Contains(preview["preview"].(string), `"rain"`) {
		t.Errorf("Expected sample message in preview, got %v", preview["preview"])
	}
	if preview["notice"] == "" {
		t.Error("Expected preview notice")
	}

	w = env.do(t, "POST", base+"/save", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	if len(env.backend.created) != 1 {
		t.Fatalf("Expected one create call, got %d", len(env.backend.created))
	}
	req := env.backend.created[0]
	if req.DeviceID != 7 || req.HTTPMethod != "POST" {
		t.Errorf("Unexpected create request %+v", req)
	}
	if len(req.Headers) != 1 || req.Headers["X-Key"] != "abc" {
		t.Errorf("Expected empty header row to be dropped, got %v", req.Headers)
	}
	if string(req.RequestBody) != `{"q":"{{message}}"}` {
		t.Errorf("Unexpected request body %s", req.RequestBody)
	}

	if _, err := env.drafts.GetDraft(d.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected draft to be removed after save, got %v", err)
	}
	if len(env.store.Snapshot().Configs) != 1 {
		t.Error("Expected created config in the collection")
	}
}

func TestDraftRetreat(t *testing.T) {
	env := setupTestRouter(t)
	d := createDraft(t, env, map[string]interface{}{"deviceId": 7})
	base := "/_api/drafts/" + d.ID

	draftCall(t, env, "PATCH", base+"/fields", map[string]interface{}{"name": "a", "triggerText": "b"}, http.StatusOK)
	draftCall(t, env, "POST", base+"/advance", nil, http.StatusOK)

	got := draftCall(t, env, "POST", base+"/retreat", nil, http.StatusOK)
	if got.Step != 0 {
		t.Errorf("Expected step 0, got %d", got.Step)
	}
	got = draftCall(t, env, "POST", base+"/retreat", nil, http.StatusOK)
	if got.Step != 0 {
		t.Errorf("Expected retreat at first step to stay, got %d", got.Step)
	}
}

func TestSaveDraft_InvalidKeepsDraft(t *testing.T) {
	env := setupTestRouter(t)
	d := createDraft(t, env, map[string]interface{}{"deviceId": 7})
	base := "/_api/drafts/" + d.ID

	draftCall(t, env, "PATCH", base+"/fields", map[string]interface{}{
		"name":        "Files",
		"triggerText": "!files",
		"apiEndpoint": "ftp://x",
	}, http.StatusOK)

	w := env.do(t, "POST", base+"/save", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("Expected status 422, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "http://") {
		t.Errorf("Expected scheme message, got %s", w.Body.String())
	}
	if env.backend.calls != 0 {
		t.Error("Invalid save must not reach the backend")
	}

	stored, err := env.drafts.GetDraft(d.ID)
	if err != nil {
		t.Fatalf("Expected draft to survive: %v", err)
	}
	if stored.Form.APIEndpoint != "ftp://x" || stored.Step != 0 {
		t.Errorf("Expected data and step unchanged, got %+v", stored)
	}
}

func TestSaveDraft_BackendErrorKeepsDraft(t *testing.T) {
	env := setupTestRouter(t)
	d := createDraft(t, env, map[string]interface{}{"deviceId": 7})
	base := "/_api/drafts/" + d.ID

	draftCall(t, env, "PATCH", base+"/fields", map[string]interface{}{
		"name":        "Weather",
		"triggerText": "!weather",
		"apiEndpoint": "https://api.example.com",
	}, http.StatusOK)

	env.backend.err = &client.APIError{StatusCode: 409, Message: "trigger already used"}
	w := env.do(t, "POST", base+"/save", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("Expected status 502, got %d", w.Code)
	}
	if env.store.Snapshot().Error != "trigger already used" {
		t.Errorf("Expected backend message in error slot, got %q", env.store.Snapshot().Error)
	}
	if _, err := env.drafts.GetDraft(d.ID); err != nil {
		t.Errorf("Expected draft to survive a failed save: %v", err)
	}
}

func TestDraftWizardFlow_Edit(t *testing.T) {
	cfg := sampleConfig(5, 7, "Weather")
	env := setupTestRouter(t, cfg)
	env.do(t, "GET", "/_api/configs?deviceId=7", nil)

	d := createDraft(t, env, map[string]interface{}{"configId": 5})
	if d.EditingID == nil || *d.EditingID != 5 {
		t.Fatalf("Expected edit mode for config 5, got %v", d.EditingID)
	}
	if d.DeviceID != 7 {
		t.Errorf("Expected device from the config, got %d", d.DeviceID)
	}
	if d.Form.Name != "Weather" || len(d.Form.Headers) != 1 {
		t.Errorf("Expected buffer seeded from config, got %+v", d.Form)
	}

	base := "/_api/drafts/" + d.ID
	draftCall(t, env, "PATCH", base+"/fields", map[string]interface{}{"name": "Forecast"}, http.StatusOK)

	w := env.do(t, "POST", base+"/save", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	req := env.backend.updated[5]
	if req == nil || *req.Name != "Forecast" {
		t.Fatalf("Expected update with new name, got %+v", req)
	}
	if (*req.Headers)["X-Key"] != "abc" {
		t.Errorf("Expected headers to round-trip, got %v", *req.Headers)
	}
	if len(env.backend.created) != 0 {
		t.Error("Edit must not create")
	}
}

func TestDraftMutations_Errors(t *testing.T) {
	env := setupTestRouter(t)
	d := createDraft(t, env, map[string]interface{}{"deviceId": 7})
	base := "/_api/drafts/" + d.ID

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"unknown field", "PATCH", base + "/fields", map[string]interface{}{"color": "red"}, http.StatusBadRequest},
		{"bad method", "PATCH", base + "/fields", map[string]interface{}{"httpMethod": "TRACE"}, http.StatusBadRequest},
		{"unknown list", "POST", base + "/lists/cookies", nil, http.StatusBadRequest},
		{"index out of range", "DELETE", base + "/lists/headers/3", nil, http.StatusBadRequest},
		{"bad index", "DELETE", base + "/lists/headers/x", nil, http.StatusBadRequest},
		{"unknown placeholder", "POST", base + "/placeholders", map[string]string{"token": "{{user}}"}, http.StatusBadRequest},
		{"missing draft", "GET", "/_api/drafts/nope", nil, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
		})
	}

	// a failing batch leaves the stored draft untouched
	env.do(t, "PATCH", base+"/fields", map[string]interface{}{"name": "kept?", "httpMethod": "TRACE"})
	stored, _ := env.drafts.GetDraft(d.ID)
	if stored.Form.Name != "" {
		t.Errorf("Expected name unchanged after failed batch, got %q", stored.Form.Name)
	}
}

func TestImportDraftEndpoint(t *testing.T) {
	env := setupTestRouter(t)
	d := createDraft(t, env, map[string]interface{}{"deviceId": 7})
	base := "/_api/drafts/" + d.ID

	w := env.do(t, "POST", base+"/import", map[string]string{"content": petSpec})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 when the operation is ambiguous, got %d", w.Code)
	}

	got := draftCall(t, env, "POST", base+"/import", map[string]string{
		"content":     petSpec,
		"operationId": "createPet",
	}, http.StatusOK)

	if got.Form.APIEndpoint != "https://pets.example.com/v1/pets" {
		t.Errorf("Unexpected endpoint %q", got.Form.APIEndpoint)
	}
	if got.Form.HTTPMethod != "POST" {
		t.Errorf("Unexpected method %q", got.Form.HTTPMethod)
	}
	if got.Form.Name != "Create pet" {
		t.Errorf("Expected name from summary, got %q", got.Form.Name)
	}
	if !strings.Contains(got.Form.RequestBody, "{{message}}") {
		t.Errorf("Expected example body, got %q", got.Form.RequestBody)
	}

	headers := map[string]string{}
	for _, h := range got.Form.Headers {
		headers[h.Key] = h.Value
	}
	if headers["X-Api-Key"] != "secret" || headers["Content-Type"] != "application/json" {
		t.Errorf("Unexpected headers %v", headers)
	}

	w = env.do(t, "POST", base+"/import", map[string]string{"content": petSpec, "operationId": "missing"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for unknown operation, got %d", w.Code)
	}
}

func TestListAndDeleteDrafts(t *testing.T) {
	env := setupTestRouter(t)
	d := createDraft(t, env, map[string]interface{}{"deviceId": 7})
	createDraft(t, env, map[string]interface{}{"deviceId": 8})

	var list []map[string]interface{}
	decode(t, env.do(t, "GET", "/_api/drafts", nil), &list)
	if len(list) != 2 {
		t.Errorf("Expected 2 drafts, got %d", len(list))
	}

	w := env.do(t, "DELETE", "/_api/drafts/"+d.ID, nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	w = env.do(t, "DELETE", "/_api/drafts/"+d.ID, nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestSetDraftCursor_Clamps(t *testing.T) {
	env := setupTestRouter(t)
	d := createDraft(t, env, map[string]interface{}{"deviceId": 7})
	base := "/_api/drafts/" + d.ID

	draftCall(t, env, "PATCH", base+"/fields", map[string]interface{}{"requestBody": "{}"}, http.StatusOK)
	got := draftCall(t, env, "PUT", base+"/cursor", map[string]int{"cursor": 99}, http.StatusOK)
	if got.Cursor != 2 {
		t.Errorf("Expected cursor clamped to 2, got %d", got.Cursor)
	}
}

func TestDraftMutations_Concurrent(t *testing.T) {
	env := setupTestRouter(t)
	d := createDraft(t, env, map[string]interface{}{"deviceId": 7})
	path := "/_api/drafts/" + d.ID + "/lists/headers"

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w := env.do(t, "POST", path, nil); w.Code != http.StatusOK {
				t.Errorf("Expected status 200, got %d", w.Code)
			}
		}()
	}
	wg.Wait()

	got := draftCall(t, env, "GET", "/_api/drafts/"+d.ID, nil, http.StatusOK)
	if len(got.Form.Headers) != n {
		t.Errorf("Expected %d header rows, got %d", n, len(got.Form.Headers))
	}
}

func TestDraftLocks_ReleasesEntries(t *testing.T) {
	var locks draftLocks

	unlock := locks.lock("a")
	acquired := make(chan struct{})
	go func() {
		locks.lock("a")()
		close(acquired)
	}()

	// a different draft is not blocked
	locks.lock("b")()

	unlock()
	<-acquired

	locks.mu.Lock()
	defer locks.mu.Unlock()
	if len(locks.locks) != 0 {
		t.Errorf("Expected no lock entries, got %d", len(locks.locks))
	}
}
