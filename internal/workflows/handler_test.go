package workflows

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(te *testEngine) http.Handler {
	r := chi.NewRouter()
	NewHandler(te.service, te.engine).RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(method, path, &buf))
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func workflowBody() map[string]any {
	return map[string]any{
		"name":    "Welcome series",
		"trigger": "lead_created",
		"trigger_conditions": map[string]any{
			"source": []any{"ads"},
		},
		"steps": []any{
			map[string]any{"type": "wait", "config": map[string]any{"amount": 1, "unit": "hours"}},
			map[string]any{"type": "tag", "config": map[string]any{"tag": "welcomed"}},
		},
	}
}

func TestHandler_WorkflowLifecycle(t *testing.T) {
	te := newTestEngine(testStart)
	router := newTestRouter(te)

	rec := doJSON(t, router, http.MethodPost, "/workflows", workflowBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeData[struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}](t, rec)
	assert.Equal(t, "draft", created.Status)

	rec = doJSON(t, router, http.MethodPost, "/workflows/"+created.ID+"/enrollments", map[string]any{"entity_id": "lead-1"})
	assert.Equal(t, http.StatusConflict, rec.Code, "draft workflows do not accept enrollments")

	rec = doJSON(t, router, http.MethodPost, "/workflows/"+created.ID+"/status", map[string]any{"status": "active"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/events", map[string]any{
		"type":      "lead_created",
		"entity_id": "lead-1",
		"data":      map[string]any{"source": "ads"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	events := decodeData[EventResponse](t, rec)
	require.Len(t, events.Enrollments, 1)
	assert.Equal(t, 1, events.Enrollments[0].CurrentStep)

	rec = doJSON(t, router, http.MethodPost, "/workflows/"+created.ID+"/enrollments", map[string]any{"entity_id": "lead-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeData[EnrollResponse](t, rec).Enrolled)

	rec = doJSON(t, router, http.MethodGet, "/workflows/"+created.ID+"/enrollments?status=active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entity_id":"lead-1"`)

	enrollmentID := events.Enrollments[0].ID
	rec = doJSON(t, router, http.MethodPost, "/enrollments/"+enrollmentID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)

	rec = doJSON(t, router, http.MethodPost, "/enrollments/"+enrollmentID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandler_CreateWorkflow_Validation(t *testing.T) {
	te := newTestEngine(testStart)
	router := newTestRouter(te)

	body := workflowBody()
	body["steps"] = []any{}
	rec := doJSON(t, router, http.MethodPost, "/workflows", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = workflowBody()
	body["trigger"] = "lead_deleted"
	rec = doJSON(t, router, http.MethodPost, "/workflows", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body = workflowBody()
	body["steps"] = []any{map[string]any{"type": "wait", "config": map[string]any{"unit": "years"}}}
	rec = doJSON(t, router, http.MethodPost, "/workflows", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/workflows", bytes.NewReader([]byte(`{`))))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_NotFound(t *testing.T) {
	te := newTestEngine(testStart)
	router := newTestRouter(te)

	for _, path := range []string{
		"/workflows/not-a-uuid",
		"/workflows/0b8c9d4e-1f2a-4b3c-8d5e-6f7a8b9c0d1e",
		"/enrollments/0b8c9d4e-1f2a-4b3c-8d5e-6f7a8b9c0d1e",
		"/email-templates/0b8c9d4e-1f2a-4b3c-8d5e-6f7a8b9c0d1e",
	} {
		rec := doJSON(t, router, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

func TestHandler_ListWorkflows_InvalidStatus(t *testing.T) {
	te := newTestEngine(testStart)
	rec := doJSON(t, newTestRouter(te), http.MethodGet, "/workflows?status=deleted", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_PostEvent_Validation(t *testing.T) {
	te := newTestEngine(testStart)
	router := newTestRouter(te)

	rec := doJSON(t, router, http.MethodPost, "/events", map[string]any{"type": "lead_created"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, router, http.MethodPost, "/events", map[string]any{"type": "unknown", "entity_id": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Templates(t *testing.T) {
	te := newTestEngine(testStart)
	router := newTestRouter(te)

	rec := doJSON(t, router, http.MethodPost, "/email-templates", map[string]any{
		"name":    "welcome",
		"subject": "Hi {{ firstName }}",
		"body":    "Welcome aboard",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	tmpl := decodeData[struct {
		ID string `json:"id"`
	}](t, rec)

	rec = doJSON(t, router, http.MethodGet, "/email-templates/"+tmpl.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"welcome"`)

	rec = doJSON(t, router, http.MethodPost, "/email-templates", map[string]any{
		"name":    "broken",
		"subject": "{{ .x",
		"body":    "x",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
