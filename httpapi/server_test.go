package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/handler"
	"github.com/draftforge/draftforge/orchestrator"
	"github.com/draftforge/draftforge/session"
)

type stubHandler struct {
	name   string
	events []core.Event
}

func (s stubHandler) Name() string { return s.name }

func (s stubHandler) Run(_ context.Context, _ handler.Request, emit handler.EmitFunc) error {
	for _, ev := range s.events {
		emit(ev)
	}
	return nil
}

func newTestServer(t *testing.T, optFns ...Option) (*Server, *session.InMemoryStore) {
	t.Helper()
	store := session.NewInMemoryStore()
	orch, err := orchestrator.New(store)
	require.NoError(t, err)
	orch.Register(core.IntentGeneralConversation, stubHandler{
		name: "general_conversation",
		events: []core.Event{
			core.NewThoughtEvent("thinking", "processing"),
			core.NewResultsEvent("## Answer\n\nHappy to help.", nil),
		},
	})
	return NewServer(orch, store, optFns...), store
}

func postJSON(t *testing.T, s *Server, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	blob, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(blob)))
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func getPath(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, req)
	return w
}

func createRun(t *testing.T, s *Server, message string) (runID, sessionID string) {
	t.Helper()
	w := postJSON(t, s, "/api/patent/run", map[string]any{"user_message": message})
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out["run_id"].(string), out["session_id"].(string)
}

func TestCreateRun(t *testing.T) {
	s, _ := newTestServer(t)

	runID, sessionID := createRun(t, s, "hello there")
	assert.NotEmpty(t, runID)
	assert.NotEmpty(t, sessionID)

	w := getPath(s, "/api/patent/run/"+runID)
	require.Equal(t, http.StatusOK, w.Code)
	var rec runRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, StatusStarted, rec.Status)
	assert.Equal(t, "hello there", rec.Input)
}

func TestCreateRun_RequiresInput(t *testing.T) {
	s, _ := newTestServer(t)
	w := postJSON(t, s, "/api/patent/run", map[string]any{"session_id": "s1"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRun_AcceptsLegacyDisclosureField(t *testing.T) {
	s, _ := newTestServer(t)
	w := postJSON(t, s, "/api/patent/run", map[string]any{"disclosure": "hello there"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRunDetails_NotFound(t *testing.T) {
	s, _ := newTestServer(t)
	w := getPath(s, "/api/patent/run/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStream_DeliversFramesAndDoneSentinel(t *testing.T) {
	s, store := newTestServer(t)
	runID, sessionID := createRun(t, s, "hello there")

	w := getPath(s, "/api/patent/stream?run_id="+runID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	body := w.Body.String()
	assert.Contains(t, body, "event: thoughts\n")
	assert.Contains(t, body, "event: final\n")
	assert.Contains(t, body, "Happy to help.")
	assert.True(t, strings.HasSuffix(body, "event: done\ndata: {}\n\n"),
		"stream must end with the done sentinel, got: %q", body)

	// Run record reflects completion.
	dw := getPath(s, "/api/patent/run/"+runID)
	var rec runRecord
	require.NoError(t, json.Unmarshal(dw.Body.Bytes(), &rec))
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Contains(t, rec.Response, "Happy to help.")

	// Conversation was persisted under the session created by the POST.
	sess, err := store.Get(sessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, 2, sess.Len())
}

func TestStream_UnknownRun(t *testing.T) {
	s, _ := newTestServer(t)
	w := getPath(s, "/api/patent/stream?run_id=nope")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, "run not found")
	assert.Contains(t, body, "event: done\n")
}

func TestStream_ErrorRun(t *testing.T) {
	s, _ := newTestServer(t)
	// "analyze" routes to an unregistered intent.
	runID, _ := createRun(t, s, "analyze this")

	w := getPath(s, "/api/patent/stream?run_id="+runID)
	body := w.Body.String()
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, "tool_not_implemented")

	dw := getPath(s, "/api/patent/run/"+runID)
	var rec runRecord
	require.NoError(t, json.Unmarshal(dw.Body.Bytes(), &rec))
	assert.Equal(t, StatusError, rec.Status)
	assert.NotEmpty(t, rec.Error)
}

func TestPriorArt_NotConfigured(t *testing.T) {
	s, _ := newTestServer(t)
	w := postJSON(t, s, "/api/patent/prior-art", map[string]any{"user_message": "gearbox"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestPriorArt_Synchronous(t *testing.T) {
	pa := stubHandler{
		name: "prior_art_search",
		events: []core.Event{
			core.NewThoughtEvent("searching", "search_execution"),
			core.NewResultsEvent("Found 1 reference.", map[string]any{
				"results": []core.SearchResult{{ID: "US1234567", Title: "Gearbox", RelevanceScore: 0.7}},
				"query":   map[string]any{"text": "gearbox"},
			}).WithMetadata(map[string]any{"total_found": 1}),
		},
	}
	s, _ := newTestServer(t, WithPriorArtHandler(pa))

	w := postJSON(t, s, "/api/patent/prior-art", map[string]any{"user_message": "gearbox"})
	require.Equal(t, http.StatusOK, w.Code)

	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "Found 1 reference.", out["response"])
	assert.Equal(t, float64(1), out["total_found"])
	require.Len(t, out["results"], 1)
}

func TestReport_RendersMarkdown(t *testing.T) {
	s, _ := newTestServer(t)
	runID, _ := createRun(t, s, "hello there")
	getPath(s, "/api/patent/stream?run_id="+runID)

	w := getPath(s, "/api/patent/report?run_id="+runID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "<h2")
	assert.Contains(t, w.Body.String(), "Happy to help.")
}

func TestReport_RequiresCompletedRun(t *testing.T) {
	s, _ := newTestServer(t)
	runID, _ := createRun(t, s, "hello there")
	w := getPath(s, "/api/patent/report?run_id="+runID)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = getPath(s, "/api/patent/report.pdf?run_id="+runID)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestListSessions(t *testing.T) {
	s, _ := newTestServer(t)
	runID, _ := createRun(t, s, "hello there")
	getPath(s, "/api/patent/stream?run_id="+runID)

	w := getPath(s, "/api/sessions")
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Total    int              `json:"total_sessions"`
		Sessions []map[string]any `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, 1, out.Total)
	assert.Equal(t, float64(2), out.Sessions[0]["messages"])
}

func TestClearSessions(t *testing.T) {
	s, store := newTestServer(t)
	_, err := store.CreateOrGet("s1")
	require.NoError(t, err)

	w := postJSON(t, s, "/api/sessions/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)
	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w := getPath(s, "/api/health")
	require.Equal(t, http.StatusOK, w.Code)
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, "operational", out["status"])
}
