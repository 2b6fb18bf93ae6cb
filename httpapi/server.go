// Package httpapi exposes the orchestrator over HTTP: a run lifecycle
// (create, inspect, stream), session listing, a synchronous prior-art
// endpoint, HTML report rendering, and health.
package httpapi

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/handler"
	"github.com/draftforge/draftforge/logging"
	"github.com/draftforge/draftforge/orchestrator"
)

// Run lifecycle states exposed on /api/patent/run/{id}.
const (
	StatusStarted    = "started"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// runRecord tracks one run from creation through streaming.
type runRecord struct {
	RunID     string               `json:"run_id"`
	SessionID string               `json:"session_id"`
	Status    string               `json:"status"`
	Input     string               `json:"input"`
	Context   string               `json:"context,omitempty"`
	Document  *core.DocumentContent `json:"document,omitempty"`
	Params    handler.Params       `json:"params,omitempty"`
	Created   time.Time            `json:"created_at"`
	Response  string               `json:"response,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// Options configure the Server.
type Options struct {
	// PriorArt, when set, backs the synchronous /api/patent/prior-art endpoint.
	PriorArt handler.Handler
	// Logger receives request diagnostics.
	Logger logging.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithPriorArtHandler enables the synchronous prior-art endpoint.
func WithPriorArtHandler(h handler.Handler) Option {
	return func(o *Options) { o.PriorArt = h }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Server is the HTTP surface over an Orchestrator. Runs are created with a
// POST and executed lazily when their SSE stream is first consumed, so an
// abandoned run never burns a model call.
type Server struct {
	orch  *orchestrator.Orchestrator
	store core.SessionStore
	opts  Options
	md    goldmark.Markdown
	pdf   *PDFRenderer
	mux   *http.ServeMux

	mu   sync.RWMutex
	runs map[string]*runRecord
}

// NewServer wires the routes and returns the server.
func NewServer(orch *orchestrator.Orchestrator, store core.SessionStore, optFns ...Option) *Server {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	s := &Server{
		orch:  orch,
		store: store,
		opts:  opts,
		md:    goldmark.New(goldmark.WithExtensions(extension.GFM)),
		pdf:   NewPDFRenderer(),
		runs:  map[string]*runRecord{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/patent/run", s.handleCreateRun)
	mux.HandleFunc("/api/patent/run/", s.handleRunDetails)
	mux.HandleFunc("/api/patent/stream", s.handleStream)
	mux.HandleFunc("/api/patent/prior-art", s.handlePriorArt)
	mux.HandleFunc("/api/patent/report", s.handleReport)
	mux.HandleFunc("/api/patent/report.pdf", s.handleReportPDF)
	mux.HandleFunc("/api/sessions", s.handleListSessions)
	mux.HandleFunc("/api/sessions/clear", s.handleClearSessions)
	s.mux = mux
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func methodOnly(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return []byte("{}"), nil
	}
	blob, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(blob) == 0 {
		blob = []byte("{}")
	}
	return blob, nil
}

// runRequest is the POST body for run creation and prior-art search.
// user_message is preferred; disclosure is the legacy field name.
type runRequest struct {
	UserMessage string                `json:"user_message"`
	Disclosure  string                `json:"disclosure"`
	SessionID   string                `json:"session_id"`
	Context     string                `json:"context"`
	Document    *core.DocumentContent `json:"document"`
	Params      handler.Params        `json:"params"`
}

func (r runRequest) input() string {
	if r.UserMessage != "" {
		return r.UserMessage
	}
	return r.Disclosure
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "draftforge",
		"version": "1.0",
		"status":  "operational",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	blob, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req runRequest
	if err := json.Unmarshal(blob, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	input := req.input()
	if input == "" {
		writeError(w, http.StatusBadRequest, "user_message or disclosure is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = core.NewID()
	}
	rec := &runRecord{
		RunID:     core.NewID(),
		SessionID: sessionID,
		Status:    StatusStarted,
		Input:     input,
		Context:   req.Context,
		Document:  req.Document,
		Params:    req.Params,
		Created:   time.Now().UTC(),
	}
	s.mu.Lock()
	s.runs[rec.RunID] = rec
	s.mu.Unlock()

	s.opts.Logger.Info("run created", "run_id", rec.RunID, "session_id", rec.SessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":     rec.RunID,
		"session_id": rec.SessionID,
		"status":     rec.Status,
	})
}

func (s *Server) handleRunDetails(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	runID := strings.TrimPrefix(r.URL.Path, "/api/patent/run/")
	runID = strings.TrimSuffix(runID, "/")
	if runID == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.mu.RLock()
	rec, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) setRunStatus(runID, status string) {
	s.mu.Lock()
	if rec, ok := s.runs[runID]; ok {
		rec.Status = status
	}
	s.mu.Unlock()
}

// handleStream executes the run and delivers its events as SSE frames:
// thoughts events as `event: thoughts`, the terminal results event as
// `event: final`, errors as `event: error`, always closed by `event: done`.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	bw := bufio.NewWriter(w)
	frame := func(event string, payload any) bool {
		blob, err := json.Marshal(payload)
		if err != nil {
			return false
		}
		if _, err := bw.WriteString(fmt.Sprintf("event: %s\ndata: %s\n\n", event, blob)); err != nil {
			return false
		}
		if err := bw.Flush(); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	done := func() { frame("done", map[string]any{}) }

	runID := strings.TrimSpace(r.URL.Query().Get("run_id"))
	s.mu.RLock()
	rec, found := s.runs[runID]
	s.mu.RUnlock()
	if !found {
		frame("error", map[string]any{"error": "run not found"})
		done()
		return
	}

	s.setRunStatus(runID, StatusProcessing)

	run, err := s.orch.Handle(r.Context(), orchestrator.Request{
		SessionID: rec.SessionID,
		RunID:     rec.RunID,
		UserInput: rec.Input,
		Context:   rec.Context,
		Document:  rec.Document,
		Params:    rec.Params,
	})
	if err != nil {
		s.opts.Logger.Error("run start failed", "run_id", runID, "error", err)
		s.finishRun(runID, StatusError, "", err.Error())
		frame("error", map[string]any{"error": err.Error()})
		done()
		return
	}

	status := StatusError
	var response, errMsg string
	for ev := range run.Events {
		switch ev.Kind {
		case core.KindThoughts:
			if !frame("thoughts", ev) {
				s.orch.Cancel(run.ID)
				s.finishRun(runID, StatusError, "", "client disconnected")
				return
			}
		case core.KindResults:
			status, response = StatusCompleted, ev.Response
			frame("final", map[string]any{
				"response": ev.Response,
				"data":     ev.Data,
				"metadata": ev.Metadata,
			})
		case core.KindError:
			status, errMsg = StatusError, ev.Err
			frame("error", map[string]any{"error": ev.Err, "context": ev.Context})
		}
	}
	s.finishRun(runID, status, response, errMsg)
	done()
}

func (s *Server) finishRun(runID, status, response, errMsg string) {
	s.mu.Lock()
	if rec, ok := s.runs[runID]; ok {
		rec.Status = status
		rec.Response = response
		rec.Error = errMsg
	}
	s.mu.Unlock()
}

// handlePriorArt runs the prior-art handler synchronously and returns the
// terminal payload as one JSON document.
func (s *Server) handlePriorArt(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	if s.opts.PriorArt == nil {
		writeError(w, http.StatusServiceUnavailable, "prior art search not configured")
		return
	}
	blob, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req runRequest
	if err := json.Unmarshal(blob, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	query := req.input()
	if query == "" {
		writeError(w, http.StatusBadRequest, "user_message or disclosure is required")
		return
	}

	var terminal core.Event
	emit := func(ev core.Event) bool {
		if ev.IsTerminal() {
			terminal = ev
		}
		return true
	}
	hreq := handler.Request{
		SessionID: req.SessionID,
		RunID:     core.NewID(),
		UserInput: query,
		Context:   req.Context,
		Params:    req.Params,
	}
	if err := s.opts.PriorArt.Run(r.Context(), hreq, emit); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if terminal.Kind == core.KindError {
		writeError(w, http.StatusBadGateway, terminal.Err)
		return
	}

	payload := map[string]any{
		"query":     query,
		"response":  terminal.Response,
		"timestamp": terminal.Timestamp,
	}
	for k, v := range terminal.Data {
		payload[k] = v
	}
	for k, v := range terminal.Metadata {
		payload[k] = v
	}
	writeJSON(w, http.StatusOK, payload)
}

// handleReport renders a completed run's response as a standalone HTML page.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	runID := strings.TrimSpace(r.URL.Query().Get("run_id"))
	s.mu.RLock()
	rec, ok := s.runs[runID]
	s.mu.RUnlock()
	if !ok {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if rec.Status != StatusCompleted || rec.Response == "" {
		writeError(w, http.StatusConflict, "run has no completed result")
		return
	}

	var body strings.Builder
	if err := s.md.Convert([]byte(rec.Response), &body); err != nil {
		writeError(w, http.StatusInternalServerError, "markdown convert: "+err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, reportPage, rec.RunID, body.String())
}

const reportPage = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Run %s</title>
<style>
body { font-family: Georgia, serif; max-width: 52rem; margin: 2rem auto; line-height: 1.5; }
h1, h2, h3 { font-family: Helvetica, Arial, sans-serif; }
ol li { margin-bottom: 0.75rem; }
</style>
</head>
<body>
%s
</body>
</html>
`

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodGet) {
		return
	}
	sessions, err := s.store.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, map[string]any{
			"session_id": sess.ID,
			"started_at": sess.Created,
			"updated_at": sess.Updated,
			"messages":   sess.Len(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_sessions": len(out),
		"sessions":       out,
	})
}

func (s *Server) handleClearSessions(w http.ResponseWriter, r *http.Request) {
	if !methodOnly(w, r, http.MethodPost) {
		return
	}
	if err := s.orch.ClearMemory(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
