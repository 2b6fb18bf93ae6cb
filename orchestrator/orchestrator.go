// Package orchestrator routes user turns to tool handlers. It owns the
// conversation memory, classifies each turn's intent, runs the matching
// handler on its own goroutine, and streams typed events back to the caller.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/handler"
	"github.com/draftforge/draftforge/logging"
)

// Options configure an Orchestrator.
type Options struct {
	// Store holds conversation sessions. Required.
	Store core.SessionStore

	// Classifier maps user input to an intent. Defaults to KeywordClassifier.
	Classifier Classifier

	// EventBufferSize is the capacity of each run's event channel. A slow
	// consumer stalls the producing handler once the buffer fills.
	EventBufferSize int

	// MaxConcurrentRuns caps runs in flight; 0 means unlimited.
	MaxConcurrentRuns int

	// Logger receives orchestrator diagnostics.
	Logger logging.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithClassifier sets the intent classifier.
func WithClassifier(c Classifier) Option {
	return func(o *Options) { o.Classifier = c }
}

// WithEventBufferSize sets the per-run event channel capacity.
func WithEventBufferSize(n int) Option {
	return func(o *Options) { o.EventBufferSize = n }
}

// WithMaxConcurrentRuns caps the number of concurrently executing runs.
func WithMaxConcurrentRuns(n int) Option {
	return func(o *Options) { o.MaxConcurrentRuns = n }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// Request is one user turn submitted to the orchestrator.
type Request struct {
	// SessionID selects the conversation. Empty starts a new session.
	SessionID string
	// RunID identifies the run. Empty generates one; callers that assigned an
	// id up front (e.g. the HTTP run lifecycle) pass it through here.
	RunID string
	// UserInput is the raw user message.
	UserInput string
	// Context is optional caller-supplied context prepended to prompts.
	Context string
	// Document is optional document content the turn refers to.
	Document *core.DocumentContent
	// Params are free-form tool parameters, e.g. max_claims.
	Params handler.Params
}

// Run identifies one in-flight (or finished) handler execution.
type Run struct {
	ID        string
	SessionID string
	Intent    core.Intent
	Events    <-chan core.Event
}

// Orchestrator is the routing core. Safe for concurrent use.
type Orchestrator struct {
	opts     Options
	handlers map[core.Intent]handler.Handler

	mu         sync.RWMutex
	activeRuns map[string]context.CancelFunc
}

// New creates an Orchestrator over the given session store.
func New(store core.SessionStore, optFns ...Option) (*Orchestrator, error) {
	opts := Options{
		Store:           store,
		Classifier:      KeywordClassifier{},
		EventBufferSize: 64,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator: session store is required")
	}
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = 64
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Orchestrator{
		opts:       opts,
		handlers:   make(map[core.Intent]handler.Handler),
		activeRuns: make(map[string]context.CancelFunc),
	}, nil
}

// Register routes an intent to a handler, replacing any previous mapping.
func (o *Orchestrator) Register(intent core.Intent, h handler.Handler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[intent] = h
}

// Handlers returns the names of registered handlers keyed by intent.
func (o *Orchestrator) Handlers() map[core.Intent]string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make(map[core.Intent]string, len(o.handlers))
	for intent, h := range o.handlers {
		out[intent] = h.Name()
	}
	return out
}

// Handle submits one user turn. It classifies the intent, persists the user
// message, and starts the matched handler on its own goroutine. The returned
// Run's event channel delivers any number of thought events followed by
// exactly one terminal event, then closes. Cancel the supplied ctx or call
// Cancel(runID) to abandon the run.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (*Run, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = core.NewID()
	}
	runID := req.RunID
	if runID == "" {
		runID = core.NewID()
	}

	runCtx, cancel := context.WithCancel(ctx)

	// Admission and registration share one lock hold: concurrent submits must
	// not all pass the limit check before any of them registers.
	o.mu.Lock()
	if o.opts.MaxConcurrentRuns > 0 && len(o.activeRuns) >= o.opts.MaxConcurrentRuns {
		o.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("orchestrator: max concurrent runs (%d) reached", o.opts.MaxConcurrentRuns)
	}
	o.activeRuns[runID] = cancel
	o.mu.Unlock()

	sess, err := o.opts.Store.CreateOrGet(sessionID)
	if err != nil {
		o.Cancel(runID)
		return nil, fmt.Errorf("orchestrator: load session: %w", err)
	}
	history := sess.History()

	// Retried POSTs and client reconnects resubmit the same turn; don't let
	// the history grow a duplicate user message for it.
	if req.UserInput != "" && !lastUserMessageEquals(history, req.UserInput) {
		if err := o.opts.Store.AppendMessage(sessionID, core.NewMessage(core.RoleUser, req.UserInput)); err != nil {
			o.Cancel(runID)
			return nil, fmt.Errorf("orchestrator: persist user message: %w", err)
		}
	}

	events := make(chan core.Event, o.opts.EventBufferSize)
	run := &Run{ID: runID, SessionID: sessionID, Events: events}

	go o.execute(runCtx, runID, sessionID, req, history, events)

	return run, nil
}

// Cancel aborts an in-flight run. Returns false when the run is unknown or
// already finished.
func (o *Orchestrator) Cancel(runID string) bool {
	o.mu.Lock()
	cancel, ok := o.activeRuns[runID]
	if ok {
		delete(o.activeRuns, runID)
	}
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ActiveRuns returns the number of runs currently executing.
func (o *Orchestrator) ActiveRuns() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.activeRuns)
}

// Status reports operational state for health and admin endpoints.
func (o *Orchestrator) Status() map[string]any {
	sessions, err := o.opts.Store.Count()
	if err != nil {
		o.opts.Logger.Warn("session count failed", "error", err)
	}

	o.mu.RLock()
	tools := make([]string, 0, len(o.handlers))
	for _, h := range o.handlers {
		tools = append(tools, h.Name())
	}
	active := len(o.activeRuns)
	o.mu.RUnlock()

	return map[string]any{
		"status":          "operational",
		"tools_available": tools,
		"active_runs":     active,
		"active_sessions": sessions,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
}

// ClearMemory drops every stored session.
func (o *Orchestrator) ClearMemory() error {
	return o.opts.Store.ClearAll()
}

func (o *Orchestrator) execute(ctx context.Context, runID, sessionID string, req Request, history []core.Message, events chan<- core.Event) {
	defer close(events)
	defer func() {
		o.mu.Lock()
		delete(o.activeRuns, runID)
		o.mu.Unlock()
	}()

	md := map[string]any{"session_id": sessionID, "run_id": runID}
	terminalSeen := false
	var finalResponse string

	// emit decorates every event with run metadata and enforces the
	// one-terminal-event contract; extra terminals from a misbehaving
	// handler are dropped.
	emit := func(ev core.Event) bool {
		if terminalSeen {
			if ev.IsTerminal() {
				o.opts.Logger.Warn("handler emitted a second terminal event, dropping",
					"run_id", runID, "kind", string(ev.Kind))
			}
			return false
		}
		if ev.IsTerminal() {
			terminalSeen = true
			if ev.Kind == core.KindResults {
				finalResponse = ev.Response
			}
		}
		if ev.Metadata == nil {
			ev = ev.WithMetadata(md)
		}
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	defer func() {
		if r := recover(); r != nil {
			o.opts.Logger.Error("handler panicked", "run_id", runID, "panic", fmt.Sprint(r))
			emit(core.NewErrorEvent(fmt.Sprintf("internal error: %v", r), "tool_execution_failed"))
		}
	}()

	if req.UserInput == "" {
		emit(core.NewErrorEvent("empty user input", "invalid_request"))
		return
	}

	emit(core.NewThoughtEvent("Processing your request...", "initialization"))
	emit(core.NewThoughtEvent("Analyzing your request to determine the best approach...", "intent_analysis"))

	convContext := handler.ConversationContext(history)
	intent, confidence, err := o.opts.Classifier.Classify(ctx, req.UserInput, convContext)
	if err != nil {
		o.opts.Logger.Warn("intent classification failed", "run_id", runID, "error", err)
		intent, confidence = core.IntentGeneralConversation, 0.5
	}
	o.opts.Logger.Info("intent classified",
		"run_id", runID, "intent", string(intent), "confidence", confidence)

	o.mu.RLock()
	h, ok := o.handlers[intent]
	o.mu.RUnlock()
	if !ok {
		emit(core.NewErrorEvent(
			fmt.Sprintf("no tool registered for intent %q", intent), "tool_not_implemented"))
		return
	}

	emit(core.NewThoughtEvent(fmt.Sprintf("Routing to %s...", h.Name()), "routing"))

	hreq := handler.Request{
		SessionID: sessionID,
		RunID:     runID,
		UserInput: req.UserInput,
		Context:   req.Context,
		History:   history,
		Document:  req.Document,
		Params:    req.Params,
	}
	started := time.Now()
	runErr := h.Run(ctx, hreq, emit)
	o.logHandlerRun(sessionID, runID, h.Name(), time.Since(started), runErr)
	if runErr != nil {
		if !terminalSeen {
			emit(core.NewErrorEvent(runErr.Error(), "tool_execution_failed"))
		}
		return
	}
	if !terminalSeen {
		// A handler that returns nil without a terminal event breaks the
		// stream contract; close it out so consumers don't hang.
		emit(core.NewErrorEvent(
			fmt.Sprintf("tool %s produced no result", h.Name()), "tool_execution_failed"))
		return
	}

	if finalResponse != "" {
		if err := o.opts.Store.AppendMessage(sessionID, core.NewMessage(core.RoleAssistant, finalResponse)); err != nil {
			o.opts.Logger.Warn("persist assistant message failed", "run_id", runID, "error", err)
		}
	}
}

// logHandlerRun records handler timing. A DraftLogger gets the structured
// form with component, session and run attributes attached; plain loggers get
// a flat entry.
func (o *Orchestrator) logHandlerRun(sessionID, runID, name string, dur time.Duration, err error) {
	if dl, ok := o.opts.Logger.(*logging.DraftLogger); ok {
		dl.WithComponent("orchestrator").WithSession(sessionID, runID).LogHandlerRun(name, dur, err == nil, err)
		return
	}
	if err != nil {
		o.opts.Logger.Error("handler failed", "run_id", runID, "tool", name, "duration", dur.String(), "error", err)
		return
	}
	o.opts.Logger.Debug("handler completed", "run_id", runID, "tool", name, "duration", dur.String())
}

func lastUserMessageEquals(history []core.Message, content string) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == core.RoleUser {
			return history[i].Content == content
		}
	}
	return false
}
