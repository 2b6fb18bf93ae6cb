// Package draftforge provides a high-level façade over the orchestrator and
// its services (sessions, prompts, LLM gateway, patent search). Most
// applications interact with this package by:
//  1. Creating a DraftForge via New() with a configured LLM gateway
//  2. Optionally supplying a durable session store and a patent searcher
//  3. Submitting user turns with Handle() and draining the event stream
//
// The façade wires the default handler set — drafting, review, guidance,
// conversation and (when a searcher is present) prior-art search — to their
// intents. All defaults are safe for local development; production
// deployments typically supply a SQLite store and a structured logger.
package draftforge

import (
	"context"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/handler"
	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/logging"
	"github.com/draftforge/draftforge/orchestrator"
	"github.com/draftforge/draftforge/prompt"
	"github.com/draftforge/draftforge/session"
)

// Options configures the DraftForge instance.
type Options struct {
	// SessionStore holds conversation histories. Defaults to in-memory.
	SessionStore core.SessionStore

	// Searcher backs the prior-art handler. When nil the search intent is
	// left unregistered and resolves to a tool_not_implemented error event.
	Searcher handler.PatentSearcher

	// ClaimsFetcher optionally attaches full claim text to top search hits.
	ClaimsFetcher handler.ClaimsFetcher

	// UseLLMClassifier routes intent classification through the gateway with
	// a keyword fallback. When false the deterministic keyword rules are
	// used directly.
	UseLLMClassifier bool

	// MaxModelCalls bounds gateway calls across the process lifetime;
	// 0 means unlimited.
	MaxModelCalls int

	// EventBufferSize sets the per-run event channel capacity.
	EventBufferSize int

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// DraftForge is the high-level façade aggregating the orchestrator and its
// services.
type DraftForge struct {
	opts     Options
	gateway  llm.Gateway
	prompts  *prompt.Store
	orch     *orchestrator.Orchestrator
	priorArt handler.Handler
}

// New creates a DraftForge over the given LLM gateway with optional
// overrides. Any unset service is initialized with an in-memory default.
func New(gateway llm.Gateway, optFns ...func(o *Options)) (*DraftForge, error) {
	opts := Options{
		SessionStore:    session.NewInMemoryStore(),
		EventBufferSize: 64,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.MaxModelCalls > 0 {
		gateway = llm.Limit(gateway, opts.MaxModelCalls)
	}

	prompts := prompt.NewStore()

	orchOpts := []orchestrator.Option{
		orchestrator.WithEventBufferSize(opts.EventBufferSize),
		orchestrator.WithLogger(opts.Logger),
	}
	if opts.UseLLMClassifier {
		orchOpts = append(orchOpts,
			orchestrator.WithClassifier(orchestrator.NewLLMClassifier(gateway, prompts, opts.Logger)))
	}
	orch, err := orchestrator.New(opts.SessionStore, orchOpts...)
	if err != nil {
		return nil, err
	}

	orch.Register(core.IntentContentDrafting, handler.NewDraftingHandler(gateway, prompts))
	orch.Register(core.IntentContentReview, handler.NewReviewHandler(gateway, prompts))
	orch.Register(core.IntentGuidance, handler.NewGuidanceHandler(gateway, prompts))
	orch.Register(core.IntentGeneralConversation, handler.NewConversationHandler(gateway, prompts))
	orch.Register(core.IntentAssessment, handler.NewDraftingHandler(gateway, prompts))

	var priorArt handler.Handler
	if opts.Searcher != nil {
		priorArt = handler.NewPriorArtHandler(gateway, prompts, opts.Searcher,
			func(o *handler.PriorArtOptions) {
				o.Claims = opts.ClaimsFetcher
				o.Logger = opts.Logger
			})
		orch.Register(core.IntentSearch, priorArt)
	}

	return &DraftForge{opts: opts, gateway: gateway, prompts: prompts, orch: orch, priorArt: priorArt}, nil
}

// Orchestrator exposes the underlying orchestrator, e.g. for the HTTP server.
func (d *DraftForge) Orchestrator() *orchestrator.Orchestrator { return d.orch }

// SessionStore exposes the configured session store.
func (d *DraftForge) SessionStore() core.SessionStore { return d.opts.SessionStore }

// Prompts exposes the embedded prompt template store.
func (d *DraftForge) Prompts() *prompt.Store { return d.prompts }

// PriorArtHandler returns the registered prior-art handler, or nil when no
// searcher was configured.
func (d *DraftForge) PriorArtHandler() handler.Handler { return d.priorArt }

// Handle submits one user turn, returning the run with its event stream.
func (d *DraftForge) Handle(ctx context.Context, req orchestrator.Request) (*orchestrator.Run, error) {
	return d.orch.Handle(ctx, req)
}

// HandleSync is a synchronous helper that drains the event stream and returns
// all events; the last one is the run's terminal event.
func (d *DraftForge) HandleSync(ctx context.Context, req orchestrator.Request) (string, []core.Event, error) {
	run, err := d.orch.Handle(ctx, req)
	if err != nil {
		return "", nil, err
	}
	var events []core.Event
	for {
		select {
		case <-ctx.Done():
			return run.ID, events, ctx.Err()
		case ev, ok := <-run.Events:
			if !ok {
				return run.ID, events, nil
			}
			events = append(events, ev)
		}
	}
}
