package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/handler"
	"github.com/draftforge/draftforge/logging"
	"github.com/draftforge/draftforge/session"
)

// stubHandler records the request it received and plays back a fixed event
// sequence.
type stubHandler struct {
	name   string
	events []core.Event
	err    error
	panics bool
	got    *handler.Request
}

func (s *stubHandler) Name() string { return s.name }

func (s *stubHandler) Run(_ context.Context, req handler.Request, emit handler.EmitFunc) error {
	s.got = &req
	if s.panics {
		panic("stub exploded")
	}
	for _, ev := range s.events {
		emit(ev)
	}
	return s.err
}

func drain(t *testing.T, run *Run) []core.Event {
	t.Helper()
	var out []core.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-run.Events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining run events")
		}
	}
}

func newTestOrchestrator(t *testing.T, optFns ...Option) (*Orchestrator, *session.InMemoryStore) {
	t.Helper()
	store := session.NewInMemoryStore()
	o, err := New(store, optFns...)
	require.NoError(t, err)
	return o, store
}

func TestOrchestrator_RoutesToHandler(t *testing.T) {
	o, store := newTestOrchestrator(t)
	stub := &stubHandler{
		name: "claim_drafting",
		events: []core.Event{
			core.NewThoughtEvent("working", "drafting"),
			core.NewResultsEvent("Generated Patent Claims:\n\n1. A widget comprising a gear.", nil),
		},
	}
	o.Register(core.IntentContentDrafting, stub)

	run, err := o.Handle(context.Background(), Request{UserInput: "Draft claims for my widget"})
	require.NoError(t, err)
	require.NotEmpty(t, run.ID)
	require.NotEmpty(t, run.SessionID)

	events := drain(t, run)
	require.NotEmpty(t, events)

	// Orchestration thoughts precede the handler's own events.
	var types []string
	for _, ev := range events {
		if ev.Kind == core.KindThoughts {
			types = append(types, ev.ThoughtType)
		}
	}
	assert.Contains(t, types, "initialization")
	assert.Contains(t, types, "intent_analysis")
	assert.Contains(t, types, "routing")
	assert.Contains(t, types, "drafting")

	last := events[len(events)-1]
	assert.Equal(t, core.KindResults, last.Kind)
	for _, ev := range events[:len(events)-1] {
		assert.False(t, ev.IsTerminal(), "only the last event may be terminal")
	}

	// Every event carries run metadata.
	for _, ev := range events {
		assert.Equal(t, run.SessionID, ev.Metadata["session_id"])
		assert.Equal(t, run.ID, ev.Metadata["run_id"])
	}

	// User turn and assistant response are both persisted.
	sess, err := store.Get(run.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	hist := sess.History()
	require.Len(t, hist, 2)
	assert.Equal(t, core.RoleUser, hist[0].Role)
	assert.Equal(t, core.RoleAssistant, hist[1].Role)
	assert.Contains(t, hist[1].Content, "Generated Patent Claims:")

	// The handler saw the history as it was before this turn.
	require.NotNil(t, stub.got)
	assert.Empty(t, stub.got.History)
	assert.Equal(t, run.SessionID, stub.got.SessionID)
}

func TestOrchestrator_DeduplicatesResubmittedTurn(t *testing.T) {
	o, store := newTestOrchestrator(t)
	stub := &stubHandler{
		name:   "general_conversation",
		events: []core.Event{core.NewResultsEvent("Happy to help.", nil)},
	}
	o.Register(core.IntentGeneralConversation, stub)

	run1, err := o.Handle(context.Background(), Request{UserInput: "hello there"})
	require.NoError(t, err)
	drain(t, run1)

	run2, err := o.Handle(context.Background(), Request{SessionID: run1.SessionID, UserInput: "hello there"})
	require.NoError(t, err)
	drain(t, run2)

	sess, err := store.Get(run1.SessionID)
	require.NoError(t, err)
	var users int
	for _, m := range sess.History() {
		if m.Role == core.RoleUser {
			users++
		}
	}
	assert.Equal(t, 1, users, "resubmitted identical turn must not duplicate the user message")
}

func TestOrchestrator_UnregisteredIntent(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	run, err := o.Handle(context.Background(), Request{UserInput: "analyze this portfolio"})
	require.NoError(t, err)

	events := drain(t, run)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, core.KindError, last.Kind)
	assert.Equal(t, "tool_not_implemented", last.Context)
}

func TestOrchestrator_EmptyInput(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	run, err := o.Handle(context.Background(), Request{UserInput: ""})
	require.NoError(t, err)

	events := drain(t, run)
	require.Len(t, events, 1)
	assert.Equal(t, core.KindError, events[0].Kind)
	assert.Equal(t, "invalid_request", events[0].Context)
}

func TestOrchestrator_HandlerPanicBecomesErrorEvent(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.Register(core.IntentGeneralConversation, &stubHandler{name: "general_conversation", panics: true})

	run, err := o.Handle(context.Background(), Request{UserInput: "hello there"})
	require.NoError(t, err)

	events := drain(t, run)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, core.KindError, last.Kind)
	assert.Equal(t, "tool_execution_failed", last.Context)
	assert.Contains(t, last.Err, "stub exploded")
}

func TestOrchestrator_HandlerErrorBecomesErrorEvent(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.Register(core.IntentGeneralConversation, &stubHandler{
		name: "general_conversation",
		err:  fmt.Errorf("backend unreachable"),
	})

	run, err := o.Handle(context.Background(), Request{UserInput: "hello there"})
	require.NoError(t, err)

	events := drain(t, run)
	last := events[len(events)-1]
	assert.Equal(t, core.KindError, last.Kind)
	assert.Equal(t, "tool_execution_failed", last.Context)
	assert.Contains(t, last.Err, "backend unreachable")
}

func TestOrchestrator_MissingTerminalClosedOut(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.Register(core.IntentGeneralConversation, &stubHandler{
		name:   "general_conversation",
		events: []core.Event{core.NewThoughtEvent("thinking", "processing")},
	})

	run, err := o.Handle(context.Background(), Request{UserInput: "hello there"})
	require.NoError(t, err)

	events := drain(t, run)
	last := events[len(events)-1]
	assert.Equal(t, core.KindError, last.Kind)
	assert.Equal(t, "tool_execution_failed", last.Context)
}

func TestOrchestrator_SecondTerminalDropped(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	o.Register(core.IntentGeneralConversation, &stubHandler{
		name: "general_conversation",
		events: []core.Event{
			core.NewResultsEvent("first", nil),
			core.NewResultsEvent("second", nil),
		},
	})

	run, err := o.Handle(context.Background(), Request{UserInput: "hello there"})
	require.NoError(t, err)

	events := drain(t, run)
	var terminals int
	for _, ev := range events {
		if ev.IsTerminal() {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
	assert.Equal(t, "first", events[len(events)-1].Response)
}

func TestOrchestrator_Cancel(t *testing.T) {
	o, _ := newTestOrchestrator(t)
	assert.False(t, o.Cancel("nope"))
}

func TestOrchestrator_Status(t *testing.T) {
	o, store := newTestOrchestrator(t)
	o.Register(core.IntentGeneralConversation, &stubHandler{name: "general_conversation"})
	_, err := store.CreateOrGet("s1")
	require.NoError(t, err)

	st := o.Status()
	assert.Equal(t, "operational", st["status"])
	assert.Equal(t, 1, st["active_sessions"])
	assert.Contains(t, st["tools_available"], "general_conversation")
	assert.NotEmpty(t, st["timestamp"])
}

func TestOrchestrator_ClearMemory(t *testing.T) {
	o, store := newTestOrchestrator(t)
	_, err := store.CreateOrGet("s1")
	require.NoError(t, err)

	require.NoError(t, o.ClearMemory())
	n, err := store.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestOrchestrator_MaxConcurrentRuns(t *testing.T) {
	o, _ := newTestOrchestrator(t, WithMaxConcurrentRuns(1))
	block := make(chan struct{})
	o.Register(core.IntentGeneralConversation, blockingHandler{release: block})

	run1, err := o.Handle(context.Background(), Request{UserInput: "hello there"})
	require.NoError(t, err)

	// Wait for the first run to be registered as active.
	require.Eventually(t, func() bool { return o.ActiveRuns() == 1 }, time.Second, 5*time.Millisecond)

	_, err = o.Handle(context.Background(), Request{UserInput: "hello again"})
	assert.Error(t, err)

	close(block)
	drain(t, run1)
}

func TestOrchestrator_ConcurrentAdmissionHonorsLimit(t *testing.T) {
	o, _ := newTestOrchestrator(t, WithMaxConcurrentRuns(2))
	block := make(chan struct{})
	o.Register(core.IntentGeneralConversation, blockingHandler{release: block})

	// All submitters race the admission check; the limit must hold even when
	// none of their runs has started executing yet.
	const submitters = 8
	var wg sync.WaitGroup
	var admitted int32
	runs := make(chan *Run, submitters)
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run, err := o.Handle(context.Background(), Request{UserInput: fmt.Sprintf("hello %d", i)})
			if err == nil {
				atomic.AddInt32(&admitted, 1)
				runs <- run
			}
		}(i)
	}
	wg.Wait()
	close(runs)

	assert.GreaterOrEqual(t, int(admitted), 1)
	assert.LessOrEqual(t, int(admitted), 2)
	assert.LessOrEqual(t, o.ActiveRuns(), 2)

	close(block)
	for run := range runs {
		drain(t, run)
	}
}

func TestOrchestrator_HandlerTimingViaDraftLogger(t *testing.T) {
	var buf bytes.Buffer
	dl := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "json", Output: &buf})
	o, _ := newTestOrchestrator(t, WithLogger(dl))
	o.Register(core.IntentGeneralConversation, &stubHandler{
		name:   "general_conversation",
		events: []core.Event{core.NewResultsEvent("hi", nil)},
	})

	run, err := o.Handle(context.Background(), Request{SessionID: "s1", UserInput: "hello there"})
	require.NoError(t, err)
	drain(t, run)

	out := buf.String()
	assert.Contains(t, out, "Handler run completed")
	assert.Contains(t, out, `"component":"orchestrator"`)
	assert.Contains(t, out, `"session_id":"s1"`)
	assert.Contains(t, out, `"handler":"general_conversation"`)
	assert.Contains(t, out, `"success":true`)
}

type blockingHandler struct {
	release <-chan struct{}
}

func (blockingHandler) Name() string { return "general_conversation" }

func (b blockingHandler) Run(ctx context.Context, _ handler.Request, emit handler.EmitFunc) error {
	select {
	case <-b.release:
	case <-ctx.Done():
	}
	emit(core.NewResultsEvent("done", nil))
	return nil
}
