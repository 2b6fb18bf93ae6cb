package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind discriminates the streamed event protocol. A handler run emits any
// number of KindThoughts events followed by exactly one terminal event, which
// is either KindResults or KindError but never both.
type EventKind string

const (
	// KindThoughts carries incremental reasoning / progress text.
	KindThoughts EventKind = "thoughts"
	// KindResults carries the final response text plus optional structured data.
	KindResults EventKind = "results"
	// KindError carries a user-visible failure with a machine-readable context tag.
	KindError EventKind = "error"
)

// Event is the unit of the streamed response protocol between handlers, the
// orchestrator and external clients. Events are transient: they live on the
// stream of a single run and are never persisted. After emission an Event
// should be treated as immutable.
//
// Payload fields are kind-specific:
//   - thoughts: Content (+ ThoughtType)
//   - results:  Response (+ Data)
//   - error:    Err + Context
type Event struct {
	ID          string         `json:"id"`
	Kind        EventKind      `json:"event"`
	Content     string         `json:"content,omitempty"`
	ThoughtType string         `json:"thought_type,omitempty"`
	Response    string         `json:"response,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Err         string         `json:"error,omitempty"`
	Context     string         `json:"context,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
}

// NewThoughtEvent constructs a progress event. thoughtType tags the phase that
// produced it (initialization, intent_analysis, routing, drafting, ...).
func NewThoughtEvent(content, thoughtType string) Event {
	return Event{
		ID:          NewID(),
		Kind:        KindThoughts,
		Content:     content,
		ThoughtType: thoughtType,
		Timestamp:   time.Now().UTC(),
	}
}

// NewResultsEvent constructs the successful terminal event. data may be nil
// when the response is plain text.
func NewResultsEvent(response string, data map[string]any) Event {
	return Event{
		ID:        NewID(),
		Kind:      KindResults,
		Response:  response,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// NewErrorEvent constructs the failing terminal event. contextTag is one of
// the documented failure contexts (tool_not_implemented, tool_execution_failed,
// gateway_timeout, orchestrator_error, ...).
func NewErrorEvent(errMsg, contextTag string) Event {
	return Event{
		ID:        NewID(),
		Kind:      KindError,
		Err:       errMsg,
		Context:   contextTag,
		Timestamp: time.Now().UTC(),
	}
}

// WithMetadata returns a copy of the event with the given metadata attached.
func (e Event) WithMetadata(md map[string]any) Event {
	e.Metadata = md
	return e
}

// IsTerminal reports whether this event ends its stream.
func (e Event) IsTerminal() bool { return e.Kind == KindResults || e.Kind == KindError }

// UnixSeconds returns the timestamp as fractional seconds since the Unix
// epoch, for metrics and numeric serialization paths.
func (e Event) UnixSeconds() float64 { return float64(e.Timestamp.UnixNano()) / 1e9 }

// NewID generates a UUID string used to identify events, runs and sessions.
func NewID() string { return uuid.NewString() }
