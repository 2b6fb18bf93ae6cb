package handler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/prompt"
)

// A disclosure rich enough to pass the local sufficiency heuristic.
const richDisclosure = `A sensor system for monitoring industrial equipment. The system comprises
a vibration sensor attached to a rotating component, a signal processor that samples the sensor
output and extracts frequency-domain data using an FFT algorithm, and a network interface module
that transmits the processed data to a monitoring device. The processor applies a threshold
technique to detect anomalies in the frequency data and triggers an alert protocol when a
fault signature is detected. The assembly includes a protective housing and a power circuit.`

func TestDrafting_EmptyInput(t *testing.T) {
	h := NewDraftingHandler(llm.NewMockGateway(), prompt.NewStore())
	events := collectEvents(t, h, Request{UserInput: "  "})
	last := terminalOf(t, events)
	assert.Equal(t, core.KindError, last.Kind)
	assert.Equal(t, "content_drafting_failed", last.Context)
}

func TestDrafting_InsufficientDisclosure(t *testing.T) {
	mock := llm.NewMockGateway()
	mock.QueueFunctionCall("", `{"sufficient":false,"reasoning":"No components described.","missing_aspects":["component interactions","technical mechanism"]}`)

	h := NewDraftingHandler(mock, prompt.NewStore())
	events := collectEvents(t, h, Request{UserInput: "Patent my great idea"})

	last := terminalOf(t, events)
	require.Equal(t, core.KindResults, last.Kind)
	assert.Contains(t, last.Response, "more technical detail")
	assert.Contains(t, last.Response, "component interactions")
	assert.Equal(t, 1, mock.Calls())
}

func TestDrafting_GeneratesClaims(t *testing.T) {
	mock := llm.NewMockGateway()
	mock.QueueFunctionCall("Drafting claims now.",
		`{"claims":[{"claim_number":"1","claim_text":"1. A sensor system comprising a vibration sensor.","claim_type":"independent"},{"claim_number":"2","claim_text":"2. The system of claim 1, wherein the sensor is piezoelectric.","claim_type":"dependent","dependency":"1"}],"reasoning":"Focused on the sensing chain."}`)

	h := NewDraftingHandler(mock, prompt.NewStore())
	events := collectEvents(t, h, Request{UserInput: richDisclosure})

	last := terminalOf(t, events)
	require.Equal(t, core.KindResults, last.Kind)
	assert.True(t, strings.HasPrefix(last.Response, "Generated Patent Claims:"))
	claims, ok := last.Data["content"].([]DraftedClaim)
	require.True(t, ok)
	assert.Len(t, claims, 2)
	assert.Equal(t, "independent", claims[0].ClaimType)

	// Streamed content chunks surface as drafting thoughts.
	var thoughtTypes []string
	for _, ev := range events[:len(events)-1] {
		thoughtTypes = append(thoughtTypes, ev.ThoughtType)
	}
	assert.Contains(t, thoughtTypes, "assessment")
	assert.Contains(t, thoughtTypes, "drafting")
}

func TestDrafting_RespectsMaxClaimsParam(t *testing.T) {
	mock := llm.NewMockGateway()
	mock.QueueFunctionCall("",
		`{"claims":[{"claim_number":"1","claim_text":"1. A","claim_type":"independent"},{"claim_number":"2","claim_text":"2. B","claim_type":"dependent"}],"reasoning":"r"}`)

	h := NewDraftingHandler(mock, prompt.NewStore())
	events := collectEvents(t, h, Request{
		UserInput: richDisclosure,
		Params:    Params{"max_claims": float64(1)},
	})
	last := terminalOf(t, events)
	require.Equal(t, core.KindResults, last.Kind)
	claims := last.Data["content"].([]DraftedClaim)
	assert.Len(t, claims, 1)
}

func TestDrafting_NoClaimsGenerated(t *testing.T) {
	mock := llm.NewMockGateway()
	mock.QueueFunctionCall("some text", "")

	h := NewDraftingHandler(mock, prompt.NewStore())
	events := collectEvents(t, h, Request{UserInput: richDisclosure})
	last := terminalOf(t, events)
	assert.Equal(t, core.KindError, last.Kind)
	assert.Equal(t, "content_drafting_failed", last.Context)
}

func TestDrafting_GatewayFailure(t *testing.T) {
	mock := llm.NewMockGateway()
	mock.FailWith(assert.AnError)

	h := NewDraftingHandler(mock, prompt.NewStore())
	events := collectEvents(t, h, Request{UserInput: richDisclosure})
	last := terminalOf(t, events)
	assert.Equal(t, core.KindError, last.Kind)
	assert.Equal(t, "content_drafting_error", last.Context)
}

func TestSufficiencyScore(t *testing.T) {
	assert.Less(t, sufficiencyScore("patent my idea"), 0.5)
	assert.GreaterOrEqual(t, sufficiencyScore(richDisclosure), 0.5)
}
