package draftforge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/core"
	"github.com/draftforge/draftforge/llm"
	"github.com/draftforge/draftforge/orchestrator"
)

func TestNew_DefaultWiring(t *testing.T) {
	df, err := New(llm.NewMockGateway())
	require.NoError(t, err)

	names := df.Orchestrator().Handlers()
	assert.Equal(t, "claim_drafting", names[core.IntentContentDrafting])
	assert.Equal(t, "claim_review", names[core.IntentContentReview])
	assert.Equal(t, "patent_guidance", names[core.IntentGuidance])
	assert.Equal(t, "general_conversation", names[core.IntentGeneralConversation])
	assert.NotContains(t, names, core.IntentSearch, "search stays unregistered without a searcher")
	assert.Nil(t, df.PriorArtHandler())
}

func TestHandleSync_ConversationRoundTrip(t *testing.T) {
	mock := llm.NewMockGateway()
	mock.QueueResponse("Hello! How can I help with your patent work?")

	df, err := New(mock)
	require.NoError(t, err)

	runID, events, err := df.HandleSync(context.Background(), orchestrator.Request{
		UserInput: "hello there",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, runID)
	require.NotEmpty(t, events)

	last := events[len(events)-1]
	assert.Equal(t, core.KindResults, last.Kind)
	assert.Contains(t, last.Response, "How can I help")

	n, err := df.SessionStore().Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_ModelCallBudget(t *testing.T) {
	mock := llm.NewMockGateway()
	df, err := New(mock, func(o *Options) { o.MaxModelCalls = 1 })
	require.NoError(t, err)

	_, events, err := df.HandleSync(context.Background(), orchestrator.Request{UserInput: "hello there"})
	require.NoError(t, err)
	require.NotEmpty(t, events)

	_, events, err = df.HandleSync(context.Background(), orchestrator.Request{UserInput: "hi once more"})
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, core.KindError, last.Kind)
	assert.Contains(t, last.Err, "exceeded max model calls")
}
