package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallLimiter(t *testing.T) {
	cl := NewCallLimiter(2)
	require.NoError(t, cl.Increment())
	require.NoError(t, cl.Increment())
	assert.Error(t, cl.Increment())
	assert.Equal(t, 3, cl.Count())
	assert.Equal(t, -1, cl.Remaining())
}

func TestCallLimiter_Unlimited(t *testing.T) {
	cl := NewCallLimiter(0)
	for i := 0; i < 100; i++ {
		require.NoError(t, cl.Increment())
	}
	assert.Equal(t, -1, cl.Remaining())
}

func TestLimitedGateway_EnforcesBudget(t *testing.T) {
	mock := NewMockGateway()
	mock.QueueResponse("ok")
	g := Limit(mock, 1)

	out, errCh := g.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	text, _, err := CollectText(context.Background(), out, errCh)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)

	out, errCh = g.Generate(context.Background(), Request{
		Messages: []Message{{Role: "user", Content: "hi again"}},
	})
	_, _, err = CollectText(context.Background(), out, errCh)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded max model calls")
	assert.Equal(t, 1, mock.Calls(), "inner gateway must not see over-budget calls")
}
