package llm

import (
	"context"
	"fmt"
	"sync"
)

// CallLimiter enforces a maximum number of gateway calls, keeping the model
// call budget bounded even when a handler loops.
type CallLimiter struct {
	max   int
	count int
	mu    sync.Mutex
}

// NewCallLimiter creates a limiter with a max number of calls.
// If max == 0, unlimited calls are allowed.
func NewCallLimiter(max int) *CallLimiter {
	return &CallLimiter{max: max}
}

// Increment increases the call counter and returns an error if the limit is exceeded.
func (cl *CallLimiter) Increment() error {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cl.count++
	if cl.max > 0 && cl.count > cl.max {
		return fmt.Errorf("exceeded max model calls: %d", cl.max)
	}
	return nil
}

// Count returns the current number of calls made.
func (cl *CallLimiter) Count() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.count
}

// Remaining returns how many calls are left before hitting the limit,
// or -1 when unlimited.
func (cl *CallLimiter) Remaining() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.max == 0 {
		return -1
	}
	return cl.max - cl.count
}

// LimitedGateway wraps a Gateway and refuses calls once its CallLimiter is
// exhausted, turning a runaway call loop into a clean stream error instead of
// an unbounded provider bill.
type LimitedGateway struct {
	inner   Gateway
	limiter *CallLimiter
}

// Limit wraps g with a call budget. max == 0 disables the budget.
func Limit(g Gateway, max int) *LimitedGateway {
	return &LimitedGateway{inner: g, limiter: NewCallLimiter(max)}
}

// Generate implements Gateway.
func (g *LimitedGateway) Generate(ctx context.Context, req Request) (<-chan Chunk, <-chan error) {
	if err := g.limiter.Increment(); err != nil {
		out := make(chan Chunk)
		errCh := make(chan error, 1)
		errCh <- err
		close(out)
		close(errCh)
		return out, errCh
	}
	return g.inner.Generate(ctx, req)
}

// Info implements Gateway.
func (g *LimitedGateway) Info() Info { return g.inner.Info() }

// Calls returns the number of calls attempted so far.
func (g *LimitedGateway) Calls() int { return g.limiter.Count() }
