package router

import (
	"context"
	"sync"
	"time"

	"github.com/opencode-ai/assistcore/internal/aggregator"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// transitions lists the legal state changes of a request.
var transitions = map[types.RequestState][]types.RequestState{
	types.StateIdle:        {types.StateDispatching, types.StateCancelled, types.StateFailed},
	types.StateDispatching: {types.StateStreaming, types.StateCancelled, types.StateFailed},
	types.StateStreaming:   {types.StateCompleted, types.StateCancelled, types.StateFailed},
}

func canTransition(from, to types.RequestState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Handle tracks one logical request from submission to a terminal state.
type Handle struct {
	ID        string
	Intent    types.Intent
	Snapshot  types.ContextSnapshot
	CreatedAt time.Time

	agg    *aggregator.Aggregator
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      types.RequestState
	providerID string
	chunks     []types.Chunk
	err        *types.Error
	finishedAt time.Time
}

func newHandle(id string, intent types.Intent, snap types.ContextSnapshot, now time.Time) *Handle {
	return &Handle{
		ID:        id,
		Intent:    intent,
		Snapshot:  snap,
		CreatedAt: now,
		state:     types.StateIdle,
		done:      make(chan struct{}),
	}
}

// State returns the current state.
func (h *Handle) State() types.RequestState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ProviderID returns the provider currently or finally serving the request.
func (h *Handle) ProviderID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.providerID
}

// Chunks returns the chunks forwarded to the caller so far, in order.
func (h *Handle) Chunks() []types.Chunk {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.Chunk(nil), h.chunks...)
}

// Err returns the terminal error of a failed request.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err == nil {
		return nil
	}
	return h.err
}

// Done is closed when the request reaches a terminal state.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the request is terminal or ctx ends, and returns the
// final state.
func (h *Handle) Wait(ctx context.Context) (types.RequestState, error) {
	select {
	case <-h.done:
		return h.State(), nil
	case <-ctx.Done():
		return h.State(), ctx.Err()
	}
}

// Status is a point-in-time view of a handle.
type Status struct {
	ID         string             `json:"id"`
	State      types.RequestState `json:"state"`
	ProviderID string             `json:"providerID,omitempty"`
	Chunks     int                `json:"chunks"`
	CreatedAt  time.Time          `json:"createdAt"`
	FinishedAt *time.Time         `json:"finishedAt,omitempty"`
	Error      *types.Error       `json:"error,omitempty"`
}

// Status returns a snapshot of the handle.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := Status{
		ID:         h.ID,
		State:      h.state,
		ProviderID: h.providerID,
		Chunks:     len(h.chunks),
		CreatedAt:  h.CreatedAt,
		Error:      h.err,
	}
	if !h.finishedAt.IsZero() {
		t := h.finishedAt
		st.FinishedAt = &t
	}
	return st
}

// advance moves to a non-terminal state. It reports false when the request
// already moved on (for example, it was cancelled).
func (h *Handle) advance(to types.RequestState, providerID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state == to {
		h.providerID = providerID
		return true
	}
	if !canTransition(h.state, to) {
		return false
	}
	h.state = to
	if providerID != "" {
		h.providerID = providerID
	}
	return true
}

// forward hands a chunk to the aggregator and records it only when the
// aggregator accepted it, so Chunks matches what subscribers see. Chunks
// arriving after a terminal transition are dropped.
func (h *Handle) forward(c types.Chunk) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() {
		return false
	}
	if h.agg.Push(c) {
		h.chunks = append(h.chunks, c)
	}
	return true
}

// finish moves to a terminal state at most once and reports whether this
// call performed the transition.
func (h *Handle) finish(to types.RequestState, err *types.Error, now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.state.Terminal() || !canTransition(h.state, to) {
		return false
	}
	h.state = to
	h.err = err
	h.finishedAt = now

	switch to {
	case types.StateCancelled:
		h.agg.Cancel()
	case types.StateFailed:
		h.agg.Fail(err)
	}
	close(h.done)
	return true
}
