package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/opencode-ai/assistcore/internal/event"
	"github.com/opencode-ai/assistcore/internal/provider"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// run drives one request to a terminal state.
func (r *Router) run(ctx context.Context, h *Handle, s requestSettings) {
	defer r.wg.Done()
	defer h.cancel()

	if !h.advance(types.StateDispatching, "") {
		return
	}

	candidates := r.source.SelectCandidates()
	if len(candidates) == 0 {
		r.fail(h, &types.Error{
			Kind:    types.ErrKindAllProvidersUnavailable,
			Message: "no enabled provider with a closed circuit",
		})
		return
	}

	attempts := make([]types.Attempt, 0, len(candidates))
	for _, c := range candidates {
		id := c.Config.ID
		out := r.attempt(ctx, h, c, s)
		if out.aborted {
			return
		}
		if out.err == nil {
			r.source.RecordOutcome(id, true)
			r.complete(h)
			return
		}

		// A cancel racing a pre-stream failure must not count against the provider.
		if h.State().Terminal() {
			return
		}
		a := types.Attempt{ProviderID: id, Kind: out.err.Kind, Message: out.err.Message}
		attempts = append(attempts, a)
		r.source.RecordOutcome(id, false)
		r.publishAttempt(h, a)
		r.log.Warn().
			Str("request", h.ID).
			Str("provider", id).
			Str("kind", string(out.err.Kind)).
			Int("status", out.err.StatusCode).
			Int("streamed", out.streamed).
			Msg(out.err.Message)

		if out.streamed > 0 {
			r.fail(h, &types.Error{
				Kind:       types.ErrKindStreamInterrupted,
				ProviderID: id,
				Message:    fmt.Sprintf("stream from %s failed after %d chunks: %s", id, out.streamed, out.err.Message),
				Attempts:   attempts,
				Chunks:     h.Chunks(),
				Err:        out.err,
			})
			return
		}
		if ctx.Err() != nil {
			r.fail(h, &types.Error{
				Kind:     types.ErrKindAllProvidersUnavailable,
				Message:  fmt.Sprintf("request exceeded %s after %d attempts", s.overall, len(attempts)),
				Attempts: attempts,
				Err:      out.err,
			})
			return
		}
		// Non-retriable rejections end the walk.
		if out.err.Kind == types.ErrKindProviderRejected && !out.err.Retriable {
			r.fail(h, &types.Error{
				Kind:       types.ErrKindAllProvidersUnavailable,
				ProviderID: id,
				Message:    fmt.Sprintf("%s rejected the request: %s", id, out.err.Message),
				StatusCode: out.err.StatusCode,
				Attempts:   attempts,
				Err:        out.err,
			})
			return
		}
	}

	r.fail(h, &types.Error{
		Kind:     types.ErrKindAllProvidersUnavailable,
		Message:  fmt.Sprintf("all %d providers failed", len(attempts)),
		Attempts: attempts,
	})
}

// outcome is the result of one attempt. A nil err with aborted unset means
// the provider delivered its final chunk.
type outcome struct {
	err      *types.Error
	streamed int
	aborted  bool
}

type recvResult struct {
	chunk *types.Chunk
	err   error
}

// attempt streams from one candidate until it finishes, fails, times out or
// the request ends. The pump goroutine is always drained before returning.
func (r *Router) attempt(ctx context.Context, h *Handle, c provider.Candidate, s requestSettings) outcome {
	id := c.Config.ID
	if !h.advance(types.StateDispatching, id) {
		return outcome{aborted: true}
	}
	r.log.Debug().Str("request", h.ID).Str("provider", id).Msg("dispatching")

	attemptCtx, cancel := context.WithCancel(ctx)
	results := make(chan recvResult)
	req := &provider.CompletionRequest{
		Snapshot:    h.Snapshot,
		Intent:      h.Intent,
		Messages:    r.framer(h.Snapshot, h.Intent),
		Model:       c.Config.Model,
		MaxTokens:   c.Config.MaxTokens,
		Temperature: s.temperature,
	}
	go pump(attemptCtx, c.Adapter, req, results)
	defer func() {
		cancel()
		for range results {
		}
	}()

	timer := time.NewTimer(s.interChunk)
	defer timer.Stop()

	streamed := 0
	for {
		select {
		case <-ctx.Done():
			if h.State().Terminal() {
				return outcome{aborted: true, streamed: streamed}
			}
			return outcome{
				err:      types.NewError(types.ErrKindProviderTimeout, id, fmt.Errorf("request exceeded %s", s.overall)),
				streamed: streamed,
			}

		case <-timer.C:
			return outcome{
				err:      types.NewError(types.ErrKindProviderTimeout, id, fmt.Errorf("no data within %s", s.interChunk)),
				streamed: streamed,
			}

		case res, ok := <-results:
			if !ok || errors.Is(res.err, io.EOF) {
				return outcome{
					err:      types.NewError(types.ErrKindStreamInterrupted, id, errors.New("stream ended without a completion signal")),
					streamed: streamed,
				}
			}
			if res.err != nil {
				return outcome{err: asProviderError(id, res.err), streamed: streamed}
			}

			if streamed == 0 {
				if !h.advance(types.StateStreaming, id) {
					return outcome{aborted: true}
				}
				r.publish(event.RequestStreaming, h)
			}
			if !h.forward(*res.chunk) {
				return outcome{aborted: true, streamed: streamed}
			}
			streamed++
			if res.chunk.Final {
				return outcome{streamed: streamed}
			}
			timer.Reset(s.interChunk)
		}
	}
}

// pump moves chunks from the adapter to the attempt loop. It stops when the
// stream ends or ctx is cancelled, closing the transport either way.
func pump(ctx context.Context, adapter provider.Adapter, req *provider.CompletionRequest, out chan<- recvResult) {
	defer close(out)

	stream, err := adapter.StreamComplete(ctx, req)
	if err != nil {
		send(ctx, out, recvResult{err: err})
		return
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if !send(ctx, out, recvResult{chunk: chunk, err: err}) || err != nil {
			return
		}
	}
}

func send(ctx context.Context, out chan<- recvResult, res recvResult) bool {
	select {
	case out <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

func asProviderError(providerID string, err error) *types.Error {
	var typed *types.Error
	if errors.As(err, &typed) {
		if typed.ProviderID == "" {
			typed.ProviderID = providerID
		}
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrKindProviderTimeout, providerID, err)
	}
	return types.NewError(types.ErrKindProviderUnavailable, providerID, err)
}
