package router

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/assistcore/internal/provider"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// step is one scripted action of a fakeAdapter stream.
type step struct {
	text  string
	final bool
	err   error
	delay time.Duration
	// gate, when set, blocks the step until closed.
	gate <-chan struct{}
}

// fakeAdapter replays a script through an Eino pipe, the same path real
// chat model adapters take.
type fakeAdapter struct {
	id       string
	startErr error
	steps    []step
	// hang keeps the stream open after the script until ctx ends.
	hang bool
	// onStart runs before the start error or script.
	onStart func()
	calls   atomic.Int32
}

func (f *fakeAdapter) ID() string               { return f.id }
func (f *fakeAdapter) Kind() types.ProviderKind { return types.KindCustom }

func (f *fakeAdapter) StreamComplete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionStream, error) {
	f.calls.Add(1)
	if f.onStart != nil {
		f.onStart()
	}
	if f.startErr != nil {
		return nil, f.startErr
	}

	sr, sw := schema.Pipe[*schema.Message](0)
	go func() {
		defer sw.Close()
		for _, st := range f.steps {
			if st.gate != nil {
				select {
				case <-st.gate:
				case <-ctx.Done():
					sw.Send(nil, ctx.Err())
					return
				}
			}
			if st.delay > 0 {
				select {
				case <-time.After(st.delay):
				case <-ctx.Done():
					sw.Send(nil, ctx.Err())
					return
				}
			}
			if st.err != nil {
				sw.Send(nil, st.err)
				return
			}
			msg := &schema.Message{Role: schema.Assistant, Content: st.text}
			if st.final {
				msg.ResponseMeta = &schema.ResponseMeta{FinishReason: "stop"}
			}
			if closed := sw.Send(msg, nil); closed {
				return
			}
		}
		if f.hang {
			<-ctx.Done()
			sw.Send(nil, ctx.Err())
		}
	}()
	return provider.NewEinoStream(f.id, sr), nil
}

// words scripts n text chunks, the last one final.
func words(n int) []step {
	steps := make([]step, n)
	for i := range steps {
		steps[i] = step{text: string(rune('a' + i))}
	}
	steps[n-1].final = true
	return steps
}

func rejected(status int, retriable bool) *types.Error {
	return &types.Error{
		Kind:       types.ErrKindProviderRejected,
		Message:    "rejected",
		StatusCode: status,
		Retriable:  retriable,
	}
}

func unavailable() *types.Error {
	return &types.Error{Kind: types.ErrKindProviderUnavailable, Message: "connection refused"}
}
