package provider

import (
	"errors"
	"io"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/opencode-ai/assistcore/pkg/types"
)

// frame is one decoded unit from a backend stream.
type frame struct {
	text string
	done bool
}

// frameSource yields decoded frames from a backend-specific transport.
// next returns io.EOF when the transport ends.
type frameSource interface {
	next() (frame, error)
	close()
}

// CompletionStream is a lazy sequence of chunks from one adapter call.
// It numbers chunks from 1 and marks the chunk carrying the backend's
// completion signal as final; after that Recv returns io.EOF. A transport
// that ends without a completion signal yields StreamInterrupted.
// CompletionStream is not safe for concurrent Recv calls.
type CompletionStream struct {
	providerID string
	src        frameSource
	seq        int64
	done       bool
	closeOnce  sync.Once
}

func newCompletionStream(providerID string, src frameSource) *CompletionStream {
	return &CompletionStream{providerID: providerID, src: src}
}

// NewEinoStream wraps an Eino message stream.
func NewEinoStream(providerID string, reader *schema.StreamReader[*schema.Message]) *CompletionStream {
	return newCompletionStream(providerID, &einoSource{providerID: providerID, reader: reader})
}

// Recv receives the next chunk.
func (s *CompletionStream) Recv() (*types.Chunk, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		f, err := s.src.next()
		if errors.Is(err, io.EOF) {
			s.done = true
			return nil, &types.Error{
				Kind:       types.ErrKindStreamInterrupted,
				ProviderID: s.providerID,
				Message:    "stream ended without a completion signal",
			}
		}
		if err != nil {
			s.done = true
			return nil, classifyError(s.providerID, err)
		}
		if f.text == "" && !f.done {
			continue
		}
		s.seq++
		s.done = f.done
		return &types.Chunk{
			Seq:        s.seq,
			Text:       f.text,
			Final:      f.done,
			ProviderID: s.providerID,
		}, nil
	}
}

// Close releases the underlying transport. Safe to call more than once.
func (s *CompletionStream) Close() {
	s.closeOnce.Do(s.src.close)
}

// einoSource adapts an Eino StreamReader. A message with a finish reason
// is the completion signal.
type einoSource struct {
	providerID string
	reader     *schema.StreamReader[*schema.Message]
}

func (e *einoSource) next() (frame, error) {
	msg, err := e.reader.Recv()
	if err != nil {
		return frame{}, err
	}
	if msg == nil {
		return frame{}, nil
	}
	f := frame{text: msg.Content}
	if msg.ResponseMeta != nil && msg.ResponseMeta.FinishReason != "" {
		f.done = true
	}
	return f, nil
}

func (e *einoSource) close() { e.reader.Close() }
