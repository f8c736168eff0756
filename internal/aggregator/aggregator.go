// Package aggregator turns chunks arriving from a provider into the ordered,
// single-pass sequence a caller consumes.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sync"
	"time"

	"github.com/opencode-ai/assistcore/pkg/types"
)

// DefaultGapTimeout bounds how long a missing sequence number may hold back
// chunks that arrived after it.
const DefaultGapTimeout = 5 * time.Second

var (
	// ErrCancelled is returned by Next once the request was cancelled.
	ErrCancelled = errors.New("request cancelled")

	// ErrAlreadySubscribed is returned when a second consumer asks for the stream.
	ErrAlreadySubscribed = errors.New("stream already has a consumer")
)

type state int

const (
	stateOpen state = iota
	stateCompleted
	stateCancelled
	stateFailed
)

// Aggregator orders chunks by sequence number. Chunks may be pushed in any
// order; they are released to the consumer only once every predecessor has
// been released. Duplicates and chunks arriving after a terminal transition
// are dropped.
type Aggregator struct {
	mu sync.Mutex

	state   state
	err     error
	next    int64
	pending map[int64]types.Chunk
	ready   []types.Chunk
	emitted []types.Chunk

	gapTimeout time.Duration
	gapTimer   *time.Timer
	gapGen     uint64
	onGap      func(error)

	notify     chan struct{}
	subscribed bool
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithGapTimeout sets the gap bound. Non-positive values keep the default.
func WithGapTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.gapTimeout = d
		}
	}
}

// OnGapTimeout registers a callback run, outside the lock, when a gap
// outlives the bound and fails the aggregator.
func OnGapTimeout(fn func(error)) Option {
	return func(a *Aggregator) { a.onGap = fn }
}

// New creates an aggregator expecting sequence number 1 first.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		next:       1,
		pending:    make(map[int64]types.Chunk),
		gapTimeout: DefaultGapTimeout,
		notify:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Push offers a chunk. It reports whether the chunk was accepted.
func (a *Aggregator) Push(c types.Chunk) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != stateOpen || c.Seq < a.next {
		return false
	}
	if _, dup := a.pending[c.Seq]; dup {
		return false
	}
	a.pending[c.Seq] = c

	for {
		n, ok := a.pending[a.next]
		if !ok {
			break
		}
		delete(a.pending, a.next)
		a.next++
		a.ready = append(a.ready, n)
		a.emitted = append(a.emitted, n)
		if n.Final {
			a.state = stateCompleted
			a.pending = nil
			break
		}
	}

	a.updateGapTimer()
	a.signal()
	return true
}

// updateGapTimer starts the gap bound when chunks wait on a missing
// predecessor and stops it once nothing is waiting. Callers hold mu.
func (a *Aggregator) updateGapTimer() {
	waiting := a.state == stateOpen && len(a.pending) > 0
	switch {
	case waiting && a.gapTimer == nil:
		a.gapGen++
		gen, missing := a.gapGen, a.next
		a.gapTimer = time.AfterFunc(a.gapTimeout, func() { a.gapExpired(gen, missing) })
	case !waiting && a.gapTimer != nil:
		a.gapTimer.Stop()
		a.gapTimer = nil
		a.gapGen++
	}
}

func (a *Aggregator) gapExpired(gen uint64, missing int64) {
	a.mu.Lock()
	if gen != a.gapGen || a.state != stateOpen {
		a.mu.Unlock()
		return
	}
	err := &types.Error{
		Kind:    types.ErrKindSequenceGapTimeout,
		Message: fmt.Sprintf("chunk %d missing after %s", missing, a.gapTimeout),
		Chunks:  append([]types.Chunk(nil), a.emitted...),
	}
	a.terminate(stateFailed, err)
	onGap := a.onGap
	a.mu.Unlock()

	if onGap != nil {
		onGap(err)
	}
}

// Fail moves the aggregator to the failed state. Chunks not yet consumed
// are discarded; Next returns err from then on.
func (a *Aggregator) Fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == stateOpen {
		a.terminate(stateFailed, err)
	}
}

// Cancel moves the aggregator to the cancelled state. Chunks not yet
// consumed are discarded; Next returns ErrCancelled from then on.
func (a *Aggregator) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == stateOpen {
		a.terminate(stateCancelled, ErrCancelled)
	}
}

// terminate records a failed or cancelled transition. Callers hold mu.
func (a *Aggregator) terminate(s state, err error) {
	a.state = s
	a.err = err
	a.ready = nil
	a.pending = nil
	if a.gapTimer != nil {
		a.gapTimer.Stop()
		a.gapTimer = nil
	}
	a.gapGen++
	a.signal()
}

func (a *Aggregator) signal() {
	select {
	case a.notify <- struct{}{}:
	default:
	}
}

// Emitted returns the chunks released in order so far.
func (a *Aggregator) Emitted() []types.Chunk {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.Chunk(nil), a.emitted...)
}

// Stream returns the consumer side. Only one consumer is allowed.
func (a *Aggregator) Stream() (*Stream, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.subscribed {
		return nil, ErrAlreadySubscribed
	}
	a.subscribed = true
	return &Stream{agg: a}, nil
}

// pop returns the next released chunk, or the terminal error. ok is false
// while the consumer has to wait.
func (a *Aggregator) pop() (c types.Chunk, ok bool, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.ready) > 0 {
		c = a.ready[0]
		a.ready = a.ready[1:]
		return c, true, nil
	}
	switch a.state {
	case stateCompleted:
		return c, true, io.EOF
	case stateCancelled, stateFailed:
		return c, true, a.err
	}
	return c, false, nil
}

// Stream is a lazy, single-pass, non-restartable view of the ordered chunks.
type Stream struct {
	agg *Aggregator
}

// Next blocks until the next chunk is available. It returns io.EOF after the
// final chunk, ErrCancelled after cancellation, the failure error after a
// failure, or ctx.Err() if ctx ends first.
func (s *Stream) Next(ctx context.Context) (types.Chunk, error) {
	for {
		if c, ok, err := s.agg.pop(); ok {
			return c, err
		}
		select {
		case <-s.agg.notify:
		case <-ctx.Done():
			return types.Chunk{}, ctx.Err()
		}
	}
}

// All yields chunks until the stream ends. A clean finish ends the sequence
// without an error; any other ending is yielded once as the error.
func (s *Stream) All(ctx context.Context) iter.Seq2[types.Chunk, error] {
	return func(yield func(types.Chunk, error) bool) {
		for {
			c, err := s.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(types.Chunk{}, err)
				return
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}
