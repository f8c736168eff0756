// Package router drives each request through provider selection, streaming,
// fallback and cancellation.
//
// A request moves through
//
//	idle -> dispatching -> streaming -> completed
//	                    \            \-> failed | cancelled
//	                     \-> failed | cancelled
//
// Candidates are tried in priority order, each at most once, while nothing
// has been streamed. Once a chunk has reached the caller the request is
// committed to that provider: a later failure ends the request with
// StreamInterrupted rather than splicing output from another backend.
package router

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/assistcore/internal/aggregator"
	"github.com/opencode-ai/assistcore/internal/event"
	"github.com/opencode-ai/assistcore/internal/logging"
	"github.com/opencode-ai/assistcore/internal/provider"
	"github.com/opencode-ai/assistcore/internal/snapshot"
	"github.com/opencode-ai/assistcore/pkg/types"
)

var (
	// ErrNotFound is returned for unknown or released request IDs.
	ErrNotFound = errors.New("request not found")
	// ErrClosed is returned by Submit after Shutdown.
	ErrClosed = errors.New("router is shut down")
)

// Config holds router defaults.
type Config struct {
	// InterChunkTimeout bounds the wait for the first and every following chunk.
	InterChunkTimeout time.Duration
	// RequestTimeout bounds a whole request across all attempts.
	RequestTimeout time.Duration
	// GapTimeout bounds how long out-of-order chunks may wait for a predecessor.
	GapTimeout time.Duration
	// Retention is how long a terminal request stays retrievable before it
	// is released automatically. Zero keeps it until Release.
	Retention time.Duration
}

// DefaultConfig returns the default router settings.
func DefaultConfig() Config {
	return Config{
		InterChunkTimeout: 30 * time.Second,
		RequestTimeout:    5 * time.Minute,
		GapTimeout:        aggregator.DefaultGapTimeout,
		Retention:         10 * time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.InterChunkTimeout <= 0 {
		c.InterChunkTimeout = d.InterChunkTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.GapTimeout <= 0 {
		c.GapTimeout = d.GapTimeout
	}
	return c
}

// CandidateSource supplies providers to try and receives attempt outcomes.
// *provider.Registry implements it.
type CandidateSource interface {
	SelectCandidates() []provider.Candidate
	RecordOutcome(providerID string, success bool)
}

// SnapshotBuilder builds the editor context for a request.
// *snapshot.Builder implements it.
type SnapshotBuilder interface {
	Build(ctx context.Context, opts snapshot.Options) (types.ContextSnapshot, error)
}

// Router owns all in-flight requests.
type Router struct {
	source  CandidateSource
	builder SnapshotBuilder
	framer  provider.Framer
	cfg     Config
	bus     *event.Bus
	now     func() time.Time
	log     zerolog.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
	closed  bool
	wg      sync.WaitGroup
}

// Option configures a Router.
type Option func(*Router)

// WithConfig sets timeouts and retention.
func WithConfig(cfg Config) Option {
	return func(r *Router) { r.cfg = cfg.withDefaults() }
}

// WithEventBus publishes request lifecycle events to bus.
func WithEventBus(bus *event.Bus) Option {
	return func(r *Router) { r.bus = bus }
}

// WithFramer replaces the default message framing.
func WithFramer(f provider.Framer) Option {
	return func(r *Router) { r.framer = f }
}

// New creates a router. builder may be nil when every request is submitted
// with SubmitSnapshot.
func New(source CandidateSource, builder SnapshotBuilder, opts ...Option) *Router {
	r := &Router{
		source:  source,
		builder: builder,
		framer:  provider.DefaultFramer,
		cfg:     DefaultConfig(),
		now:     time.Now,
		log:     logging.Component("router"),
		handles: make(map[string]*Handle),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RequestOption overrides router defaults for one request.
type RequestOption func(*requestSettings)

type requestSettings struct {
	interChunk  time.Duration
	overall     time.Duration
	temperature float64
}

// WithInterChunkTimeout overrides the inter-chunk timeout.
func WithInterChunkTimeout(d time.Duration) RequestOption {
	return func(s *requestSettings) {
		if d > 0 {
			s.interChunk = d
		}
	}
}

// WithRequestTimeout overrides the overall request timeout.
func WithRequestTimeout(d time.Duration) RequestOption {
	return func(s *requestSettings) {
		if d > 0 {
			s.overall = d
		}
	}
}

// WithTemperature sets the sampling temperature passed to adapters.
func WithTemperature(t float64) RequestOption {
	return func(s *requestSettings) { s.temperature = t }
}

// Submit builds a snapshot with the router's builder and starts the request.
// A snapshot error, such as NoActiveDocument, is returned without creating
// a request.
func (r *Router) Submit(ctx context.Context, intent types.Intent, opts snapshot.Options, reqOpts ...RequestOption) (*Handle, error) {
	if r.builder == nil {
		return nil, errors.New("router has no snapshot builder")
	}
	snap, err := r.builder.Build(ctx, opts)
	if err != nil {
		return nil, err
	}
	return r.SubmitSnapshot(ctx, intent, snap, reqOpts...)
}

// SubmitSnapshot starts a request for an already built snapshot. The request
// outlives ctx; end it with Cancel.
func (r *Router) SubmitSnapshot(ctx context.Context, intent types.Intent, snap types.ContextSnapshot, reqOpts ...RequestOption) (*Handle, error) {
	settings := requestSettings{
		interChunk: r.cfg.InterChunkTimeout,
		overall:    r.cfg.RequestTimeout,
	}
	for _, opt := range reqOpts {
		opt(&settings)
	}

	h := newHandle(ulid.Make().String(), intent, snap, r.now())
	h.agg = aggregator.New(
		aggregator.WithGapTimeout(r.cfg.GapTimeout),
		aggregator.OnGapTimeout(func(err error) { r.failGap(h, err) }),
	)
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settings.overall)
	h.cancel = cancel

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		return nil, ErrClosed
	}
	r.handles[h.ID] = h
	r.wg.Add(1)
	r.mu.Unlock()

	r.log.Debug().
		Str("request", h.ID).
		Str("intent", string(intent.Kind)).
		Int("snapshotBytes", snap.Size()).
		Msg("request submitted")
	r.publish(event.RequestSubmitted, h)

	go r.run(reqCtx, h, settings)
	return h, nil
}

// Get returns a request handle.
func (r *Router) Get(id string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// Requests returns the status of every retained request.
func (r *Router) Requests() []Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Status, 0, len(r.handles))
	for _, h := range r.handles {
		out = append(out, h.Status())
	}
	return out
}

// Subscribe returns the ordered chunk stream of a request. Each request
// has exactly one consumer.
func (r *Router) Subscribe(id string) (*aggregator.Stream, error) {
	h, ok := r.Get(id)
	if !ok {
		return nil, ErrNotFound
	}
	return h.agg.Stream()
}

// Cancel stops a request. No further chunks are forwarded and the serving
// provider's health is not penalized. Cancelling a terminal request is a
// no-op.
func (r *Router) Cancel(id string) error {
	h, ok := r.Get(id)
	if !ok {
		return ErrNotFound
	}
	r.cancelHandle(h)
	return nil
}

func (r *Router) cancelHandle(h *Handle) {
	if h.finish(types.StateCancelled, nil, r.now()) {
		h.cancel()
		r.terminated(h)
	}
}

// Release forgets a request, cancelling it first if it is still running.
func (r *Router) Release(id string) error {
	h, ok := r.Get(id)
	if !ok {
		return ErrNotFound
	}
	r.cancelHandle(h)
	r.remove(id)
	return nil
}

func (r *Router) remove(id string) {
	r.mu.Lock()
	delete(r.handles, id)
	r.mu.Unlock()
}

// Shutdown cancels every running request and waits for their goroutines.
func (r *Router) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	handles := make([]*Handle, 0, len(r.handles))
	for _, h := range r.handles {
		handles = append(handles, h)
	}
	r.mu.Unlock()

	for _, h := range handles {
		r.cancelHandle(h)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// failGap ends a request whose chunks stayed out of order too long.
func (r *Router) failGap(h *Handle, err error) {
	var typed *types.Error
	if !errors.As(err, &typed) {
		typed = types.NewError(types.ErrKindSequenceGapTimeout, "", err)
	}
	if typed.ProviderID == "" {
		typed.ProviderID = h.ProviderID()
	}
	if h.finish(types.StateFailed, typed, r.now()) {
		h.cancel()
		r.terminated(h)
	}
}

func (r *Router) complete(h *Handle) {
	if h.finish(types.StateCompleted, nil, r.now()) {
		r.terminated(h)
	}
}

func (r *Router) fail(h *Handle, err *types.Error) {
	if h.finish(types.StateFailed, err, r.now()) {
		r.terminated(h)
	}
}

// terminated logs and publishes a terminal transition and schedules the
// automatic release.
func (r *Router) terminated(h *Handle) {
	st := h.Status()

	var (
		evt *zerolog.Event
		typ event.EventType
	)
	switch st.State {
	case types.StateCompleted:
		evt, typ = r.log.Info(), event.RequestCompleted
	case types.StateCancelled:
		evt, typ = r.log.Info(), event.RequestCancelled
	default:
		evt, typ = r.log.Warn(), event.RequestFailed
		if st.Error != nil {
			evt = evt.Str("kind", string(st.Error.Kind)).Err(st.Error)
		}
	}
	evt.Str("request", h.ID).
		Str("provider", st.ProviderID).
		Int("chunks", st.Chunks).
		Dur("elapsed", r.now().Sub(h.CreatedAt)).
		Msg("request " + string(st.State))
	r.publish(typ, h)

	if r.cfg.Retention > 0 {
		id := h.ID
		time.AfterFunc(r.cfg.Retention, func() { r.remove(id) })
	}
}

func (r *Router) publish(t event.EventType, h *Handle) {
	if r.bus == nil {
		return
	}
	st := h.Status()
	r.bus.Publish(event.Event{Type: t, Data: event.RequestData{
		RequestID:  h.ID,
		State:      st.State,
		ProviderID: st.ProviderID,
		Chunks:     int64(st.Chunks),
		Error:      st.Error,
	}})
}

func (r *Router) publishAttempt(h *Handle, a types.Attempt) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(event.Event{Type: event.AttemptFailed, Data: event.AttemptData{
		RequestID:  h.ID,
		ProviderID: a.ProviderID,
		Kind:       a.Kind,
		Message:    a.Message,
	}})
}
