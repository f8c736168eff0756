package provider

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/assistcore/internal/event"
	"github.com/opencode-ai/assistcore/internal/logging"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// Candidate is a provider eligible for an attempt: a private copy of its
// config plus the adapter built from it.
type Candidate struct {
	Config  types.ProviderConfig
	Adapter Adapter
}

type entry struct {
	cfg     types.ProviderConfig
	adapter Adapter
	health  *healthRecord
}

// Registry holds configured adapters, their priority order and health.
// Candidate selection reads an immutable, atomically swapped entry list and
// the last published health of each provider, so it never blocks on writers.
type Registry struct {
	entries atomic.Pointer[[]*entry]

	// updateMu serializes configuration updates.
	updateMu sync.Mutex

	breaker BreakerConfig
	factory Factory
	bus     *event.Bus
	now     func() time.Time
	log     zerolog.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithBreaker sets the circuit breaker configuration.
func WithBreaker(cfg BreakerConfig) RegistryOption {
	return func(r *Registry) { r.breaker = cfg.withDefaults() }
}

// WithFactory sets the factory used by Update to build adapters.
func WithFactory(f Factory) RegistryOption {
	return func(r *Registry) { r.factory = f }
}

// WithEventBus publishes circuit and configuration events to bus.
func WithEventBus(bus *event.Bus) RegistryOption {
	return func(r *Registry) { r.bus = bus }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty provider registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		breaker: DefaultBreakerConfig(),
		now:     time.Now,
		log:     logging.Component("registry"),
	}
	for _, opt := range opts {
		opt(r)
	}
	empty := []*entry{}
	r.entries.Store(&empty)
	return r
}

func (r *Registry) list() []*entry {
	return *r.entries.Load()
}

// Register adds or replaces a provider with a prebuilt adapter. The health
// of an existing provider with the same ID is kept.
func (r *Registry) Register(cfg types.ProviderConfig, adapter Adapter) {
	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	old := r.list()
	next := make([]*entry, 0, len(old)+1)
	var health *healthRecord
	for _, e := range old {
		if e.cfg.ID == cfg.ID {
			health = e.health
			continue
		}
		next = append(next, e)
	}
	if health == nil {
		health = newHealthRecord(r.breaker)
	}
	next = append(next, &entry{cfg: cfg.Clone(), adapter: adapter, health: health})
	sortEntries(next)
	r.entries.Store(&next)
}

// Update replaces the configured providers. Adapters are built with the
// registry's factory; providers whose adapter cannot be built are left out
// and reported in the returned error. Health survives for IDs present both
// before and after. In-flight requests keep the config copies they captured.
func (r *Registry) Update(ctx context.Context, configs []types.ProviderConfig) error {
	if r.factory == nil {
		return fmt.Errorf("registry has no adapter factory")
	}

	r.updateMu.Lock()
	defer r.updateMu.Unlock()

	previous := make(map[string]*healthRecord)
	for _, e := range r.list() {
		previous[e.cfg.ID] = e.health
	}

	var errs []error
	next := make([]*entry, 0, len(configs))
	ids := make([]string, 0, len(configs))
	for _, cfg := range configs {
		adapter, err := r.factory(ctx, cfg)
		if err != nil {
			r.log.Warn().Err(err).Str("provider", cfg.ID).Msg("provider not registered")
			errs = append(errs, err)
			continue
		}
		health, ok := previous[cfg.ID]
		if !ok {
			health = newHealthRecord(r.breaker)
		}
		next = append(next, &entry{cfg: cfg.Clone(), adapter: adapter, health: health})
		ids = append(ids, cfg.ID)
	}
	sortEntries(next)
	r.entries.Store(&next)

	r.log.Info().Strs("providers", ids).Msg("providers updated")
	r.publish(event.ProvidersUpdated, event.ProvidersData{ProviderIDs: ids})
	return errors.Join(errs...)
}

// sortEntries orders by ascending priority, then ID for a stable order.
func sortEntries(entries []*entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].cfg.Priority != entries[j].cfg.Priority {
			return entries[i].cfg.Priority < entries[j].cfg.Priority
		}
		return entries[i].cfg.ID < entries[j].cfg.ID
	})
}

// SelectCandidates returns enabled providers whose circuit is not open, in
// ascending priority order. The result may be empty.
func (r *Registry) SelectCandidates() []Candidate {
	now := r.now()
	entries := r.list()
	out := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		if !e.cfg.IsEnabled() {
			continue
		}
		if e.health.load().CircuitOpen(now) {
			continue
		}
		out = append(out, Candidate{Config: e.cfg.Clone(), Adapter: e.adapter})
	}
	return out
}

// RecordOutcome updates a provider's health after an attempt. Failures past
// the breaker threshold open the circuit for a growing cool-down; a success
// closes it and resets the counter. Unknown IDs are ignored.
func (r *Registry) RecordOutcome(providerID string, success bool) {
	e := r.find(providerID)
	if e == nil {
		return
	}

	h, tr := e.health.record(success, r.now(), r.breaker.FailureThreshold)
	switch tr {
	case transitionOpened:
		r.log.Warn().
			Str("provider", providerID).
			Int("failures", h.ConsecutiveFailures).
			Time("openUntil", h.CircuitOpenUntil).
			Msg("circuit opened")
		r.publish(event.CircuitOpened, event.CircuitData{
			ProviderID:          providerID,
			ConsecutiveFailures: h.ConsecutiveFailures,
			OpenUntil:           h.CircuitOpenUntil,
		})
	case transitionClosed:
		r.log.Info().Str("provider", providerID).Msg("provider healthy again")
		r.publish(event.CircuitClosed, event.CircuitData{ProviderID: providerID})
	}
}

// Health returns the health of a provider.
func (r *Registry) Health(providerID string) (types.ProviderHealth, bool) {
	e := r.find(providerID)
	if e == nil {
		return types.ProviderHealth{}, false
	}
	return e.health.load(), true
}

// Statuses returns config and health for every registered provider, in
// priority order.
func (r *Registry) Statuses() []types.ProviderStatus {
	now := r.now()
	entries := r.list()
	out := make([]types.ProviderStatus, 0, len(entries))
	for _, e := range entries {
		h := e.health.load()
		out = append(out, types.ProviderStatus{
			Config:      e.cfg.Clone(),
			Health:      h,
			CircuitOpen: h.CircuitOpen(now),
		})
	}
	return out
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	return len(r.list())
}

func (r *Registry) find(id string) *entry {
	for _, e := range r.list() {
		if e.cfg.ID == id {
			return e
		}
	}
	return nil
}

func (r *Registry) publish(t event.EventType, data any) {
	if r.bus != nil {
		r.bus.Publish(event.Event{Type: t, Data: data})
	}
}
