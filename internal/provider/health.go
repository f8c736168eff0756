package provider

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/opencode-ai/assistcore/pkg/types"
)

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// InitialCooldown is the first open period.
	InitialCooldown time.Duration
	// MaxCooldown caps the open period.
	MaxCooldown time.Duration
	// Multiplier grows the open period each time the circuit re-opens.
	Multiplier float64
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 3,
		InitialCooldown:  30 * time.Second,
		MaxCooldown:      5 * time.Minute,
		Multiplier:       2.0,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.InitialCooldown <= 0 {
		c.InitialCooldown = d.InitialCooldown
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = d.MaxCooldown
	}
	if c.MaxCooldown < c.InitialCooldown {
		c.MaxCooldown = c.InitialCooldown
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	return c
}

// newCooldown creates the deterministic exponential schedule for circuit
// open periods. It never stops on its own; Reset restarts it at the
// initial interval.
func newCooldown(cfg BreakerConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialCooldown
	b.MaxInterval = cfg.MaxCooldown
	b.Multiplier = cfg.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// healthRecord holds one provider's health. Writes serialize on mu; reads
// load the last published copy without locking.
type healthRecord struct {
	mu       sync.Mutex
	health   types.ProviderHealth
	cooldown *backoff.ExponentialBackOff
	snapshot atomic.Pointer[types.ProviderHealth]
}

func newHealthRecord(cfg BreakerConfig) *healthRecord {
	r := &healthRecord{cooldown: newCooldown(cfg)}
	r.publish()
	return r
}

func (r *healthRecord) publish() {
	h := r.health
	r.snapshot.Store(&h)
}

// load returns the most recently published health.
func (r *healthRecord) load() types.ProviderHealth {
	return *r.snapshot.Load()
}

// transition describes what a recorded outcome did to the circuit.
type transition int

const (
	transitionNone transition = iota
	transitionOpened
	transitionClosed
)

// record applies one outcome and reports the circuit transition it caused.
func (r *healthRecord) record(success bool, now time.Time, threshold int) (types.ProviderHealth, transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer r.publish()

	if success {
		wasFailing := r.health.ConsecutiveFailures > 0 || !r.health.CircuitOpenUntil.IsZero()
		r.health.ConsecutiveFailures = 0
		r.health.CircuitOpenUntil = time.Time{}
		r.health.TotalSuccesses++
		r.cooldown.Reset()
		if wasFailing {
			return r.health, transitionClosed
		}
		return r.health, transitionNone
	}

	r.health.ConsecutiveFailures++
	r.health.TotalFailures++
	r.health.LastFailureAt = now
	if r.health.ConsecutiveFailures >= threshold {
		r.health.CircuitOpenUntil = now.Add(r.cooldown.NextBackOff())
		return r.health, transitionOpened
	}
	return r.health, transitionNone
}
