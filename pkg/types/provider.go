package types

import (
	"fmt"
	"time"
)

// ProviderKind identifies the wire protocol family of a backend.
type ProviderKind string

const (
	KindOpenAI ProviderKind = "openai-compatible"
	KindClaude ProviderKind = "claude-compatible"
	KindOllama ProviderKind = "ollama-compatible"
	KindCustom ProviderKind = "custom"
	KindArk    ProviderKind = "ark-compatible"
)

// ProviderKinds lists every kind the registry knows how to build.
var ProviderKinds = []ProviderKind{KindOpenAI, KindClaude, KindOllama, KindCustom, KindArk}

// Valid reports whether k is a known provider kind.
func (k ProviderKind) Valid() bool {
	for _, known := range ProviderKinds {
		if k == known {
			return true
		}
	}
	return false
}

// ProviderConfig describes one configured backend.
// CredentialRef is an opaque reference resolved by a secret store
// (e.g. "env:OPENAI_API_KEY"), never the secret itself.
type ProviderConfig struct {
	ID            string         `json:"id" yaml:"id"`
	Kind          ProviderKind   `json:"kind" yaml:"kind"`
	Endpoint      string         `json:"endpoint" yaml:"endpoint"`
	CredentialRef string         `json:"credentialRef,omitempty" yaml:"credentialRef,omitempty"`
	Priority      int            `json:"priority" yaml:"priority"`
	Enabled       *bool          `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	Model         string         `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens     int            `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty"`
	Options       map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// IsEnabled returns the Enabled flag, defaulting to true when unset.
func (c ProviderConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// Clone returns a deep copy safe to hand to an in-flight request.
func (c ProviderConfig) Clone() ProviderConfig {
	out := c
	if c.Enabled != nil {
		v := *c.Enabled
		out.Enabled = &v
	}
	if c.Options != nil {
		out.Options = make(map[string]any, len(c.Options))
		for k, v := range c.Options {
			out.Options[k] = v
		}
	}
	return out
}

// Option returns a string option, or def when missing.
func (c ProviderConfig) Option(key, def string) string {
	if v, ok := c.Options[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
		return fmt.Sprint(v)
	}
	return def
}

// ProviderHealth tracks recent outcomes for one provider.
type ProviderHealth struct {
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastFailureAt       time.Time `json:"lastFailureAt,omitempty"`
	CircuitOpenUntil    time.Time `json:"circuitOpenUntil,omitempty"`
	TotalSuccesses      int64     `json:"totalSuccesses"`
	TotalFailures       int64     `json:"totalFailures"`
}

// CircuitOpen reports whether the provider is excluded from selection at now.
func (h ProviderHealth) CircuitOpen(now time.Time) bool {
	return !h.CircuitOpenUntil.IsZero() && now.Before(h.CircuitOpenUntil)
}

// ProviderStatus pairs a provider's config with its current health.
type ProviderStatus struct {
	Config      ProviderConfig `json:"config"`
	Health      ProviderHealth `json:"health"`
	CircuitOpen bool           `json:"circuitOpen"`
}
