package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Config represents the assistcore configuration file.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel,omitempty"`

	// Providers in any order; Priority decides the order of attempts.
	Providers []ProviderConfig `json:"providers,omitempty"`

	Router   RouterConfig   `json:"router,omitempty"`
	Snapshot SnapshotConfig `json:"snapshot,omitempty"`
	Breaker  BreakerConfig  `json:"breaker,omitempty"`
	Server   ServerConfig   `json:"server,omitempty"`
}

// RouterConfig holds request timeouts. Zero values use built-in defaults.
type RouterConfig struct {
	InterChunkTimeout Duration `json:"interChunkTimeout,omitempty"`
	RequestTimeout    Duration `json:"requestTimeout,omitempty"`
	GapTimeout        Duration `json:"gapTimeout,omitempty"`
	Retention         Duration `json:"retention,omitempty"`
}

// SnapshotConfig holds snapshot defaults.
type SnapshotConfig struct {
	MaxBytes              int      `json:"maxBytes,omitempty"`
	IncludeSelection      *bool    `json:"includeSelection,omitempty"`
	IncludeWorkspaceRoot  *bool    `json:"includeWorkspaceRoot,omitempty"`
	IncludeTerminal       bool     `json:"includeTerminal,omitempty"`
	RequireActiveDocument bool     `json:"requireActiveDocument,omitempty"`
	ExcludePatterns       []string `json:"excludePatterns,omitempty"`
}

// BreakerConfig tunes the per-provider circuit breaker.
type BreakerConfig struct {
	FailureThreshold int      `json:"failureThreshold,omitempty"`
	InitialCooldown  Duration `json:"initialCooldown,omitempty"`
	MaxCooldown      Duration `json:"maxCooldown,omitempty"`
	Multiplier       float64  `json:"multiplier,omitempty"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr        string   `json:"addr,omitempty"`
	CORSOrigins []string `json:"corsOrigins,omitempty"`
}

// Duration is a time.Duration that reads "30s"-style strings or a number
// of seconds, and writes strings.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		*d = Duration(parsed)
	case float64:
		*d = Duration(x * float64(time.Second))
	case nil:
		*d = 0
	default:
		return fmt.Errorf("invalid duration %s", string(data))
	}
	return nil
}
