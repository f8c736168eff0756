package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/assistcore/internal/provider"
	"github.com/opencode-ai/assistcore/internal/router"
	"github.com/opencode-ai/assistcore/internal/secret"
	"github.com/opencode-ai/assistcore/internal/snapshot"
	"github.com/opencode-ai/assistcore/pkg/types"
)

// Environment variables read by Load.
const (
	EnvConfig        = "ASSISTCORE_CONFIG"
	EnvConfigContent = "ASSISTCORE_CONFIG_CONTENT"
	EnvLogLevel      = "ASSISTCORE_LOG_LEVEL"
	EnvServerAddr    = "ASSISTCORE_ADDR"
)

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Load loads configuration from multiple sources (priority order):
// 1. Global config (~/.config/assistcore/)
// 2. Project config (<directory>/ and <directory>/.assistcore/)
// 3. ASSISTCORE_CONFIG file
// 4. ASSISTCORE_CONFIG_CONTENT inline JSON
// 5. Environment variables
//
// Missing files are skipped; malformed files and invalid results are errors.
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)
	for _, path := range candidatePaths(directory) {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			continue
		}
		err = loadConfigFile(path, config, filepath.Dir(path))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		loaded[absPath] = true
	}

	if content := os.Getenv(EnvConfigContent); content != "" {
		var inline types.Config
		data := interpolate(jsonc.ToJSON([]byte(content)), directory)
		if err := json.Unmarshal(data, &inline); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvConfigContent, err)
		}
		mergeConfig(config, &inline)
	}

	applyEnvOverrides(config)

	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFile loads a single config file, applies environment overrides and
// validates the result.
func LoadFile(path string) (*types.Config, error) {
	config := &types.Config{}
	if err := loadConfigFile(path, config, filepath.Dir(path)); err != nil {
		return nil, err
	}
	applyEnvOverrides(config)
	if err := Validate(config); err != nil {
		return nil, err
	}
	return config, nil
}

// Sources returns the config files Load would read for directory that
// currently exist.
func Sources(directory string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, path := range candidatePaths(directory) {
		abs, err := filepath.Abs(path)
		if err != nil || seen[abs] {
			continue
		}
		if _, err := os.Stat(abs); err == nil {
			seen[abs] = true
			out = append(out, abs)
		}
	}
	return out
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data, err = toJSON(path, data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// toJSON normalizes YAML and JSONC input to plain JSON so both formats share
// one decoding path.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, err
		}
		if doc == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(doc)
	default:
		return jsonc.ToJSON(data), nil
	}
}

// interpolate processes {env:VAR} and {file:path} placeholders. Substituted
// values are escaped for use inside JSON strings.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return escapeJSON(os.Getenv(varName))
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}
		return escapeJSON(strings.TrimRight(string(content), "\r\n"))
	})

	return []byte(str)
}

func escapeJSON(s string) string {
	quoted, _ := json.Marshal(s)
	return string(quoted[1 : len(quoted)-1])
}

// mergeConfig merges source config into target. Providers are merged by ID;
// a later definition replaces an earlier one wholesale.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}

	for _, p := range source.Providers {
		replaced := false
		for i := range target.Providers {
			if target.Providers[i].ID == p.ID && p.ID != "" {
				target.Providers[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			target.Providers = append(target.Providers, p)
		}
	}

	r, sr := &target.Router, source.Router
	setDuration(&r.InterChunkTimeout, sr.InterChunkTimeout)
	setDuration(&r.RequestTimeout, sr.RequestTimeout)
	setDuration(&r.GapTimeout, sr.GapTimeout)
	setDuration(&r.Retention, sr.Retention)

	s, ss := &target.Snapshot, source.Snapshot
	if ss.MaxBytes != 0 {
		s.MaxBytes = ss.MaxBytes
	}
	if ss.IncludeSelection != nil {
		s.IncludeSelection = ss.IncludeSelection
	}
	if ss.IncludeWorkspaceRoot != nil {
		s.IncludeWorkspaceRoot = ss.IncludeWorkspaceRoot
	}
	s.IncludeTerminal = s.IncludeTerminal || ss.IncludeTerminal
	s.RequireActiveDocument = s.RequireActiveDocument || ss.RequireActiveDocument
	if len(ss.ExcludePatterns) > 0 {
		s.ExcludePatterns = append(s.ExcludePatterns, ss.ExcludePatterns...)
	}

	b, sb := &target.Breaker, source.Breaker
	if sb.FailureThreshold != 0 {
		b.FailureThreshold = sb.FailureThreshold
	}
	setDuration(&b.InitialCooldown, sb.InitialCooldown)
	setDuration(&b.MaxCooldown, sb.MaxCooldown)
	if sb.Multiplier != 0 {
		b.Multiplier = sb.Multiplier
	}

	if source.Server.Addr != "" {
		target.Server.Addr = source.Server.Addr
	}
	if len(source.Server.CORSOrigins) > 0 {
		target.Server.CORSOrigins = source.Server.CORSOrigins
	}
}

func setDuration(dst *types.Duration, src types.Duration) {
	if src != 0 {
		*dst = src
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if level := os.Getenv(EnvLogLevel); level != "" {
		config.LogLevel = level
	}
	if addr := os.Getenv(EnvServerAddr); addr != "" {
		config.Server.Addr = addr
	}
}

// Validate checks a configuration statically. All problems are reported
// together.
func Validate(config *types.Config) error {
	var errs []error
	seen := make(map[string]bool)

	for i, p := range config.Providers {
		name := p.ID
		if name == "" {
			name = fmt.Sprintf("#%d", i)
			errs = append(errs, fmt.Errorf("provider %s: missing id", name))
		} else if seen[p.ID] {
			errs = append(errs, fmt.Errorf("provider %s: duplicate id", name))
		}
		seen[p.ID] = true

		if !p.Kind.Valid() {
			errs = append(errs, fmt.Errorf("provider %s: unknown kind %q", name, p.Kind))
		}
		if p.Endpoint == "" && !(p.Kind == types.KindClaude && p.Option("bedrock", "") == "true") {
			errs = append(errs, fmt.Errorf("provider %s: missing endpoint", name))
		}
		if p.CredentialRef != "" && !secret.ValidRef(p.CredentialRef) {
			errs = append(errs, fmt.Errorf("provider %s: credentialRef must be a reference (%s:...), not a secret",
				name, strings.Join(secret.Schemes, ":..., ")))
		}
		if p.MaxTokens < 0 {
			errs = append(errs, fmt.Errorf("provider %s: maxTokens must not be negative", name))
		}
		if p.Kind == types.KindArk && p.Model == "" {
			errs = append(errs, fmt.Errorf("provider %s: ark-compatible providers need a model", name))
		}
		if p.Kind == types.KindCustom {
			if f := provider.Framing(p.Option("framing", string(provider.FramingSSE))); f != provider.FramingSSE && f != provider.FramingNDJSON {
				errs = append(errs, fmt.Errorf("provider %s: unknown framing %q", name, f))
			}
		}
	}

	if config.Snapshot.MaxBytes < 0 {
		errs = append(errs, errors.New("snapshot.maxBytes must not be negative"))
	}
	if config.Breaker.FailureThreshold < 0 {
		errs = append(errs, errors.New("breaker.failureThreshold must not be negative"))
	}
	if m := config.Breaker.Multiplier; m != 0 && m < 1 {
		errs = append(errs, errors.New("breaker.multiplier must be at least 1"))
	}
	for _, d := range []types.Duration{
		config.Router.InterChunkTimeout, config.Router.RequestTimeout, config.Router.GapTimeout,
		config.Router.Retention, config.Breaker.InitialCooldown, config.Breaker.MaxCooldown,
	} {
		if d < 0 {
			errs = append(errs, errors.New("durations must not be negative"))
			break
		}
	}

	return errors.Join(errs...)
}

// RouterSettings converts the router section, filling defaults.
func RouterSettings(config *types.Config) router.Config {
	d := router.DefaultConfig()
	r := config.Router
	out := router.Config{
		InterChunkTimeout: r.InterChunkTimeout.Std(),
		RequestTimeout:    r.RequestTimeout.Std(),
		GapTimeout:        r.GapTimeout.Std(),
		Retention:         d.Retention,
	}
	if r.Retention != 0 {
		out.Retention = r.Retention.Std()
	}
	return out
}

// SnapshotOptions converts the snapshot section, filling defaults.
func SnapshotOptions(config *types.Config) snapshot.Options {
	opts := snapshot.DefaultOptions()
	s := config.Snapshot
	if s.MaxBytes > 0 {
		opts.MaxBytes = s.MaxBytes
	}
	if s.IncludeSelection != nil {
		opts.IncludeSelection = *s.IncludeSelection
	}
	if s.IncludeWorkspaceRoot != nil {
		opts.IncludeWorkspaceRoot = *s.IncludeWorkspaceRoot
	}
	opts.IncludeTerminal = s.IncludeTerminal
	opts.RequireActiveDocument = s.RequireActiveDocument
	opts.ExcludePatterns = append([]string(nil), s.ExcludePatterns...)
	return opts
}

// BreakerSettings converts the breaker section. Zero fields fall back to
// the registry defaults.
func BreakerSettings(config *types.Config) provider.BreakerConfig {
	b := config.Breaker
	return provider.BreakerConfig{
		FailureThreshold: b.FailureThreshold,
		InitialCooldown:  b.InitialCooldown.Std(),
		MaxCooldown:      b.MaxCooldown.Std(),
		Multiplier:       b.Multiplier,
	}
}

// Save writes the configuration as indented JSON.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
