package testutil

import (
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines how a MockLLM answers. It is usually written as YAML.
type Scenario struct {
	Settings  ScenarioSettings `yaml:"settings"`
	Defaults  ScenarioDefaults `yaml:"defaults"`
	Responses []ResponseRule   `yaml:"responses"`
}

// ScenarioSettings shapes the stream independently of the prompt.
type ScenarioSettings struct {
	Status        int  `yaml:"status"`         // fail every request with this HTTP status
	ChunkDelayMS  int  `yaml:"chunk_delay_ms"` // delay before each chunk
	TruncateAfter int  `yaml:"truncate_after"` // end the stream after n chunks without a finish signal
	Hang          bool `yaml:"hang"`           // keep the stream open after the last chunk
}

// ScenarioDefaults defines fallback behavior.
type ScenarioDefaults struct {
	Fallback string `yaml:"fallback"` // response when no rule matches
}

// ResponseRule maps a prompt match to a response.
type ResponseRule struct {
	Name     string      `yaml:"name"`
	Match    MatchConfig `yaml:"match"`
	Response string      `yaml:"response"`
	Priority int         `yaml:"priority"` // higher priority rules are checked first
}

// MatchConfig defines how to match a prompt. All comparisons are
// case-insensitive; empty fields are ignored.
type MatchConfig struct {
	Contains    string   `yaml:"contains"`
	ContainsAll []string `yaml:"contains_all"`
	ContainsAny []string `yaml:"contains_any"`
	Exact       string   `yaml:"exact"`
	Regex       string   `yaml:"regex"`
}

// LoadScenario reads a YAML scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseScenario(data)
}

// ParseScenario parses a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	sort.SliceStable(s.Responses, func(i, j int) bool {
		return s.Responses[i].Priority > s.Responses[j].Priority
	})
	return &s, nil
}

// DefaultScenario answers a few fixed prompts and echoes nothing else.
func DefaultScenario() *Scenario {
	return &Scenario{
		Settings: ScenarioSettings{ChunkDelayMS: 5},
		Defaults: ScenarioDefaults{Fallback: "I am a mock model."},
		Responses: []ResponseRule{
			{Name: "greeting", Match: MatchConfig{Contains: "hello"}, Response: "Hello, World!", Priority: 10},
			{Name: "math", Match: MatchConfig{Regex: `2\s*\+\s*2`}, Response: "4", Priority: 10},
			{Name: "explain", Match: MatchConfig{ContainsAny: []string{"explain", "what does"}}, Response: "This function adds two numbers and returns the sum.", Priority: 5},
		},
	}
}

// FindResponse returns the response of the first matching rule.
func (s *Scenario) FindResponse(prompt string) (string, bool) {
	for _, rule := range s.Responses {
		if rule.Match.matches(prompt) {
			return rule.Response, true
		}
	}
	return s.Defaults.Fallback, false
}

// Words splits the response for prompt into the chunks the mock streams.
// Concatenating the words yields the response unchanged.
func (s *Scenario) Words(prompt string) []string {
	resp, _ := s.FindResponse(prompt)
	if resp == "" {
		return nil
	}
	return strings.SplitAfter(resp, " ")
}

func (m MatchConfig) matches(prompt string) bool {
	p := strings.ToLower(prompt)
	matched := false

	if m.Exact != "" {
		if strings.TrimSpace(p) != strings.ToLower(m.Exact) {
			return false
		}
		matched = true
	}
	if m.Contains != "" {
		if !strings.Contains(p, strings.ToLower(m.Contains)) {
			return false
		}
		matched = true
	}
	if len(m.ContainsAll) > 0 {
		for _, s := range m.ContainsAll {
			if !strings.Contains(p, strings.ToLower(s)) {
				return false
			}
		}
		matched = true
	}
	if len(m.ContainsAny) > 0 {
		found := false
		for _, s := range m.ContainsAny {
			if strings.Contains(p, strings.ToLower(s)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
		matched = true
	}
	if m.Regex != "" {
		re, err := regexp.Compile("(?i)" + m.Regex)
		if err != nil || !re.MatchString(prompt) {
			return false
		}
		matched = true
	}
	return matched
}
