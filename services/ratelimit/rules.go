package ratelimit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Rule is the (window, ceiling) pair enforced for one operation.
type Rule struct {
	Window time.Duration
	Max    int
}

type rulesFile struct {
	Default    *ruleSpec           `yaml:"default"`
	Operations map[string]ruleSpec `yaml:"operations"`
}

type ruleSpec struct {
	Window string `yaml:"window"`
	Max    int    `yaml:"max"`
}

func (r ruleSpec) toRule() (Rule, error) {
	window, err := time.ParseDuration(r.Window)
	if err != nil {
		return Rule{}, fmt.Errorf("invalid window %q: %w", r.Window, err)
	}
	if r.Max <= 0 {
		return Rule{}, fmt.Errorf("invalid max %d: must be positive", r.Max)
	}
	return Rule{Window: window, Max: r.Max}, nil
}

// LoadRules reads per-operation limits from a YAML file:
//
//	default: {window: 1m, max: 60}
//	operations:
//	  otp.send: {window: 1m, max: 3}
//	  auth.refresh: {window: 1m, max: 10}
func LoadRules(path string) (Rule, map[string]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rule{}, nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	var parsed rulesFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return Rule{}, nil, fmt.Errorf("failed to parse rules file: %w", err)
	}

	var defaultRule Rule
	if parsed.Default != nil {
		defaultRule, err = parsed.Default.toRule()
		if err != nil {
			return Rule{}, nil, fmt.Errorf("default rule: %w", err)
		}
	}

	rules := make(map[string]Rule, len(parsed.Operations))
	for operation, spec := range parsed.Operations {
		rule, err := spec.toRule()
		if err != nil {
			return Rule{}, nil, fmt.Errorf("operation %q: %w", operation, err)
		}
		rules[operation] = rule
	}

	return defaultRule, rules, nil
}
