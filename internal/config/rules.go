package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EndpointRule recognises one RPC endpoint by its query-parameter key.
type EndpointRule struct {
	Kind          string   `yaml:"kind"`
	QuerySuffix   string   `yaml:"query_suffix,omitempty"`
	QueryContains []string `yaml:"query_contains,omitempty"`
}

// Rules is the optional YAML override for what the hook wraps and which
// network requests the capture channel tracks.
type Rules struct {
	HookTargets []string       `yaml:"hook_targets,omitempty"`
	Endpoints   []EndpointRule `yaml:"endpoints,omitempty"`
}

// LoadRules reads and validates a rules YAML file. An empty path returns
// empty rules, meaning built-in defaults apply.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return &Rules{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("rules config: %w", err)
	}
	var rules Rules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("rules config: %w", err)
	}
	for i, name := range rules.HookTargets {
		if name == "" {
			return nil, fmt.Errorf("rules config: hook_targets[%d] is empty", i)
		}
	}
	for i, e := range rules.Endpoints {
		if e.Kind == "" {
			return nil, fmt.Errorf("rules config: endpoints[%d] missing kind", i)
		}
		if e.QuerySuffix == "" && len(e.QueryContains) == 0 {
			return nil, fmt.Errorf("rules config: endpoints[%d] (%s) needs query_suffix or query_contains", i, e.Kind)
		}
	}
	return &rules, nil
}
