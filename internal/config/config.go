// Package config loads the suite-wide configuration equivalent of a
// karate-config.yml: environment-scoped key/value defaults evaluated
// once at suite start and exposed read-only through karate.config.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/halvard/gobdd/internal/values"
)

// Load reads path, merges the `default` section with the section named
// by env (env-specific keys win), and returns the result as scope-ready
// values. A missing file is not an error: Load then returns an empty
// config.
func Load(path, env string) (map[string]values.Value, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]values.Value{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	merged := map[string]interface{}{}
	if def, ok := doc["default"].(map[string]interface{}); ok {
		for k, v := range def {
			merged[k] = v
		}
	}
	if env != "" {
		if section, ok := doc[env].(map[string]interface{}); ok {
			for k, v := range section {
				merged[k] = v
			}
		}
	}

	out := make(map[string]values.Value, len(merged))
	for k, v := range merged {
		out[k] = values.FromGo(normalizeYAML(v))
	}
	return out, nil
}

// normalizeYAML recursively converts yaml.v3's map[string]interface{}/
// []interface{} output (which may contain map[interface{}]interface{}
// only under older decoders; yaml.v3 already yields string keys) into the
// plain shapes values.FromGo understands.
func normalizeYAML(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	case int:
		return float64(t)
	default:
		return v
	}
}
