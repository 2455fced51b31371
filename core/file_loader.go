package core

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileConfigLoader reads a YAML (or JSON) file into a raw config map.
// Environment references like ${RN_WEBHOOK_SECRET} are expanded before
// decoding. A missing file yields an empty map when Optional is set.
type FileConfigLoader struct {
	Path     string
	Optional bool
}

func (l FileConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if l.Optional && os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config: %w", err)
	}
	data = []byte(os.ExpandEnv(string(data)))

	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: parse config: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}
