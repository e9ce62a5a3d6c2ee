package schema

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var DebugLog func(string, ...interface{})

// ParseDocument decodes a YAML training document and parses it. A document
// whose root is not a mapping is a TypeMismatch at the root path.
func ParseDocument(data []byte) (*TrainingConfig, error) {
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, &ConfigError{Kind: TypeMismatch, Msg: fmt.Sprintf("document is not a YAML mapping: %v", err)}
	}
	return Parse(tree)
}

func LoadFile(path string) (*TrainingConfig, error) {
	if DebugLog != nil {
		DebugLog("loading training config from %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
