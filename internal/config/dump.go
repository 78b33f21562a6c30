package config

import (
	"reflect"

	"gopkg.in/yaml.v3"
)

const masked = "******"

var secretKeys = map[string]bool{
	"api_key":    true,
	"api_secret": true,
	"bot_token":  true,
}

// Dump renders the effective configuration as YAML with secrets masked.
func Dump(cfg *Config) ([]byte, error) {
	tree := toMap(reflect.ValueOf(cfg))
	maskSecrets(tree)
	return yaml.Marshal(tree)
}

func maskSecrets(node any) {
	switch val := node.(type) {
	case map[string]any:
		for k, child := range val {
			if s, ok := child.(string); ok && secretKeys[k] && s != "" {
				val[k] = masked
				continue
			}
			maskSecrets(child)
		}
	case []any:
		for _, child := range val {
			maskSecrets(child)
		}
	}
}
