package config

import (
	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/ludo-technologies/connscan/domain"
)

// DefaultConfigYAML contains the embedded default configuration file
//
//go:embed default_config.yaml
var DefaultConfigYAML string

// LoadDefaultConfig parses the embedded default config and returns the full Config struct
func LoadDefaultConfig() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(DefaultConfigYAML), &cfg); err != nil {
		return nil, domain.NewConfigError("invalid embedded default config", err)
	}
	return &cfg, nil
}
