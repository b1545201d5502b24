package fetcher

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes the upstream source and the query it is polled with.
type SourceConfig struct {
	Name        string         `yaml:"name"`
	BaseURL     string         `yaml:"base_url"`
	Hydrate     bool           `yaml:"hydrate"`
	QueryParams map[string]any `yaml:"query_params"`
}

// DecodeSourceConfig reads a YAML source config.
func DecodeSourceConfig(r io.Reader) (SourceConfig, error) {
	var cfg SourceConfig
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return SourceConfig{}, fmt.Errorf("error decoding source config: %s", err)
	}

	return cfg, nil
}

// LoadSourceConfig reads the YAML source config at path. An empty path is an empty config.
func LoadSourceConfig(path string) (SourceConfig, error) {
	if path == "" {
		return SourceConfig{}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return SourceConfig{}, fmt.Errorf("error opening source config: %s", err)
	}
	defer f.Close()

	return DecodeSourceConfig(f)
}
