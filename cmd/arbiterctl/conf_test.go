package main

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/bountyarbiter/arbiterd/internal/config"
)

func TestDefaultConfigYAMLParsesIntoConfig(t *testing.T) {
	var cfg config.Config
	if err := yaml.Unmarshal([]byte(defaultConfigYAML), &cfg); err != nil {
		t.Fatalf("default config YAML does not parse: %v", err)
	}
	if cfg.Market.Host == "" {
		t.Error("expected a placeholder market host")
	}
	if len(cfg.AnalysisBackends) == 0 {
		t.Error("expected at least one example analysis backend")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should pass Validate(): %v", err)
	}
}
