package config

import (
	"fmt"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// Validate checks a loaded configuration for consistency
func (v *Validator) Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535")
	}

	if len(cfg.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	seen := map[string]bool{}
	for _, p := range cfg.Providers {
		if p.ID != "anthropic" && p.ID != "openai" {
			return fmt.Errorf("unknown provider id: %s", p.ID)
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate provider id: %s", p.ID)
		}
		seen[p.ID] = true

		if err := v.ValidateAPIKey(p.APIKey, p.ID); err != nil {
			return err
		}
		if p.Model == "" {
			return fmt.Errorf("provider %s has no model configured", p.ID)
		}
	}

	if cfg.Affinity.TTL <= 0 {
		return fmt.Errorf("affinity TTL must be positive")
	}

	if cfg.Agent.MaxHops <= 0 {
		return fmt.Errorf("agent max hops must be positive")
	}
	if cfg.Agent.ProviderTimeout <= 0 {
		return fmt.Errorf("provider timeout must be positive")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}

	return nil
}
