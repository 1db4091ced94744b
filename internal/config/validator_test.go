package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateAPIKey(t *testing.T) {
	v := NewValidator()

	t.Run("should accept valid anthropic key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-ant-abc123", "anthropic"))
	})

	t.Run("should accept valid openai key", func(t *testing.T) {
		assert.NoError(t, v.ValidateAPIKey("sk-abc123", "openai"))
	})

	t.Run("should reject empty key", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("", "anthropic"))
	})

	t.Run("should reject wrong prefix", func(t *testing.T) {
		assert.Error(t, v.ValidateAPIKey("api-key-123", "anthropic"))
		assert.Error(t, v.ValidateAPIKey("key-123", "openai"))
	})
}

func TestValidate(t *testing.T) {
	v := NewValidator()

	t.Run("should accept valid config", func(t *testing.T) {
		assert.NoError(t, v.Validate(validConfig()))
	})

	t.Run("should require providers", func(t *testing.T) {
		cfg := DefaultConfig()
		err := v.Validate(cfg)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "provider")
	})

	t.Run("should reject unknown provider id", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers[0].ID = "palm"
		assert.Error(t, v.Validate(cfg))
	})

	t.Run("should reject duplicate providers", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers[1] = cfg.Providers[0]
		assert.Error(t, v.Validate(cfg))
	})

	t.Run("should reject provider without model", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers[0].Model = ""
		assert.Error(t, v.Validate(cfg))
	})

	t.Run("should reject non-positive TTL", func(t *testing.T) {
		cfg := validConfig()
		cfg.Affinity.TTL = 0
		assert.Error(t, v.Validate(cfg))
	})

	t.Run("should reject bad temperature", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agent.Temperature = 1.5
		assert.Error(t, v.Validate(cfg))
	})

	t.Run("should reject invalid port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = 0
		assert.Error(t, v.Validate(cfg))
	})
}
