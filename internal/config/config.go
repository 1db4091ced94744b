package config

import "time"

// Config represents the main grahak configuration
type Config struct {
	// Server holds the HTTP API configuration
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Providers lists configured model providers, in fallback priority order
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`

	// Affinity holds thread-to-provider lock settings
	Affinity AffinityConfig `json:"affinity" mapstructure:"affinity"`

	// Agent holds turn orchestration settings
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Lookup holds the external lookup service endpoints
	Lookup LookupConfig `json:"lookup" mapstructure:"lookup"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// ProviderConfig configures one model provider
type ProviderConfig struct {
	ID       string `json:"id" mapstructure:"id"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Model    string `json:"model" mapstructure:"model"`
	Priority int    `json:"priority" mapstructure:"priority"` // lower = tried earlier
	Premium  bool   `json:"premium" mapstructure:"premium"`   // eligible as premium-tier default
}

// AffinityConfig holds provider lock settings
type AffinityConfig struct {
	TTL           time.Duration `json:"ttl" mapstructure:"ttl"`
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval"`
}

// AgentConfig holds turn orchestration settings
type AgentConfig struct {
	MaxHops         int           `json:"max_hops" mapstructure:"max_hops"`
	ProviderTimeout time.Duration `json:"provider_timeout" mapstructure:"provider_timeout"`
	ToolTimeout     time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
	MaxTokens       int           `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature     float64       `json:"temperature" mapstructure:"temperature"`
	SystemPrompt    string        `json:"system_prompt" mapstructure:"system_prompt"`
}

// LookupConfig holds external lookup service endpoints
type LookupConfig struct {
	GoldRatesURL string        `json:"gold_rates_url" mapstructure:"gold_rates_url"`
	ChallanURL   string        `json:"challan_url" mapstructure:"challan_url"`
	PNRURL       string        `json:"pnr_url" mapstructure:"pnr_url"`
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Affinity: AffinityConfig{
			TTL:           30 * time.Minute,
			SweepInterval: 5 * time.Minute,
		},
		Agent: AgentConfig{
			MaxHops:         5,
			ProviderTimeout: 8 * time.Second,
			ToolTimeout:     10 * time.Second,
			MaxTokens:       2048,
			Temperature:     0.4,
		},
		Lookup: LookupConfig{
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
	}
}
