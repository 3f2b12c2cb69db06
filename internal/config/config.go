package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Node roles. A producer computes answers and publishes them to the
// shared store; a waiter prefers reusing a producer's answer; a solo
// node never touches the store.
const (
	RoleSolo     = "solo"
	RoleProducer = "producer"
	RoleWaiter   = "waiter"
)

// Config holds all configuration for a solver node
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Node         NodeConfig         `yaml:"node"`
	Redis        RedisConfig        `yaml:"redis"`
	Inference    InferenceConfig    `yaml:"inference"`
	Conversation ConversationConfig `yaml:"conversation"`
	Search       SearchConfig       `yaml:"search"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig defines HTTP server settings. TrustProxyHeader must
// only be enabled behind a proxy that overwrites X-Forwarded-For;
// otherwise clients pick their own rate-limit identity.
type ServerConfig struct {
	Port               int    `yaml:"port"`
	Host               string `yaml:"host"`
	APIKey             string `yaml:"api_key"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
	MaxBodyBytes       int64  `yaml:"max_body_bytes"`
	RequestTimeout     string `yaml:"request_timeout"`
	TrustProxyHeader   bool   `yaml:"trust_proxy_header"`
}

// GetRequestTimeout returns the request timeout as a time.Duration
func (s *ServerConfig) GetRequestTimeout() time.Duration {
	if s.RequestTimeout == "" {
		return 60 * time.Second
	}
	d, err := time.ParseDuration(s.RequestTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// NodeConfig identifies this node and its coordination role
type NodeConfig struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

// RedisConfig defines the shared solution store connection
type RedisConfig struct {
	Addr         string `yaml:"addr"`
	Password     string `yaml:"password"`
	DB           int    `yaml:"db"`
	Namespace    string `yaml:"namespace"`
	SolutionTTL  string `yaml:"solution_ttl"`
	WaitTimeout  string `yaml:"wait_timeout"`
	PollInterval string `yaml:"poll_interval"`
}

// GetSolutionTTL returns how long published solutions live in the store
func (r *RedisConfig) GetSolutionTTL() time.Duration {
	return parseDurationOr(r.SolutionTTL, 120*time.Second)
}

// GetWaitTimeout returns how long a waiter polls before falling back
func (r *RedisConfig) GetWaitTimeout() time.Duration {
	return parseDurationOr(r.WaitTimeout, 55*time.Second)
}

// GetPollInterval returns the waiter poll interval
func (r *RedisConfig) GetPollInterval() time.Duration {
	return parseDurationOr(r.PollInterval, 500*time.Millisecond)
}

// EngineConfig defines a text-generation engine
type EngineConfig struct {
	Name   string   `yaml:"name"`
	Type   string   `yaml:"type"`
	URL    string   `yaml:"url,omitempty"`
	APIKey string   `yaml:"api_key,omitempty"`
	Models []string `yaml:"models,omitempty"`
}

// InferenceConfig defines text-generation settings
type InferenceConfig struct {
	Engines       []EngineConfig `yaml:"engines"`
	DefaultEngine string         `yaml:"default_engine,omitempty"`
	MaxTokens     int            `yaml:"max_tokens"`
	Temperature   float64        `yaml:"temperature"`
	Timeout       string         `yaml:"timeout"`
}

// GetTimeout returns the generation timeout as a time.Duration
func (i *InferenceConfig) GetTimeout() time.Duration {
	return parseDurationOr(i.Timeout, 120*time.Second)
}

// ConversationConfig defines the history store settings
type ConversationConfig struct {
	Path        string `yaml:"path"`
	MaxMessages int    `yaml:"max_messages"`
	MaxAgeDays  int    `yaml:"max_age_days"`
}

// SearchConfig defines Google Custom Search credentials
type SearchConfig struct {
	GoogleAPIKey string `yaml:"google_api_key"`
	GoogleCX     string `yaml:"google_cx"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level string `yaml:"level"`
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8001
	}
	if c.Server.RateLimitPerMinute == 0 {
		c.Server.RateLimitPerMinute = 20
	}
	if c.Server.MaxBodyBytes == 0 {
		c.Server.MaxBodyBytes = 10 << 20
	}
	if c.Node.Name == "" {
		c.Node.Name = "solver-node"
	}
	if c.Node.Role == "" {
		c.Node.Role = RoleSolo
	}
	if c.Redis.Namespace == "" {
		c.Redis.Namespace = "solver"
	}
	if c.Inference.MaxTokens == 0 {
		c.Inference.MaxTokens = 4000
	}
	if c.Inference.Temperature == 0 {
		c.Inference.Temperature = 0.7
	}
	if c.Conversation.Path == "" {
		c.Conversation.Path = "./data"
	}
	if c.Conversation.MaxMessages == 0 {
		c.Conversation.MaxMessages = 10
	}
	if c.Conversation.MaxAgeDays == 0 {
		c.Conversation.MaxAgeDays = 7
	}
}

// applyEnvOverrides applies environment variable overrides to the config
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("SOLVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if key := os.Getenv("API_KEY"); key != "" {
		c.Server.APIKey = key
	}
	if role := os.Getenv("SOLVER_ROLE"); role != "" {
		c.Node.Role = role
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		c.Redis.Password = pw
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		for i := range c.Inference.Engines {
			t := c.Inference.Engines[i].Type
			if t == "openai" || t == "openai-compatible" {
				c.Inference.Engines[i].APIKey = apiKey
			}
		}
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Search.GoogleAPIKey = key
	}
	if cx := os.Getenv("GOOGLE_CX_KEY"); cx != "" {
		c.Search.GoogleCX = cx
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Node.Role {
	case RoleSolo, RoleProducer, RoleWaiter:
	default:
		return fmt.Errorf("invalid node role: %q (want solo, producer or waiter)", c.Node.Role)
	}
	if c.Node.Role != RoleSolo && c.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required for role %s", c.Node.Role)
	}
	if len(c.Inference.Engines) == 0 {
		return fmt.Errorf("at least one inference engine is required")
	}
	if c.Redis.GetWaitTimeout() <= 0 || c.Redis.GetSolutionTTL() <= 0 {
		return fmt.Errorf("redis wait_timeout and solution_ttl must be positive")
	}
	return nil
}
