package config

import "time"

// Config holds all application configuration.
type Config struct {
	Debug      bool             `mapstructure:"debug"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Fleet      FleetConfig      `mapstructure:"fleet"`
	Lock       LockConfig       `mapstructure:"lock"`
	Git        GitConfig        `mapstructure:"git"`
	Validation ValidationConfig `mapstructure:"validation"`
	Web        WebConfig        `mapstructure:"web"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DatabaseConfig configures the sqlite task store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig configures the shared coordination backend.
type RedisConfig struct {
	URL string `mapstructure:"url"`
}

// LLMConfig configures the Bedrock model client.
type LLMConfig struct {
	Profile     string  `mapstructure:"profile"`
	Region      string  `mapstructure:"region"`
	ModelID     string  `mapstructure:"model_id"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
	// RequestsPerSecond caps model invocations across all agents.
	// Zero leaves pacing to the provider's own throttling.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
}

// FleetConfig configures worker agent execution.
type FleetConfig struct {
	MaxAgents         int `mapstructure:"max_agents"`
	TaskTimeout       int `mapstructure:"task_timeout"`       // seconds
	HeartbeatInterval int `mapstructure:"heartbeat_interval"` // seconds
}

// LockConfig configures distributed file locking.
type LockConfig struct {
	Timeout int `mapstructure:"timeout"` // seconds
}

// GitConfig configures workspace management.
type GitConfig struct {
	BaseBranch    string `mapstructure:"base_branch"`
	WorkspacesDir string `mapstructure:"workspaces_dir"`
}

// ValidationConfig configures the quality gate pipeline.
type ValidationConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	StopOnFailure bool `mapstructure:"stop_on_failure"`
}

// WebConfig configures the HTTP status surface.
type WebConfig struct {
	Addr        string   `mapstructure:"addr"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

// TaskTimeout returns the per-task execution budget.
func (c *Config) TaskTimeout() time.Duration {
	return time.Duration(c.Fleet.TaskTimeout) * time.Second
}

// LockTTL returns the file lock time-to-live.
func (c *Config) LockTTL() time.Duration {
	return time.Duration(c.Lock.Timeout) * time.Second
}

// HeartbeatInterval returns how often agents report liveness.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Fleet.HeartbeatInterval) * time.Second
}
