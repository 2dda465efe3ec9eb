package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v          *viper.Viper
	configFile string
	envPrefix  string
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v:         viper.New(),
		envPrefix: "CREW",
	}
}

// NewLoaderWithViper creates a loader using an existing viper instance.
// This allows integration with CLI flag bindings.
func NewLoaderWithViper(v *viper.Viper) *Loader {
	return &Loader{
		v:         v,
		envPrefix: "CREW",
	}
}

// WithConfigFile sets an explicit config file path.
func (l *Loader) WithConfigFile(path string) *Loader {
	l.configFile = path
	return l
}

// Viper returns the underlying viper instance for flag binding.
func (l *Loader) Viper() *viper.Viper {
	return l.v
}

// Load loads configuration from all sources.
// Precedence (highest to lowest):
// 1. CLI flags (set via viper.BindPFlag)
// 2. Environment variables (CREW_* and the bare aliases below)
// 3. Project config (.crew/config.yaml in current directory)
// 4. Defaults
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(l.envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	l.bindEnvAliases()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".crew")
	}

	// Config file is optional; everything has a default.
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("debug", false)

	// Log defaults
	l.v.SetDefault("log.level", "info")
	l.v.SetDefault("log.format", "auto")

	// Store defaults
	l.v.SetDefault("database.url", ".crew/crew.db")

	// Redis defaults
	l.v.SetDefault("redis.url", "redis://localhost:6379")

	// LLM defaults
	l.v.SetDefault("llm.profile", "")
	l.v.SetDefault("llm.region", "eu-west-1")
	l.v.SetDefault("llm.model_id", "eu.anthropic.claude-sonnet-4-5-20250929-v1:0")
	l.v.SetDefault("llm.max_tokens", 8000)
	l.v.SetDefault("llm.temperature", 1.0)
	l.v.SetDefault("llm.requests_per_second", 0.0)

	// Fleet defaults
	l.v.SetDefault("fleet.max_agents", 5)
	l.v.SetDefault("fleet.task_timeout", 300)
	l.v.SetDefault("fleet.heartbeat_interval", 30)

	// Lock defaults
	l.v.SetDefault("lock.timeout", 300)

	// Git defaults
	l.v.SetDefault("git.base_branch", "main")
	l.v.SetDefault("git.workspaces_dir", ".crew/workspaces")

	// Validation defaults
	l.v.SetDefault("validation.enabled", true)
	l.v.SetDefault("validation.stop_on_failure", true)

	// Web defaults
	l.v.SetDefault("web.addr", ":8080")
	l.v.SetDefault("web.cors_origins", []string{
		"http://localhost:5173",
		"http://localhost:3000",
	})
}

// bindEnvAliases maps the historical bare environment names onto config
// keys so deployments keep working without the CREW_ prefix.
func (l *Loader) bindEnvAliases() {
	aliases := map[string]string{
		"database.url":               "DATABASE_URL",
		"redis.url":                  "REDIS_URL",
		"llm.profile":                "LLM_PROFILE",
		"llm.region":                 "LLM_REGION",
		"llm.model_id":               "LLM_MODEL_ID",
		"fleet.max_agents":           "MAX_AGENTS",
		"fleet.task_timeout":         "TASK_TIMEOUT",
		"lock.timeout":               "LOCK_TIMEOUT",
		"log.level":                  "LOG_LEVEL",
		"debug":                      "DEBUG",
		"git.base_branch":            "BASE_BRANCH",
		"web.addr":                   "SERVE_ADDR",
		"web.cors_origins":           "CORS_ORIGINS",
		"validation.enabled":         "VALIDATION_ENABLED",
		"validation.stop_on_failure": "STOP_ON_FAILURE",
	}
	for key, env := range aliases {
		// Prefixed name first so CREW_* wins over the bare alias.
		_ = l.v.BindEnv(key, l.envPrefix+"_"+env, env)
	}
}

// ConfigFile returns the config file path if one was used.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Get returns a configuration value by key.
func (l *Loader) Get(key string) interface{} {
	return l.v.Get(key)
}

// Set sets a configuration value.
func (l *Loader) Set(key string, value interface{}) {
	l.v.Set(key, value)
}

// IsSet checks if a key has been set.
func (l *Loader) IsSet(key string) bool {
	return l.v.IsSet(key)
}
