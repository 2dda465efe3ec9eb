package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateDatabase(&cfg.Database)
	v.validateRedis(&cfg.Redis)
	v.validateLLM(&cfg.LLM)
	v.validateFleet(&cfg.Fleet)
	v.validateLock(&cfg.Lock)
	v.validateGit(&cfg.Git)
	v.validateWeb(&cfg.Web)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	switch cfg.Level {
	case "debug", "info", "warn", "error":
	default:
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}
	switch cfg.Format {
	case "auto", "text", "json":
	default:
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}
}

func (v *Validator) validateDatabase(cfg *DatabaseConfig) {
	if cfg.URL == "" {
		v.addError("database.url", cfg.URL, "cannot be empty")
	}
}

func (v *Validator) validateRedis(cfg *RedisConfig) {
	if cfg.URL == "" {
		v.addError("redis.url", cfg.URL, "cannot be empty")
		return
	}
	if !strings.HasPrefix(cfg.URL, "redis://") && !strings.HasPrefix(cfg.URL, "rediss://") {
		v.addError("redis.url", cfg.URL, "must start with redis:// or rediss://")
	}
}

func (v *Validator) validateLLM(cfg *LLMConfig) {
	if cfg.ModelID == "" {
		v.addError("llm.model_id", cfg.ModelID, "cannot be empty")
	}
	if cfg.Region == "" {
		v.addError("llm.region", cfg.Region, "cannot be empty")
	}
	if cfg.MaxTokens <= 0 {
		v.addError("llm.max_tokens", cfg.MaxTokens, "must be positive")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		v.addError("llm.temperature", cfg.Temperature, "must be between 0 and 2")
	}
	if cfg.RequestsPerSecond < 0 {
		v.addError("llm.requests_per_second", cfg.RequestsPerSecond, "cannot be negative")
	}
}

func (v *Validator) validateFleet(cfg *FleetConfig) {
	if cfg.MaxAgents < 1 {
		v.addError("fleet.max_agents", cfg.MaxAgents, "must be at least 1")
	}
	if cfg.MaxAgents > 100 {
		v.addError("fleet.max_agents", cfg.MaxAgents, "must be at most 100")
	}
	if cfg.TaskTimeout <= 0 {
		v.addError("fleet.task_timeout", cfg.TaskTimeout, "must be positive")
	}
	if cfg.HeartbeatInterval <= 0 {
		v.addError("fleet.heartbeat_interval", cfg.HeartbeatInterval, "must be positive")
	}
}

func (v *Validator) validateLock(cfg *LockConfig) {
	if cfg.Timeout <= 0 {
		v.addError("lock.timeout", cfg.Timeout, "must be positive")
	}
}

func (v *Validator) validateGit(cfg *GitConfig) {
	if cfg.BaseBranch == "" {
		v.addError("git.base_branch", cfg.BaseBranch, "cannot be empty")
	}
	if cfg.WorkspacesDir == "" {
		v.addError("git.workspaces_dir", cfg.WorkspacesDir, "cannot be empty")
	}
}

func (v *Validator) validateWeb(cfg *WebConfig) {
	if cfg.Addr == "" {
		v.addError("web.addr", cfg.Addr, "cannot be empty")
	}
}
