// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr"`
	PollSecret     string        `yaml:"poll_secret"` // bearer for poll trigger + inbound messages
	JWTSecret      string        `yaml:"jwt_secret"`  // monitor/admin API
	JWTIssuer      string        `yaml:"jwt_issuer"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollTimeout    time.Duration `yaml:"poll_timeout"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // postgres | memory
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL        string `yaml:"url"` // empty: in-process lock and no cross-process invalidation
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	StateStore bool   `yaml:"state_store"` // keep conversation state in redis instead of the database
}

// PipelineConfig holds every turn-pipeline policy knob.
type PipelineConfig struct {
	DebounceWindow    time.Duration `yaml:"debounce_window"`
	MessageLookback   time.Duration `yaml:"message_lookback"`
	MessageBatchLimit int           `yaml:"message_batch_limit"`
	LockTTL           time.Duration `yaml:"lock_ttl"`
	ResetLockTTL      time.Duration `yaml:"reset_lock_ttl"`
	MaxAttempts       int           `yaml:"max_attempts"`
	RetryBackoff      time.Duration `yaml:"retry_backoff"`
	RateLimitMaxTurns int           `yaml:"rate_limit_max_turns"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`
	FSMMaxDepth       int           `yaml:"fsm_max_depth"`
	SessionTimeout    time.Duration `yaml:"session_timeout"`
	MemoryUpdateDelay time.Duration `yaml:"memory_update_delay"`
	AgentTimeout      time.Duration `yaml:"agent_timeout"`
	HistoryLimit      int           `yaml:"history_limit"`
	KnowledgeLimit    int           `yaml:"knowledge_limit"`
	MemoryFactLimit   int           `yaml:"memory_fact_limit"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	PollBudget        int           `yaml:"poll_budget"`
	Pollers           int           `yaml:"pollers"`
}

type FlowsConfig struct {
	Dir          string        `yaml:"dir"` // <dir>/<session>.{yaml,json5}, <dir>/default.{yaml,json5}
	CacheTTL     time.Duration `yaml:"cache_ttl"`
	Watch        bool          `yaml:"watch"`
	DefaultAgent string        `yaml:"default_agent"` // used when no flow exists anywhere
}

// AgentConfig declares one conversational agent.
type AgentConfig struct {
	Provider     string   `yaml:"provider"` // openai | gemini | noop; empty routes by model name
	Model        string   `yaml:"model"`
	SystemPrompt string   `yaml:"system_prompt"`
	Tools        []string `yaml:"tools"`
}

type AIConfig struct {
	OpenAIKey       string `yaml:"openai_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	GeminiKey       string `yaml:"gemini_key"`
	GeminiURL       string `yaml:"gemini_url"`
	DefaultProvider string `yaml:"default_provider"`
	DefaultModel    string `yaml:"default_model"`
	ClassifierModel string `yaml:"classifier_model"`
	MemoryModel     string `yaml:"memory_model"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	ConcurrentLimit int    `yaml:"concurrent_limit"` // max concurrent AI calls
}

type TelegramConfig struct {
	Token         string        `yaml:"token"`
	Enabled       bool          `yaml:"enabled"`
	SessionID     string        `yaml:"session_id"` // flow session for the bot
	SendRate      float64       `yaml:"send_rate"`  // messages per second
	InboundLimit  int           `yaml:"inbound_limit"`
	InboundWindow time.Duration `yaml:"inbound_window"`
	Lang          string        `yaml:"lang"` // locale for command replies
	Workers       int           `yaml:"workers"`
}

type SchedulerConfig struct {
	StateSweepCron string `yaml:"state_sweep_cron"`

	// OrphanRecoveryInterval must stay below message_lookback minus twice the
	// debounce window, or orphans age out between scans.
	OrphanRecoveryInterval time.Duration `yaml:"orphan_recovery_interval"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type Config struct {
	Log       LogConfig              `yaml:"log"`
	HTTP      HTTPConfig             `yaml:"http"`
	Database  DatabaseConfig         `yaml:"database"`
	Redis     RedisConfig            `yaml:"redis"`
	Pipeline  PipelineConfig         `yaml:"pipeline"`
	Flows     FlowsConfig            `yaml:"flows"`
	Agents    map[string]AgentConfig `yaml:"agents"`
	AI        AIConfig               `yaml:"ai"`
	Telegram  TelegramConfig         `yaml:"telegram"`
	Scheduler SchedulerConfig        `yaml:"scheduler"`
	Security  SecurityConfig         `yaml:"security"`
	Tracing   TracingConfig          `yaml:"tracing"`

	Runtime RuntimeConfig `yaml:"-"`
}

// Load reads the YAML file at path (a missing file means all defaults),
// overlays TURNPIPE_* env vars, fills defaults and validates.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	cfg.Runtime.Dev = dev

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env wins over file.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}

	envStr("TURNPIPE_LOG_LEVEL", &c.Log.Level)
	envStr("TURNPIPE_HTTP_ADDR", &c.HTTP.Addr)
	envStr("TURNPIPE_POLL_SECRET", &c.HTTP.PollSecret)
	envStr("TURNPIPE_JWT_SECRET", &c.HTTP.JWTSecret)
	envStr("TURNPIPE_DATABASE_DRIVER", &c.Database.Driver)
	envStr("TURNPIPE_DATABASE_URL", &c.Database.URL)
	envStr("TURNPIPE_REDIS_URL", &c.Redis.URL)
	envStr("TURNPIPE_REDIS_PASSWORD", &c.Redis.Password)
	envStr("TURNPIPE_OPENAI_API_KEY", &c.AI.OpenAIKey)
	envStr("TURNPIPE_GEMINI_API_KEY", &c.AI.GeminiKey)
	envStr("TURNPIPE_TELEGRAM_TOKEN", &c.Telegram.Token)
	envStr("TURNPIPE_ENCRYPTION_KEY", &c.Security.EncryptionKey)
	envStr("TURNPIPE_FLOWS_DIR", &c.Flows.Dir)
	envStr("TURNPIPE_TRACING_ENDPOINT", &c.Tracing.Endpoint)
	envBool("TURNPIPE_TRACING_ENABLED", &c.Tracing.Enabled)

	if v := os.Getenv("TURNPIPE_POLLERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Pipeline.Pollers = n
		}
	}

	// Auto-enable telegram if a token arrives via env
	if os.Getenv("TURNPIPE_TELEGRAM_TOKEN") != "" {
		c.Telegram.Enabled = true
	}
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.JWTIssuer == "" {
		c.HTTP.JWTIssuer = "turnpipe"
	}
	durDefault(&c.HTTP.RequestTimeout, 15*time.Second)
	durDefault(&c.HTTP.PollTimeout, 5*time.Minute)

	if c.Database.Driver == "" {
		if c.Database.URL != "" {
			c.Database.Driver = "postgres"
		} else {
			c.Database.Driver = "memory"
		}
	}
	if c.Database.MaxConns <= 0 {
		c.Database.MaxConns = 10
	}

	p := &c.Pipeline
	durDefault(&p.DebounceWindow, 3*time.Second)
	durDefault(&p.MessageLookback, 30*time.Second)
	intDefault(&p.MessageBatchLimit, 50)
	durDefault(&p.LockTTL, 60*time.Second)
	durDefault(&p.ResetLockTTL, 120*time.Second)
	intDefault(&p.MaxAttempts, 3)
	durDefault(&p.RetryBackoff, 10*time.Second)
	intDefault(&p.RateLimitMaxTurns, 5)
	durDefault(&p.RateLimitWindow, 60*time.Second)
	intDefault(&p.FSMMaxDepth, 10)
	durDefault(&p.SessionTimeout, 6*time.Hour)
	durDefault(&p.MemoryUpdateDelay, 5*time.Second)
	durDefault(&p.AgentTimeout, 45*time.Second)
	intDefault(&p.HistoryLimit, 20)
	intDefault(&p.KnowledgeLimit, 5)
	intDefault(&p.MemoryFactLimit, 50)
	durDefault(&p.PollInterval, time.Second)
	intDefault(&p.PollBudget, 25)
	intDefault(&p.Pollers, 2)

	durDefault(&c.Flows.CacheTTL, 5*time.Second)
	if c.Flows.DefaultAgent == "" {
		c.Flows.DefaultAgent = "default"
	}
	if c.Agents == nil {
		c.Agents = map[string]AgentConfig{}
	}
	if _, ok := c.Agents[c.Flows.DefaultAgent]; !ok {
		c.Agents[c.Flows.DefaultAgent] = AgentConfig{}
	}

	if c.AI.DefaultProvider == "" {
		c.AI.DefaultProvider = "openai"
	}
	if c.AI.DefaultModel == "" {
		c.AI.DefaultModel = "gpt-4o-mini"
	}
	if c.AI.ClassifierModel == "" {
		c.AI.ClassifierModel = c.AI.DefaultModel
	}
	if c.AI.MemoryModel == "" {
		c.AI.MemoryModel = c.AI.DefaultModel
	}
	intDefault(&c.AI.MaxOutputTokens, 1024)
	intDefault(&c.AI.ConcurrentLimit, 16)

	if c.Telegram.SessionID == "" {
		c.Telegram.SessionID = "telegram"
	}
	if c.Telegram.SendRate <= 0 {
		c.Telegram.SendRate = 25
	}
	intDefault(&c.Telegram.InboundLimit, 20)
	durDefault(&c.Telegram.InboundWindow, time.Minute)
	intDefault(&c.Telegram.Workers, 4)
	if c.Telegram.Lang == "" {
		c.Telegram.Lang = "en"
	}

	if c.Scheduler.StateSweepCron == "" {
		c.Scheduler.StateSweepCron = "*/15 * * * *"
	}
	if c.Scheduler.OrphanRecoveryInterval <= 0 {
		c.Scheduler.OrphanRecoveryInterval = c.Pipeline.RecoverySpan() / 2
		if c.Scheduler.OrphanRecoveryInterval < time.Second {
			c.Scheduler.OrphanRecoveryInterval = time.Second
		}
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "turnpipe"
	}
	if c.Tracing.SampleRatio <= 0 {
		c.Tracing.SampleRatio = 1
	}
}

// Validate checks cross-field constraints after defaults are applied.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	if c.Redis.StateStore && c.Redis.URL == "" {
		return errors.New("redis.url is required when redis.state_store is set")
	}
	if c.Telegram.Enabled && c.Telegram.Token == "" {
		return errors.New("telegram.token is required when telegram is enabled")
	}
	if c.Pipeline.MessageLookback < c.Pipeline.DebounceWindow {
		return errors.New("pipeline.message_lookback must not be shorter than pipeline.debounce_window")
	}
	if span := c.Pipeline.RecoverySpan(); c.Scheduler.OrphanRecoveryInterval >= span {
		return fmt.Errorf("scheduler.orphan_recovery_interval %s must be shorter than the recovery span %s (message_lookback minus twice debounce_window)",
			c.Scheduler.OrphanRecoveryInterval, span)
	}
	if k := c.Security.EncryptionKey; k != "" && len(k) != 16 && len(k) != 24 && len(k) != 32 {
		return errors.New("security.encryption_key must be 16, 24 or 32 bytes")
	}
	for id, a := range c.Agents {
		switch strings.ToLower(a.Provider) {
		case "", "openai", "gemini", "noop":
		default:
			return fmt.Errorf("agents.%s.provider %q is not supported", id, a.Provider)
		}
	}
	return nil
}

// RecoverySpan is the width of the window an orphan recovery scan covers.
func (p PipelineConfig) RecoverySpan() time.Duration {
	return p.MessageLookback - 2*p.DebounceWindow
}

func durDefault(d *time.Duration, def time.Duration) {
	if *d <= 0 {
		*d = def
	}
}

func intDefault(n *int, def int) {
	if *n <= 0 {
		*n = def
	}
}
