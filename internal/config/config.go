package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/contextual-book-translator/internal/healer"
	"github.com/MimeLyc/contextual-book-translator/internal/quality"
	"github.com/MimeLyc/contextual-book-translator/internal/translator"
	"github.com/MimeLyc/contextual-book-translator/pkg/icron"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
	"golang.org/x/text/language"
)

// Config holds all application configuration
// Supports environment variables with sensible defaults
//
// Environment Variables:
// LLM Configuration (translate usage):
// - LLM_API_URLS: Comma separated endpoint URLs (default: http://localhost:8000/v1)
// - LLM_API_KEY: API key for the endpoints (optional for local servers)
// - LLM_MODEL: Model name to use (default: qwen2.5-7b-instruct)
// - LLM_MAX_TOKENS: Maximum tokens for responses (default: 4096)
// - LLM_TEMPERATURE: Temperature for responses (default: 0.3)
// - LLM_TIMEOUT: Request timeout in seconds (default: 120)
//
// LLM Configuration (classify usage, falls back to the translate endpoints):
// - CLASSIFY_API_URLS, CLASSIFY_API_KEY, CLASSIFY_MODEL
//
// Pool Configuration:
// - POOL_FAILURE_COOLDOWN: How long a failed endpoint is deprioritized (default: 60s)
// - POOL_STALE_BUSY: How long a checkout may stay busy before it is released (default: 600s)
//
// Batch Configuration:
// - BATCH_SIZE: Units translated per job step (default: 10)
// - WORKERS: Concurrent job workers (default: 2)
// - MAX_ATTEMPTS: Failed steps before a job is discarded (default: 5)
// - SNOOZE: Wait before a paused run is looked at again (default: 5s)
// - STUCK_TIMEOUT: Age after which a running job is reset (default: 15m)
// - SWEEP_SCHEDULE: Cron expression for the stuck-job sweep (default: @every 1m)
//
// Healer Configuration:
// - HEALER_MIN_BRACKETS / HEALER_MAX_BRACKETS (default: 1 / 3)
// - HEALER_ALLOW_SPACE: Accept whitespace inside markers (default: true)
//
// Quality Configuration:
// - QUALITY_MEDIUM / QUALITY_HIGH: Similarity thresholds (default: 0.85 / 0.95)
// - QUALITY_MIN_LENGTH: Shortest text that is checked (default: 12)
//
// Other:
// - SOURCE_LANG / TARGET_LANG: Default language pair (default: en / zh)
// - DATA_DIR: Directory of the SQLite database (default: ./data)
// - HTTP_ADDR: Listen address of the control API (default: :8080)
type Config struct {
	LLM       LLMConfig       `json:"llm"`
	Pool      PoolConfig      `json:"pool"`
	Batch     BatchConfig     `json:"batch"`
	Healer    HealerConfig    `json:"healer"`
	Quality   QualityConfig   `json:"quality"`
	Translate TranslateConfig `json:"translate"`
	System    SystemConfig    `json:"system"`
	HTTP      HTTPConfig      `json:"http"`
}

// LLMConfig holds one endpoint configuration per usage type.
type LLMConfig struct {
	Translate EndpointConfig `json:"translate"`
	Classify  EndpointConfig `json:"classify"`
}

type EndpointConfig struct {
	URLs        []string `json:"urls"`
	APIKey      string   `json:"api_key"`
	Model       string   `json:"model"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	Timeout     int      `json:"timeout"`
}

type PoolConfig struct {
	FailureCooldown time.Duration `json:"failure_cooldown"`
	StaleBusy       time.Duration `json:"stale_busy"`
}

type BatchConfig struct {
	Size          int           `json:"size"`
	Workers       int           `json:"workers"`
	MaxAttempts   int           `json:"max_attempts"`
	Snooze        time.Duration `json:"snooze"`
	StuckTimeout  time.Duration `json:"stuck_timeout"`
	SweepSchedule string        `json:"sweep_schedule"`
}

type HealerConfig struct {
	MinBrackets int  `json:"min_brackets"`
	MaxBrackets int  `json:"max_brackets"`
	AllowSpace  bool `json:"allow_space"`
}

type QualityConfig struct {
	Medium    float64 `json:"medium"`
	High      float64 `json:"high"`
	MinLength int     `json:"min_length"`
}

type TranslateConfig struct {
	SourceLanguage language.Tag `json:"source_language"`
	TargetLanguage language.Tag `json:"target_language"`
}

type SystemConfig struct {
	DataDir string `json:"data_dir"`
}

type HTTPConfig struct {
	Addr string `json:"addr"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	config := &Config{
		LLM: LLMConfig{
			Translate: EndpointConfig{
				URLs:        getEnvList("LLM_API_URLS", []string{"http://localhost:8000/v1"}),
				APIKey:      getEnvString("LLM_API_KEY", ""),
				Model:       getEnvString("LLM_MODEL", "qwen2.5-7b-instruct"),
				MaxTokens:   getEnvInt("LLM_MAX_TOKENS", 4096),
				Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
				Timeout:     getEnvInt("LLM_TIMEOUT", 120),
			},
			Classify: EndpointConfig{
				URLs:        getEnvList("CLASSIFY_API_URLS", nil),
				APIKey:      getEnvString("CLASSIFY_API_KEY", ""),
				Model:       getEnvString("CLASSIFY_MODEL", ""),
				MaxTokens:   getEnvInt("CLASSIFY_MAX_TOKENS", 256),
				Temperature: getEnvFloat("CLASSIFY_TEMPERATURE", 0),
				Timeout:     getEnvInt("CLASSIFY_TIMEOUT", 60),
			},
		},
		Pool: PoolConfig{
			FailureCooldown: getEnvDuration("POOL_FAILURE_COOLDOWN", 60*time.Second),
			StaleBusy:       getEnvDuration("POOL_STALE_BUSY", 600*time.Second),
		},
		Batch: BatchConfig{
			Size:          getEnvInt("BATCH_SIZE", 10),
			Workers:       getEnvInt("WORKERS", 2),
			MaxAttempts:   getEnvInt("MAX_ATTEMPTS", 5),
			Snooze:        getEnvDuration("SNOOZE", 5*time.Second),
			StuckTimeout:  getEnvDuration("STUCK_TIMEOUT", 15*time.Minute),
			SweepSchedule: getEnvString("SWEEP_SCHEDULE", "@every 1m"),
		},
		Healer: HealerConfig{
			MinBrackets: getEnvInt("HEALER_MIN_BRACKETS", 1),
			MaxBrackets: getEnvInt("HEALER_MAX_BRACKETS", 3),
			AllowSpace:  getEnvBool("HEALER_ALLOW_SPACE", true),
		},
		Quality: QualityConfig{
			Medium:    getEnvFloat("QUALITY_MEDIUM", 0.85),
			High:      getEnvFloat("QUALITY_HIGH", 0.95),
			MinLength: getEnvInt("QUALITY_MIN_LENGTH", 12),
		},
		Translate: TranslateConfig{
			SourceLanguage: getEnvLanguage("SOURCE_LANG", language.English),
			TargetLanguage: getEnvLanguage("TARGET_LANG", language.Chinese),
		},
		System: SystemConfig{
			DataDir: getEnvString("DATA_DIR", "./data"),
		},
		HTTP: HTTPConfig{
			Addr: getEnvString("HTTP_ADDR", ":8080"),
		},
	}

	// Apply custom options
	for _, opt := range opts {
		opt(config)
	}

	// Validate required configuration
	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: batch=%+v pool=%+v healer=%+v quality=%+v", config.Batch, config.Pool, config.Healer, config.Quality)
	return config, nil
}

// DBPath is the SQLite database inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.System.DataDir, "booktrans.db")
}

// Endpoints converts the LLM section for the model client. Endpoint
// problems are reported when a run is created, not here.
func (c *Config) Endpoints() translator.Endpoints {
	ret := translator.Endpoints{
		translator.UsageTranslate: c.LLM.Translate.endpoint(),
	}
	if len(c.LLM.Classify.URLs) > 0 {
		classify := c.LLM.Classify.endpoint()
		if classify.Model == "" {
			classify.Model = c.LLM.Translate.Model
		}
		ret[translator.UsageClassify] = classify
	}
	return ret
}

func (e EndpointConfig) endpoint() translator.EndpointConfig {
	return translator.EndpointConfig{
		URLs:        append([]string(nil), e.URLs...),
		APIKey:      e.APIKey,
		Model:       e.Model,
		MaxTokens:   e.MaxTokens,
		Temperature: e.Temperature,
		Timeout:     e.Timeout,
	}
}

func (c *Config) Tolerance() healer.Tolerance {
	return healer.Tolerance{
		MinBrackets: c.Healer.MinBrackets,
		MaxBrackets: c.Healer.MaxBrackets,
		AllowSpace:  c.Healer.AllowSpace,
	}
}

func (c *Config) QualityConfig() quality.Config {
	return quality.Config{
		Medium:    c.Quality.Medium,
		High:      c.Quality.High,
		MinLength: c.Quality.MinLength,
	}
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if c.Batch.Size <= 0 {
		return fmt.Errorf("BATCH_SIZE must be positive, got %d", c.Batch.Size)
	}
	if c.Batch.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Batch.Workers)
	}
	if c.Batch.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be positive, got %d", c.Batch.MaxAttempts)
	}
	if _, err := icron.Parse(c.Batch.SweepSchedule); err != nil {
		return fmt.Errorf("SWEEP_SCHEDULE: %w", err)
	}
	if c.Healer.MinBrackets < 1 || c.Healer.MaxBrackets < c.Healer.MinBrackets {
		return fmt.Errorf("invalid healer bracket range %d..%d", c.Healer.MinBrackets, c.Healer.MaxBrackets)
	}
	if c.Quality.Medium <= 0 || c.Quality.High > 1 || c.Quality.Medium > c.Quality.High {
		return fmt.Errorf("invalid quality thresholds medium=%.2f high=%.2f", c.Quality.Medium, c.Quality.High)
	}
	if c.System.DataDir == "" {
		return fmt.Errorf("DATA_DIR is required")
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat gets a float value from environment variables with default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") and plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Warn("Ignoring invalid duration %s=%q", key, value)
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var ret []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	return ret
}

func getEnvLanguage(key string, defaultValue language.Tag) language.Tag {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	tag, err := language.Parse(value)
	if err != nil {
		log.Warn("Ignoring invalid language %s=%q: %v", key, value, err)
		return defaultValue
	}
	return tag
}
