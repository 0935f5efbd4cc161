package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MimeLyc/contextual-book-translator/internal/translator"
	"golang.org/x/text/language"
)

const DefaultRuntimeSettingsFile = "settings.json"

// RuntimeSettings are the endpoint settings that can be changed while the
// server runs. They take effect for the next run.
type RuntimeSettings struct {
	Translate      EndpointConfig `json:"translate"`
	Classify       EndpointConfig `json:"classify"`
	TargetLanguage string         `json:"target_language"`
}

// RuntimeSettingsFilePath defaults to settings.json inside the data dir.
func (c *Config) RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", filepath.Join(c.System.DataDir, DefaultRuntimeSettingsFile))
}

func (s RuntimeSettings) Validate() error {
	if _, err := s.endpoints().Resolve(translator.UsageTranslate); err != nil {
		return fmt.Errorf("translate: %w", err)
	}
	for _, u := range s.Classify.URLs {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("classify: empty endpoint url")
		}
	}
	if strings.TrimSpace(s.TargetLanguage) == "" {
		return fmt.Errorf("target_language is required")
	}
	if _, err := language.Parse(s.TargetLanguage); err != nil {
		return fmt.Errorf("invalid target_language: %w", err)
	}
	return nil
}

func (s RuntimeSettings) endpoints() translator.Endpoints {
	c := Config{LLM: LLMConfig{Translate: s.Translate, Classify: s.Classify}}
	return c.Endpoints()
}

// Endpoints converts the settings for the model client.
func (s RuntimeSettings) Endpoints() translator.Endpoints {
	return s.endpoints()
}

// Redacted hides API keys for display.
func (s RuntimeSettings) Redacted() RuntimeSettings {
	if s.Translate.APIKey != "" {
		s.Translate.APIKey = "***"
	}
	if s.Classify.APIKey != "" {
		s.Classify.APIKey = "***"
	}
	s.Translate.URLs = append([]string(nil), s.Translate.URLs...)
	s.Classify.URLs = append([]string(nil), s.Classify.URLs...)
	return s
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		Translate:      c.LLM.Translate,
		Classify:       c.LLM.Classify,
		TargetLanguage: c.Translate.TargetLanguage.String(),
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if len(settings.Translate.URLs) > 0 {
			c.LLM.Translate = mergeEndpoint(c.LLM.Translate, settings.Translate)
		}
		if len(settings.Classify.URLs) > 0 {
			c.LLM.Classify = mergeEndpoint(c.LLM.Classify, settings.Classify)
		}
		if tag, err := language.Parse(settings.TargetLanguage); err == nil {
			c.Translate.TargetLanguage = tag
		}
	}
}

func mergeEndpoint(base, override EndpointConfig) EndpointConfig {
	base.URLs = override.URLs
	if strings.TrimSpace(override.APIKey) != "" {
		base.APIKey = override.APIKey
	}
	if strings.TrimSpace(override.Model) != "" {
		base.Model = override.Model
	}
	if override.MaxTokens > 0 {
		base.MaxTokens = override.MaxTokens
	}
	if override.Temperature > 0 {
		base.Temperature = override.Temperature
	}
	if override.Timeout > 0 {
		base.Timeout = override.Timeout
	}
	return base
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

// NewRuntimeSettingsStore keeps initial in memory. It is not validated so
// that a server can start before any endpoint is configured.
func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

// Endpoints returns the endpoints of the current settings.
func (s *RuntimeSettingsStore) Endpoints() translator.Endpoints {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current.Endpoints()
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
