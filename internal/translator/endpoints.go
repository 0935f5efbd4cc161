package translator

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MimeLyc/contextual-book-translator/internal/llm"
)

// ErrMissingEndpoint is returned when no usable endpoint is configured for
// a usage type.
var ErrMissingEndpoint = errors.New("missing endpoint configuration")

// EndpointConfig describes the model servers that serve one usage type.
type EndpointConfig struct {
	URLs        []string `json:"urls"`
	APIKey      string   `json:"api_key,omitempty"`
	Model       string   `json:"model"`
	MaxTokens   int      `json:"max_tokens"`
	Temperature float64  `json:"temperature"`
	Timeout     int      `json:"timeout"`
}

// Endpoints maps each usage type to its endpoint configuration.
type Endpoints map[Usage]EndpointConfig

// Resolve returns the configuration for usage. Classification falls back to
// the translation endpoints when it has none of its own.
func (e Endpoints) Resolve(usage Usage) (EndpointConfig, error) {
	cfg, ok := e[usage]
	if (!ok || len(cleanURLs(cfg.URLs)) == 0) && usage == UsageClassify {
		cfg, ok = e[UsageTranslate]
	}
	if !ok {
		return EndpointConfig{}, fmt.Errorf("%w: %s", ErrMissingEndpoint, usage)
	}
	cfg.URLs = cleanURLs(cfg.URLs)
	if len(cfg.URLs) == 0 {
		return EndpointConfig{}, fmt.Errorf("%w: %s has no URLs", ErrMissingEndpoint, usage)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return EndpointConfig{}, fmt.Errorf("%w: %s has no model", ErrMissingEndpoint, usage)
	}
	return cfg, nil
}

// Validate checks that every usage type can be resolved.
func (e Endpoints) Validate() error {
	for _, usage := range []Usage{UsageTranslate, UsageClassify} {
		if _, err := e.Resolve(usage); err != nil {
			return err
		}
	}
	return nil
}

func (c EndpointConfig) llmConfig() *llm.Config {
	return &llm.Config{
		APIKey:      c.APIKey,
		APIURL:      c.URLs[0],
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
		Timeout:     c.Timeout,
		AppName:     "contextual-book-translator",
	}
}

func cleanURLs(urls []string) []string {
	ret := make([]string, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		ret = append(ret, u)
	}
	return ret
}
