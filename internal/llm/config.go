package llm

import (
	"fmt"
	"strings"
)

const (
	defaultAPIURL = "http://localhost:8080/v1"
	defaultModel  = "local-model"
)

// Config holds the configuration for an OpenAI-compatible chat endpoint.
// One Config is shared by every base URL of a usage type; the concrete URL
// can be chosen per call with ChatCompletionOptions.BaseURL.
//
// APIKey: Bearer token, optional for self-hosted servers
// APIURL: Default base URL, e.g. http://gpu-1:8000/v1
// Model: Model name sent with every request
// MaxTokens: Default completion budget
// Temperature: Default sampling temperature (0-2)
// Timeout: Request timeout in seconds
// SiteURL: Optional HTTP-Referer header
// AppName: Optional X-Title header
type Config struct {
	APIKey      string  `json:"api_key"`
	APIURL      string  `json:"api_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	Timeout     int     `json:"timeout"`
	SiteURL     string  `json:"site_url"`
	AppName     string  `json:"app_name"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if strings.TrimSpace(c.APIURL) == "" {
		return fmt.Errorf("API URL is required")
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens < 1 {
		return fmt.Errorf("max tokens must be greater than 0")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2")
	}
	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be greater than 0")
	}
	return nil
}

// GetHeaders returns the headers for the LLM API request
func (c *Config) GetHeaders() map[string]string {
	headers := map[string]string{
		"Content-Type": "application/json",
	}
	if c.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.APIKey
	}
	if c.SiteURL != "" {
		headers["HTTP-Referer"] = c.SiteURL
	}
	if c.AppName != "" {
		headers["X-Title"] = c.AppName
	}
	return headers
}
