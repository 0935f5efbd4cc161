package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okResponse = `{
	"id": "test-id",
	"object": "chat.completion",
	"created": 1234567890,
	"model": "test-model",
	"choices": [{
		"index": 0,
		"message": {"role": "assistant", "content": "Hello! This is a test response."},
		"finish_reason": "stop"
	}],
	"usage": {"prompt_tokens": 10, "completion_tokens": 20, "total_tokens": 30}
}`

func testConfig(url string) *Config {
	return &Config{
		APIKey:      "test-key",
		APIURL:      url,
		Model:       "test-model",
		MaxTokens:   1000,
		Temperature: 0.7,
		Timeout:     30,
	}
}

func TestNewClient(t *testing.T) {
	config := testConfig("https://api.example.com/v1/")

	client, err := NewClient(config)
	require.NoError(t, err)
	assert.Equal(t, config, client.config)
	assert.Equal(t, "https://api.example.com/v1", client.baseURL)
	assert.NotNil(t, client.httpClient)

	_, err = NewClient(&Config{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig("http://localhost:8000/v1")
	cfg.APIKey = ""
	assert.NoError(t, cfg.Validate(), "API key is optional for self-hosted servers")
	_, hasAuth := cfg.GetHeaders()["Authorization"]
	assert.False(t, hasAuth)

	cfg.Temperature = 2.5
	assert.Error(t, cfg.Validate())

	cfg = testConfig("")
	assert.Error(t, cfg.Validate())
}

func TestClientWithMockServer(t *testing.T) {
	var got ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(okResponse))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	opts := NewChatCompletionOptions().
		WithSystemPrompt("sys").
		WithMaxTokens(50).
		WithResponseFormat(NewJSONSchemaFormat("out", json.RawMessage(`{"type":"object"}`)))
	response, err := client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "Hello"}}, opts)

	require.NoError(t, err)
	content, err := response.Content()
	require.NoError(t, err)
	assert.Equal(t, "Hello! This is a test response.", content)
	assert.Equal(t, 30, response.Usage.TotalTokens)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, 50, got.MaxTokens)
	assert.Equal(t, 0.7, got.Temperature)
	require.NotNil(t, got.ResponseFormat)
	assert.Equal(t, "json_schema", got.ResponseFormat.Type)
	assert.Equal(t, "out", got.ResponseFormat.JSONSchema.Name)
}

func TestChatCompletionBaseURLOverride(t *testing.T) {
	var hits sync.Map
	newServer := func(name string) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Store(name, true)
			_, _ = w.Write([]byte(okResponse))
		}))
	}
	primary := newServer("primary")
	defer primary.Close()
	secondary := newServer("secondary")
	defer secondary.Close()

	client, err := NewClient(testConfig(primary.URL))
	require.NoError(t, err)

	_, err = client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "x"}},
		NewChatCompletionOptions().WithBaseURL(secondary.URL+"/"))
	require.NoError(t, err)

	_, primaryHit := hits.Load("primary")
	_, secondaryHit := hits.Load("secondary")
	assert.False(t, primaryHit)
	assert.True(t, secondaryHit)
}

func TestClientErrorHandling(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "Invalid request", "type": "invalid_request_error", "code": "invalid_api_key"}}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Contains(t, err.Error(), "Invalid request")
	assert.False(t, IsRetryable(err))
}

func TestGatewayHTMLIsStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html><body>502 Bad Gateway</body></html>"))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.SimpleChat(context.Background(), "Hello", "")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)
	assert.True(t, IsRetryable(err))
}

func TestTransportErrorIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client, err := NewClient(testConfig(url))
	require.NoError(t, err)

	_, err = client.SimpleChat(context.Background(), "Hello", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.True(t, IsRetryable(err))
	assert.False(t, IsRetryable(errors.New("other")))
}

func TestSimpleChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ChatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Messages, 2)
		assert.Equal(t, "You are a helpful assistant.", req.Messages[0].Content)
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "Simple chat response"}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	response, err := client.SimpleChat(context.Background(), "Hello", "You are a helpful assistant.")
	require.NoError(t, err)
	assert.Equal(t, "Simple chat response", response)
}

func TestSimpleChatNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.SimpleChat(context.Background(), "Hello", "")
	assert.ErrorContains(t, err, "no choices")
}

func TestClientGetModels(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models", r.URL.Path)
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"qwen2.5-14b"},{"id":"llama-3","name":"Llama 3"}]}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig("http://unused.invalid"))
	require.NoError(t, err)

	models, err := client.GetModels(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, ModelInfo{ID: "qwen2.5-14b", Name: "qwen2.5-14b"}, models[0])
	assert.Equal(t, "Llama 3", models[1].Name)
}

func TestClientConcurrentRequests(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "Concurrent response"}}]}`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			response, err := client.SimpleChat(context.Background(), "Hello", "")
			if assert.NoError(t, err) {
				results <- response
			}
		}()
	}
	wg.Wait()
	close(results)

	count := 0
	for response := range results {
		assert.Equal(t, "Concurrent response", response)
		count++
	}
	assert.Equal(t, 10, count)
}

func TestInvalidJSONResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`invalid json`))
	}))
	defer server.Close()

	client, err := NewClient(testConfig(server.URL))
	require.NoError(t, err)

	_, err = client.ChatCompletion(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)
	assert.ErrorContains(t, err, "failed to parse response")
	assert.False(t, IsRetryable(err))
}

// TestLocalEndpointIntegration talks to a real server when LLM_API_URL is
// configured, usually through a .env file next to the package.
func TestLocalEndpointIntegration(t *testing.T) {
	_ = godotenv.Load("./.env")
	apiURL := os.Getenv("LLM_API_URL")
	if apiURL == "" {
		t.Skip("Set LLM_API_URL environment variable to run this test")
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = defaultModel
	}

	client, err := NewClient(&Config{
		APIKey:      os.Getenv("LLM_API_KEY"),
		APIURL:      apiURL,
		Model:       model,
		MaxTokens:   100,
		Temperature: 0.2,
		Timeout:     60,
	})
	require.NoError(t, err)

	response, err := client.SimpleChat(context.Background(), "What is the capital of France?", "Answer briefly and accurately")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(response), "paris")
}
