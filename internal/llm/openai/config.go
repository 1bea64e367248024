package openai

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joseph-ayodele/paper-translate/internal/llm"
)

// Config for the OpenAI-compatible chat completions client. DeepSeek, Qwen,
// OpenRouter and OpenAI itself all speak this protocol.
type Config struct {
	APIKey      string  // if empty, falls back to env LLM_API_KEY
	BaseURL     string  // default https://api.deepseek.com/v1
	Temperature float32 // 0..2
	MaxTokens   int     // 0 leaves the provider default

	MaxAttempts int           // per model, including the first call
	BaseDelay   time.Duration // first backoff wait
	MaxDelay    time.Duration // backoff cap
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// NewClient builds a client around a shared HTTP client. A nil httpClient
// gets a private one with the default timeouts.
func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("LLM_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.deepseek.com/v1"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 2 * time.Second
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = llm.NewHTTPClient(15*time.Second, 90*time.Second)
	}
	return &Client{
		cfg:    cfg,
		http:   httpClient,
		logger: logger,
	}
}
