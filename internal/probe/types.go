package probe

import "time"

// CompletionRequest is the body sent to an OpenAI-compatible /v1/completions
// endpoint. LogitBias keys are token IDs rendered as decimal strings.
type CompletionRequest struct {
	Model       string             `json:"model"`
	Prompt      string             `json:"prompt"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens"`
	LogitBias   map[string]float64 `json:"logit_bias,omitempty"`
}

// CompletionResponse mirrors the subset of the completions response we read.
type CompletionResponse struct {
	Choices []CompletionChoice `json:"choices"`
	Error   *APIError          `json:"error,omitempty"`
}

// CompletionChoice holds a single generated alternative.
type CompletionChoice struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// APIError is the error envelope some OpenAI-compatible servers return
// inside a 200 body.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    any    `json:"code,omitempty"`
}

// Config holds connection and request-shaping settings for a Client.
type Config struct {
	BaseURL string
	Model   string
	APIKey  string // optional; local servers typically ignore it

	// Timeout bounds a single probe request.
	Timeout time.Duration

	// MinRequestInterval enforces a minimum gap between consecutive
	// requests. Zero disables the gate (local inference servers).
	MinRequestInterval time.Duration

	// Prompt is the minimal fixed prompt sent with every probe.
	Prompt string

	// LogitBias is the positive bias applied to the probed token ID.
	LogitBias float64

	// Temperature for the forced completion.
	Temperature float64
}

// DefaultConfig returns settings matching a local OpenAI-compatible server.
func DefaultConfig(model string) Config {
	return Config{
		BaseURL:     "http://localhost:1234/v1",
		Model:       model,
		Timeout:     10 * time.Second,
		Prompt:      " ",
		LogitBias:   100,
		Temperature: 0.1,
	}
}
