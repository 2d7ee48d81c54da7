// Package probe issues single-token forcing completion requests against an
// OpenAI-compatible inference endpoint and classifies each outcome. A probe
// applies an extreme positive logit bias to exactly one token ID with
// max_tokens=1, so the decoded text of the generated token reveals the
// vocabulary entry behind that ID.
package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// OutcomeKind classifies a single probe attempt.
type OutcomeKind int

const (
	// KindResolved - the endpoint returned a non-empty decoded token.
	KindResolved OutcomeKind = iota
	// KindEmpty - the endpoint answered but the decoded text is empty or
	// whitespace-only, or the ID is known-invalid (permanent failure).
	KindEmpty
	// KindTransient - network error, timeout, HTTP 408/429/5xx. Retryable.
	KindTransient
	// KindPermanent - HTTP 4xx indicating an out-of-range or invalid ID.
	// Not retryable; callers record the ID as empty and move on.
	KindPermanent
)

func (k OutcomeKind) String() string {
	switch k {
	case KindResolved:
		return "resolved"
	case KindEmpty:
		return "empty"
	case KindTransient:
		return "transient_failure"
	case KindPermanent:
		return "permanent_failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Outcome is the classified result of probing one token ID.
type Outcome struct {
	Kind OutcomeKind
	// Text is the decoded token text. Set for KindResolved; for KindEmpty
	// it holds the raw (possibly whitespace) decoding.
	Text string
	// Reason carries the underlying error for failure kinds.
	Reason error
}

// Prober is the minimal interface the sweep engine consumes.
type Prober interface {
	Probe(ctx context.Context, tokenID int) Outcome
}

// Client probes token IDs over HTTP. Stateless between calls apart from the
// rate-limit gate; safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.Mutex
	lastRequest time.Time
}

// NewClient creates a probe client for the configured endpoint.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// Probe forces generation of exactly one token by ID and decodes its text.
func (c *Client) Probe(ctx context.Context, tokenID int) Outcome {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	if err := c.waitRateGate(ctx); err != nil {
		return Outcome{Kind: KindTransient, Reason: err}
	}

	reqBody := CompletionRequest{
		Model:       c.cfg.Model,
		Prompt:      c.cfg.Prompt,
		Temperature: c.cfg.Temperature,
		MaxTokens:   1,
		LogitBias:   map[string]float64{strconv.Itoa(tokenID): c.cfg.LogitBias},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return Outcome{Kind: KindPermanent, Reason: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/completions", bytes.NewReader(jsonData))
	if err != nil {
		return Outcome{Kind: KindPermanent, Reason: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Outcome{Kind: KindTransient, Reason: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Outcome{Kind: KindTransient, Reason: fmt.Errorf("failed to read response: %w", err)}
	}

	if kind, ok := classifyStatus(resp.StatusCode); ok {
		c.logger.Debug("probe rejected",
			zap.Int("token_id", tokenID),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", kind.String()))
		return Outcome{
			Kind:   kind,
			Reason: fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncate(string(body), 200)),
		}
	}

	var cr CompletionResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		// A garbled body from a live server is worth one more try.
		return Outcome{Kind: KindTransient, Reason: fmt.Errorf("failed to parse response: %w", err)}
	}
	if cr.Error != nil {
		return Outcome{Kind: KindPermanent, Reason: fmt.Errorf("API error: %s", cr.Error.Message)}
	}
	if len(cr.Choices) == 0 {
		return Outcome{Kind: KindEmpty}
	}

	text := cr.Choices[0].Text
	if strings.TrimSpace(text) == "" {
		return Outcome{Kind: KindEmpty, Text: text}
	}
	return Outcome{Kind: KindResolved, Text: text}
}

// classifyStatus maps non-200 HTTP statuses onto outcome kinds. The second
// return is false for 200.
func classifyStatus(status int) (OutcomeKind, bool) {
	switch {
	case status == http.StatusOK:
		return 0, false
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return KindTransient, true
	default:
		// Remaining 4xx: the server understood us and said no. Out-of-range
		// and invalid-ID rejections land here.
		return KindPermanent, true
	}
}

// waitRateGate blocks until at least MinRequestInterval has elapsed since
// the previous request left this client.
func (c *Client) waitRateGate(ctx context.Context) error {
	if c.cfg.MinRequestInterval <= 0 {
		return nil
	}

	c.mu.Lock()
	elapsed := time.Since(c.lastRequest)
	wait := c.cfg.MinRequestInterval - elapsed
	c.lastRequest = time.Now().Add(max(wait, 0))
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
