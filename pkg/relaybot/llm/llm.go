// Package llm implements the completion client relaybot uses to talk to an
// OpenAI-compatible chat completions endpoint (DeepSeek by default).
//
// Every call sends exactly one system turn and one user turn, with a fixed
// token ceiling, and returns the generated text verbatim.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/pkg/errors"
)

const (
	// DefaultBaseURL is the DeepSeek OpenAI-compatible API root.
	DefaultBaseURL = "https://api.deepseek.com/v1"

	// DefaultModel is the model used when none is configured.
	DefaultModel = "deepseek-chat"

	// DefaultMaxTokens is the token ceiling sent with every request.
	DefaultMaxTokens = 2000

	// DefaultTimeout bounds a single completion round trip.
	DefaultTimeout = 120 * time.Second
)

// ErrMalformedResponse is returned when a 2xx response lacks
// choices[0].message.content or cannot be decoded.
var ErrMalformedResponse = stderrors.New("malformed completion response")

// TransportError is returned when the endpoint answers with a non-2xx status.
type TransportError struct {
	Status int
	Body   string
}

func (e *TransportError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("completion endpoint returned HTTP %d", e.Status)
	}
	return fmt.Sprintf("completion endpoint returned HTTP %d: %s", e.Status, e.Body)
}

// Config configures the completion client.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Client handles communication with the completion API.
type Client struct {
	endpoint   string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a completion client, filling unset fields with defaults.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		endpoint:   baseURL + "/chat/completions",
		apiKey:     cfg.APIKey,
		model:      model,
		maxTokens:  maxTokens,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "llm"),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Endpoint returns the full chat completions URL.
func (c *Client) Endpoint() string { return c.endpoint }

// ---------- Wire Types (OpenAI-compatible) ----------

// Message is one role-tagged turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the chat completions request body.
type Request struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
}

// response mirrors only the path we read. Pointers distinguish a missing
// field from an empty one.
type response struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewRequest builds a request with one system turn followed by one user turn.
func (c *Client) NewRequest(systemPrompt, userContent string) Request {
	return Request{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userContent},
		},
		MaxTokens: c.maxTokens,
	}
}

// Complete sends one completion request and returns the generated text
// exactly as received. It fails with *TransportError on non-2xx statuses and
// ErrMalformedResponse when the result path is missing. Errors carry a stack.
func (c *Client) Complete(ctx context.Context, systemPrompt, userContent string) (string, error) {
	reqBody := c.NewRequest(systemPrompt, userContent)

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", errors.Wrap(err, "marshaling completion request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", errors.Wrap(err, "creating completion request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Info("completion request",
		"model", c.model,
		"endpoint", c.endpoint,
		"payload", string(bodyBytes),
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "completion request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Wrap(err, "reading completion response")
	}

	c.logger.Info("completion response",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"body", string(respBody),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", errors.WithStack(&TransportError{
			Status: resp.StatusCode,
			Body:   truncate(string(respBody), 500),
		})
	}

	content, err := extractContent(respBody)
	if err != nil {
		return "", err
	}

	c.logger.Info("completion result", "text", content)
	return content, nil
}

// extractContent reads choices[0].message.content.
func extractContent(body []byte) (string, error) {
	var parsed response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", errors.WithStack(fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}
	if len(parsed.Choices) == 0 {
		return "", errors.WithStack(fmt.Errorf("%w: no choices", ErrMalformedResponse))
	}
	msg := parsed.Choices[0].Message
	if msg == nil || msg.Content == nil {
		return "", errors.WithStack(fmt.Errorf("%w: choices[0].message.content missing", ErrMalformedResponse))
	}
	return *msg.Content, nil
}

// truncate caps s at n bytes, backing off to a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
