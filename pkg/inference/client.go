// Package inference performs the HTTP round trips against the remote
// inference backends: a readiness probe, dispatch with a primary-to-fallback
// escalation policy, and answer extraction from either response shape.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fieldvision/region-analyzer/internal/config"
	"github.com/fieldvision/region-analyzer/internal/logger"
	"github.com/fieldvision/region-analyzer/pkg/payload"
)

// ErrTimeout marks a fallback request that exceeded its timeout, so callers
// can distinguish it from status-code and transport failures.
var ErrTimeout = errors.New("API request timed out")

const (
	// primaryTimeout is deliberately generous: the primary backend runs
	// full multimodal inference and can be slow.
	primaryTimeout = 300 * time.Second
	probeTimeout   = 10 * time.Second

	// answerUnavailable is returned when the model produced no content.
	answerUnavailable = "Sorry, unable to generate an answer."
	// answerRetry replaces answers that are empty after trimming.
	answerRetry = "Sorry, unable to generate an answer. Please try again."
)

// PrimaryResponse is the primary backend response envelope.
type PrimaryResponse struct {
	Status   string `json:"status"`
	Response string `json:"response"`
	Message  string `json:"message"`
}

// ChatChoice is one completion choice in an OpenAI-compatible response.
type ChatChoice struct {
	Message struct {
		Content any `json:"content"`
	} `json:"message"`
}

// ChatResponse is an OpenAI-compatible chat-completion response.
type ChatResponse struct {
	Choices []ChatChoice `json:"choices"`
}

// RawResult is the undigested outcome of a dispatch. Exactly one field is
// set, identifying which backend produced the answer.
type RawResult struct {
	Primary *PrimaryResponse
	Chat    *ChatResponse
}

// Client talks to the primary backend and the OpenAI-compatible fallback.
type Client struct {
	cfg            config.ModelConfig
	primaryClient  *http.Client
	fallbackClient *http.Client
	probeClient    *http.Client
	log            *logrus.Entry
}

// NewClient creates a client for the given configuration.
func NewClient(cfg config.ModelConfig) *Client {
	return &Client{
		cfg:            cfg,
		primaryClient:  &http.Client{Timeout: primaryTimeout},
		fallbackClient: &http.Client{Timeout: cfg.RequestTimeout()},
		probeClient:    &http.Client{Timeout: probeTimeout},
		log:            logger.WithField("component", "inference"),
	}
}

// Probe performs a lightweight authenticated GET against the health URL.
// HTTP 200 means ready; anything else is a failure carrying the status and
// a slice of the body for diagnostics. This is a readiness check only.
func (c *Client) Probe(ctx context.Context) error {
	url := c.cfg.ResolveHealthURL()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.probeClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot reach OpenAI-compatible API: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed: %d %s", resp.StatusCode, truncate(string(body), 200))
	}
	return nil
}

// Dispatch attempts the primary backend first and escalates to the fallback
// on any primary failure: transport error, non-2xx status, malformed JSON,
// or an explicit non-success status field. A primary failure alone is never
// terminal; only the fallback outcome is.
func (c *Client) Dispatch(ctx context.Context, p *payload.Payload) (*RawResult, error) {
	primary, err := c.dispatchPrimary(ctx, p.Primary)
	if err == nil {
		return &RawResult{Primary: primary}, nil
	}
	c.log.WithError(err).Debug("primary backend failed, falling back")

	chat, err := c.dispatchFallback(ctx, p.Fallback)
	if err != nil {
		return nil, err
	}
	return &RawResult{Chat: chat}, nil
}

func (c *Client) dispatchPrimary(ctx context.Context, body payload.PrimaryRequest) (*PrimaryResponse, error) {
	url := strings.TrimSuffix(c.cfg.PrimaryAPIURL, "/") + "/infer"

	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal primary request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create primary request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.primaryClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("primary request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("primary backend returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed PrimaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to parse primary response: %v", err)
	}
	if parsed.Status != "success" {
		return nil, fmt.Errorf("primary backend reported %q: %s", parsed.Status, parsed.Message)
	}
	return &parsed, nil
}

func (c *Client) dispatchFallback(ctx context.Context, body payload.FallbackRequest) (*ChatResponse, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fallback request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.FallbackAPIURL, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create fallback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.fallbackClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("API request error: %v", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read fallback response: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncate(string(raw), 500))
	}

	var parsed ChatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse fallback response: %v", err)
	}
	return &parsed, nil
}

// ExtractAnswer digests a raw dispatch result into the final answer string.
func (c *Client) ExtractAnswer(raw *RawResult) string {
	return ExtractAnswer(raw)
}

// ExtractAnswer digests a raw dispatch result into the final answer string.
// The result is trimmed; an answer empty after trimming is replaced with a
// canned retry suggestion.
func ExtractAnswer(raw *RawResult) string {
	var answer string

	switch {
	case raw == nil:
		answer = ""
	case raw.Primary != nil:
		if raw.Primary.Status == "success" {
			answer = raw.Primary.Response
			if answer == "" {
				answer = "No response from model."
			}
		} else {
			msg := raw.Primary.Message
			if msg == "" {
				msg = "Unknown error"
			}
			answer = "API error: " + msg
		}
	case raw.Chat != nil:
		answer = chatContent(raw.Chat)
		if answer == "" {
			answer = answerUnavailable
		}
	}

	answer = strings.TrimSpace(answer)
	if answer == "" {
		answer = answerRetry
	}
	return answer
}

// chatContent pulls the text out of choices[0].message.content, which may be
// a plain string or a list of content parts.
func chatContent(resp *ChatResponse) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	switch content := resp.Choices[0].Message.Content.(type) {
	case string:
		return content
	case []any:
		for _, item := range content {
			if part, ok := item.(map[string]any); ok {
				if text, ok := part["text"].(string); ok && text != "" {
					return text
				}
			}
		}
	}
	return ""
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
