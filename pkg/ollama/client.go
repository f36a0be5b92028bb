// Package ollama serves the "local" model type by dispatching composed
// prompts and images to an Ollama server. Inference still happens behind an
// HTTP service; this is a transport alternative, not on-device execution.
package ollama

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"github.com/fieldvision/region-analyzer/internal/config"
	"github.com/fieldvision/region-analyzer/pkg/inference"
	"github.com/fieldvision/region-analyzer/pkg/payload"
)

// Client wraps the Ollama API client behind the session backend contract.
type Client struct {
	client *api.Client
	cfg    config.ModelConfig
}

// NewClient creates a client for the Ollama server named in the config.
func NewClient(cfg config.ModelConfig) (*Client, error) {
	parsed, err := url.Parse(cfg.LocalURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %v", err)
	}

	// Base URL only; any path such as /api/chat is stripped.
	base := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &Client{
		client: api.NewClient(base, http.DefaultClient),
		cfg:    cfg,
	}, nil
}

// Probe checks that the Ollama server is reachable.
func (c *Client) Probe(ctx context.Context) error {
	if err := c.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("cannot reach Ollama server: %v", err)
	}
	return nil
}

// Dispatch sends the composed prompt plus the full image and every region
// crop to the Ollama server in a single chat turn. The local path has no
// secondary endpoint; its own failure is terminal.
func (c *Client) Dispatch(ctx context.Context, p *payload.Payload) (*inference.RawResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.RequestTimeout())
		defer cancel()
	}

	images := make([]api.ImageData, 0, 1+len(p.Crops))
	full, err := base64.StdEncoding.DecodeString(p.Primary.ImageBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %v", err)
	}
	images = append(images, api.ImageData(full))
	for _, crop := range p.Crops {
		data, err := base64.StdEncoding.DecodeString(crop.EncodedImage)
		if err != nil {
			return nil, fmt.Errorf("failed to decode crop %s: %v", crop.Tag, err)
		}
		images = append(images, api.ImageData(data))
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: c.cfg.ModelName,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: p.Prompt,
				Images:  images,
			},
		},
		Stream: &streamFalse,
		Options: map[string]any{
			"temperature": c.cfg.Temperature,
			"num_predict": c.cfg.MaxTokens,
		},
	}

	var content string
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content = resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %v", err)
	}

	// Present the answer in the chat-completion shape so extraction is
	// uniform across backends.
	chat := &inference.ChatResponse{Choices: make([]inference.ChatChoice, 1)}
	chat.Choices[0].Message.Content = content
	return &inference.RawResult{Chat: chat}, nil
}

// ExtractAnswer digests a raw dispatch result into the final answer string.
func (c *Client) ExtractAnswer(raw *inference.RawResult) string {
	return inference.ExtractAnswer(raw)
}
