// Package dialogue provides the HTTP client for the dialogue simulation
// collaborator, which runs a conversation between two agent profiles and
// returns a compatibility verdict.
package dialogue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vibecheck-ai/vibecheck/internal/adapter/otel"
	"github.com/vibecheck-ai/vibecheck/internal/config"
	"github.com/vibecheck-ai/vibecheck/internal/domain/conversation"
	"github.com/vibecheck-ai/vibecheck/internal/port/dialogue"
	"github.com/vibecheck-ai/vibecheck/internal/resilience"
)

// Client talks to the dialogue service over HTTP. It implements
// dialogue.Service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new dialogue service client.
func NewClient(cfg config.Dialogue) *Client {
	return &Client{
		baseURL: cfg.URL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Converse submits a pairing to the collaborator and returns its verdict.
// The verdict is validated at this boundary so callers never see an
// out-of-range score or a yes without a narrative.
func (c *Client) Converse(ctx context.Context, req dialogue.Request) (conversation.Verdict, error) {
	ctx, span := otel.StartDialogueSpan(ctx, req.A.AgentID, req.B.AgentID)
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return conversation.Verdict{}, fmt.Errorf("marshal conversation request: %w", err)
	}

	resp, err := c.doRequest(ctx, http.MethodPost, "/v1/conversations", body)
	if err != nil {
		return conversation.Verdict{}, fmt.Errorf("converse: %w", err)
	}

	var verdict conversation.Verdict
	if err := json.Unmarshal(resp, &verdict); err != nil {
		return conversation.Verdict{}, fmt.Errorf("unmarshal verdict: %w", err)
	}
	if err := verdict.Validate(); err != nil {
		return conversation.Verdict{}, fmt.Errorf("invalid verdict: %w", err)
	}
	return verdict, nil
}

// Health checks if the dialogue service is reachable.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	return err == nil, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func(ctx context.Context) error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("dialogue API error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(ctx, call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(ctx); err != nil {
		return nil, err
	}
	return result, nil
}
