// Package profile provides the HTTP client for the profile-completeness
// provider, plus a cache-backed decorator for the hot eligibility path.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vibecheck-ai/vibecheck/internal/config"
	"github.com/vibecheck-ai/vibecheck/internal/resilience"
)

// Client talks to the profile service over HTTP. It implements
// profile.Provider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewClient creates a new profile service client.
func NewClient(cfg config.Profile) *Client {
	return &Client{
		baseURL: cfg.URL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Score returns the completeness score in [0,100] for the given user.
func (c *Client) Score(ctx context.Context, userID string) (int, error) {
	var score int
	call := func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet,
			fmt.Sprintf("%s/v1/scores/%s", c.baseURL, userID), nil)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
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
			return fmt.Errorf("profile API error %d: %s", resp.StatusCode, string(data))
		}

		var result struct {
			UserID string `json:"user_id"`
			Score  int    `json:"score"`
		}
		if err := json.Unmarshal(data, &result); err != nil {
			return fmt.Errorf("unmarshal score: %w", err)
		}
		if result.Score < 0 || result.Score > 100 {
			return fmt.Errorf("score %d out of range [0,100]", result.Score)
		}

		score = result.Score
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(ctx, call); err != nil {
			return 0, err
		}
		return score, nil
	}

	if err := call(ctx); err != nil {
		return 0, err
	}
	return score, nil
}
