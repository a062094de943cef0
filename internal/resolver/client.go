package resolver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPClient talks to a remote identity-resolver service over its JSON API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a client for the resolver at baseURL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Resolve posts the hint to the resolver's /v1/resolve endpoint.
func (c *HTTPClient) Resolve(ctx context.Context, hint Hint) (*Resolution, error) {
	if hint.Name == "" && hint.Email == "" && hint.Phone == "" {
		return nil, fmt.Errorf("resolver: hint must carry a name, email, or phone")
	}

	payload, err := json.Marshal(hint)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal resolver hint: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/resolve", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create resolver request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolver request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("resolver returned status %d: %s", resp.StatusCode, string(body))
	}

	var result Resolution
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode resolver response: %w", err)
	}
	if result.Person == nil {
		return nil, fmt.Errorf("resolver response is missing the person record")
	}
	return &result, nil
}
