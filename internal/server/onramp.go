package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	ErrOnrampNotConfigured = errors.New("onramp session url not configured")
	ErrOnrampUpstream      = errors.New("onramp upstream error")
)

// OnrampClient proxies session-token requests to the hosted on-ramp API so
// the mobile client never sees the API key.
type OnrampClient struct {
	SessionURL string
	APIKey     string
	HTTPClient *http.Client
}

type onrampUpstreamRequest struct {
	Address string `json:"address"`
}

type onrampUpstreamResponse struct {
	SessionToken string `json:"sessionToken"`
	Token        string `json:"token"`
}

func (c *OnrampClient) CreateSession(ctx context.Context, address string) (string, error) {
	if c.SessionURL == "" {
		return "", ErrOnrampNotConfigured
	}

	body, err := json.Marshal(onrampUpstreamRequest{Address: address})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.SessionURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOnrampUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: status %d: %s", ErrOnrampUpstream, resp.StatusCode, snippet)
	}

	var parsed onrampUpstreamResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrOnrampUpstream, err)
	}
	token := parsed.SessionToken
	if token == "" {
		token = parsed.Token
	}
	if token == "" {
		return "", fmt.Errorf("%w: empty session token", ErrOnrampUpstream)
	}
	return token, nil
}
