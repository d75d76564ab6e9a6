package premium

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DefaultCheckPath is the entitlement check endpoint served by cmd/daily.
const DefaultCheckPath = "/api/is-premium"

// RemoteConfig configures a RemoteChecker.
type RemoteConfig struct {
	// URL of the entitlement check endpoint.
	URL string
	// Token returns the current identity token, or "" to rely on the cookie.
	Token   func() string
	Timeout time.Duration
}

type checkRequest struct {
	UserID string `json:"userId"`
}

type checkResponse struct {
	IsPremium bool `json:"isPremium"`
}

// RemoteChecker asks the server whether a subject is premium.
type RemoteChecker struct {
	cfg        RemoteConfig
	httpClient *http.Client
}

func NewRemoteChecker(cfg RemoteConfig) *RemoteChecker {
	if cfg.URL == "" {
		cfg.URL = DefaultCheckPath
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &RemoteChecker{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *RemoteChecker) Premium(ctx context.Context, subject string) (bool, error) {
	body, err := json.Marshal(checkRequest{UserID: subject})
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Token != nil {
		if tok := c.cfg.Token(); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("check: status %d", resp.StatusCode)
	}

	var cr checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return cr.IsPremium, nil
}
