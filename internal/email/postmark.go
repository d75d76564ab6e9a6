// Package email sends transactional mail through Postmark.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const apiURL = "https://api.postmarkapp.com/email"

type Client struct {
	serverToken string
	fromEmail   string
	baseURL     string
	httpClient  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(serverToken, fromEmail, baseURL string, opts ...Option) *Client {
	c := &Client{
		serverToken: serverToken,
		fromEmail:   fromEmail,
		baseURL:     baseURL,
		httpClient:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if the server token is set.
func (c *Client) Configured() bool {
	return c.serverToken != ""
}

type postmarkEmail struct {
	From          string `json:"From"`
	To            string `json:"To"`
	Subject       string `json:"Subject"`
	HtmlBody      string `json:"HtmlBody"`
	TextBody      string `json:"TextBody"`
	MessageStream string `json:"MessageStream,omitempty"`
}

// SendPremiumWelcome confirms a completed premium checkout.
func (c *Client) SendPremiumWelcome(ctx context.Context, toEmail string) error {
	account := c.baseURL + "/"
	return c.send(ctx, postmarkEmail{
		To:      toEmail,
		Subject: "Welcome to Flacron Sports Daily Premium",
		TextBody: fmt.Sprintf("Thanks for subscribing. Ads are now hidden on every page while you are signed in.\n\n"+
			"Manage your subscription at any time:\n%s", account),
		HtmlBody: fmt.Sprintf(`<p>Thanks for subscribing. Ads are now hidden on every page while you are signed in.</p>`+
			`<p><a href="%s">Manage your subscription</a></p>`, account),
	})
}

// SendPremiumEnded tells a subscriber their premium access lapsed.
func (c *Client) SendPremiumEnded(ctx context.Context, toEmail string) error {
	return c.send(ctx, postmarkEmail{
		To:       toEmail,
		Subject:  "Your Flacron Sports Daily Premium has ended",
		TextBody: fmt.Sprintf("Your premium subscription is no longer active.\n\nResubscribe at %s/", c.baseURL),
		HtmlBody: fmt.Sprintf(`<p>Your premium subscription is no longer active.</p><p><a href="%s/">Resubscribe</a></p>`, c.baseURL),
	})
}

func (c *Client) send(ctx context.Context, msg postmarkEmail) error {
	if !c.Configured() {
		return fmt.Errorf("email client not configured: missing server token")
	}
	msg.From = c.fromEmail
	msg.MessageStream = "outbound"

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", c.serverToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("postmark API error: status %d", resp.StatusCode)
	}

	return nil
}
