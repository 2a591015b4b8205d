package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client talks to the WhatsApp messaging gateway API. The gateway is a
// remote, possibly-slow, possibly-failing dependency; callers are
// expected to treat every error as recoverable.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new gateway API client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// request performs an HTTP request against the gateway API
func (c *Client) request(ctx context.Context, method, path string, body any, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("apikey", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("gateway HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("gateway error: %s", errResp.Error)
	}

	if result != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}

	return nil
}

// ConnectionState returns the connection state of a gateway instance
func (c *Client) ConnectionState(ctx context.Context, instance string) (ConnState, error) {
	var resp connectionStateResponse
	if err := c.request(ctx, http.MethodGet, "/instance/connectionState/"+instance, nil, &resp); err != nil {
		return "", err
	}
	return resp.Instance.State, nil
}

// CheckNumber checks whether a phone number exists on WhatsApp and, when
// it does, returns the routable JID.
func (c *Client) CheckNumber(ctx context.Context, instance, phone string) (*NumberCheck, error) {
	var resp []numberCheckEntry
	req := numberCheckRequest{Numbers: []string{phone}}
	if err := c.request(ctx, http.MethodPost, "/chat/whatsappNumbers/"+instance, req, &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("gateway returned no result for %s", phone)
	}
	return &NumberCheck{Exists: resp[0].Exists, JID: resp[0].JID}, nil
}

// SendText sends a text message to a destination, which may be a JID or
// a canonical phone number.
func (c *Client) SendText(ctx context.Context, instance, destination, text string) (*SendResult, error) {
	var resp sendTextResponse
	req := sendTextRequest{Number: destination, Text: text}
	if err := c.request(ctx, http.MethodPost, "/message/sendText/"+instance, req, &resp); err != nil {
		return nil, err
	}
	return &SendResult{ID: resp.Key.ID}, nil
}
