package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Place is one business returned by the directory search service
type Place struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
}

// SearchResult is one page of search results
type SearchResult struct {
	Places   []Place `json:"places"`
	NextPage int     `json:"next_page"` // 0 when this is the last page
}

type errorResponse struct {
	Error string `json:"error"`
}

// Client talks to the business directory search API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new directory API client
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

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("directory HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("directory error: %s", errResp.Error)
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Search returns one page of businesses matching query near location
func (c *Client) Search(ctx context.Context, query, location string, page int) (*SearchResult, error) {
	params := url.Values{}
	params.Set("query", query)
	if location != "" {
		params.Set("location", location)
	}
	if page > 1 {
		params.Set("page", strconv.Itoa(page))
	}

	var result SearchResult
	if err := c.get(ctx, "/places/search?"+params.Encode(), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Details looks up the contact details of a single place. Search results
// do not always carry a phone number; this fills the gap.
func (c *Client) Details(ctx context.Context, placeID string) (*Place, error) {
	var place Place
	if err := c.get(ctx, "/places/"+url.PathEscape(placeID), &place); err != nil {
		return nil, err
	}
	return &place, nil
}
