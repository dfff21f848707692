// Package search is the HTTP client for the Channel3 product catalog.
// It covers the two endpoints the assistant needs: ranked product search
// (by text, image, or both) and product detail lookup.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/haasonsaas/shopchat/pkg/models"
)

const (
	defaultBaseURL = "https://api.trychannel3.com/v0"
	defaultTimeout = 30 * time.Second
	defaultLimit   = 20
	maxLimit       = 50
)

// APIError is a non-2xx response from the catalog API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("channel3: status %d: %s", e.StatusCode, e.Message)
}

// Filters narrows search results. Zero-value fields are omitted from the
// request.
type Filters struct {
	Availability []models.Availability `json:"availability,omitempty"`
	Gender       string                `json:"gender,omitempty"`
	BrandIDs     []string              `json:"brand_ids,omitempty"`
}

// Request is one search call. At least one of Query, ImageURL or
// Base64Image must be set.
type Request struct {
	Query       string   `json:"query,omitempty"`
	ImageURL    string   `json:"image_url,omitempty"`
	Base64Image string   `json:"base64_image,omitempty"`
	Limit       int      `json:"limit,omitempty"`
	Filters     *Filters `json:"filters,omitempty"`
}

// Client talks to the catalog API. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	filters    *Filters
}

// Config configures a Client. APIKey is required.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration

	// Filters are applied to every search request (e.g. only in-stock
	// availability), matching the application-level search policy.
	Filters *Filters
}

// NewClient creates a catalog client with defaults applied.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("channel3: API key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		filters:    cfg.Filters,
	}, nil
}

// Search returns ranked product matches. The request limit is clamped to
// the API maximum; zero means the default page size.
func (c *Client) Search(ctx context.Context, req Request) ([]models.Product, error) {
	if req.Query == "" && req.ImageURL == "" && req.Base64Image == "" {
		return nil, fmt.Errorf("channel3: provide a query or an image")
	}
	if req.Limit <= 0 {
		req.Limit = defaultLimit
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}
	if req.Filters == nil {
		req.Filters = c.filters
	}

	var products []models.Product
	if err := c.doJSON(ctx, http.MethodPost, "/search", req, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// GetProduct fetches the enriched detail record for one product id.
func (c *Client) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("channel3: product id is required")
	}
	var product models.Product
	if err := c.doJSON(ctx, http.MethodGet, "/products/"+url.PathEscape(id), nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("channel3: encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("channel3: build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("channel3: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("channel3: decode response: %w", err)
	}
	return nil
}

// readErrorMessage pulls a detail string out of an error body, falling
// back to the raw (truncated) body text.
func readErrorMessage(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(raw) == 0 {
		return "no error detail"
	}
	var detail struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &detail); err == nil {
		if detail.Detail != "" {
			return detail.Detail
		}
		if detail.Message != "" {
			return detail.Message
		}
	}
	return strings.TrimSpace(string(raw))
}
