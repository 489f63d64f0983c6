package solarapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	errx "github.com/zohlar/agent-server/internal/core/error"
	logx "github.com/zohlar/agent-server/pkg/logger"
)

const maxResponseSizeBytes = 2 << 20

// Config holds connection settings for the solar company API.
type Config struct {
	BaseURL string        `envconfig:"SOLAR_COMPANY_API_URL" required:"true"`
	APIKey  string        `envconfig:"SOLAR_COMPANY_API_KEY" required:"true"`
	Timeout time.Duration `envconfig:"SOLAR_COMPANY_API_TIMEOUT" default:"10s"`
}

// Client talks to the solar company catalog/pricing API over HTTPS with
// API-key header auth.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("solar company api url is required")
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("invalid solar company api url: %w", err)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("solar company api key is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// get performs a GET against the given endpoint and decodes the JSON body
// into out. Non-2xx responses are reported with the most descriptive body
// available: a JSON payload, then raw text, then the HTTP status text.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	reqURL := c.baseURL + endpoint
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", endpoint, err)
	}
	req.Header.Set("X-API-KEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSizeBytes))
	if err != nil {
		return fmt.Errorf("read response from %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := upstreamDetail(raw, resp.Status)
		logx.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Msg("solar company api returned non-2xx")
		return errx.WrapSolarAPI(
			fmt.Errorf("failed to fetch data from %s: %s", endpoint, detail),
			resp.StatusCode,
		)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response from %s: %w", endpoint, err)
	}
	return nil
}

// upstreamDetail extracts the most useful error detail from a failed response
// body: pretty JSON if the body is JSON, the raw text if not, and the HTTP
// status text when the body is empty.
func upstreamDetail(raw []byte, status string) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" {
		return status
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err == nil {
		if pretty, err := json.MarshalIndent(decoded, "", "  "); err == nil {
			return string(pretty)
		}
	}
	return trimmed
}

func (c *Client) ListProducts(ctx context.Context) (*ProductListResponse, error) {
	var out ProductListResponse
	if err := c.get(ctx, "/products/list", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ProductDetails(ctx context.Context, productName string) (*ProductDetailsResponse, error) {
	params := url.Values{}
	params.Set("productName", productName)
	var out ProductDetailsResponse
	if err := c.get(ctx, "/products/details", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Pricing(ctx context.Context, productID string) (*PricingResponse, error) {
	params := url.Values{}
	params.Set("productId", productID)
	var out PricingResponse
	if err := c.get(ctx, "/products/pricing", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) InstallationAvailability(ctx context.Context, zipCode, preferredDate string) (*InstallationAvailabilityResponse, error) {
	params := url.Values{}
	params.Set("zipCode", zipCode)
	if preferredDate != "" {
		params.Set("preferredDate", preferredDate)
	}
	var out InstallationAvailabilityResponse
	if err := c.get(ctx, "/installation/availability", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SavingsEstimates(ctx context.Context, location string, usage, panelCapacity float64) (*SavingsEstimatesResponse, error) {
	params := url.Values{}
	params.Set("location", location)
	params.Set("usage", strconv.FormatFloat(usage, 'f', -1, 64))
	params.Set("panelCapacity", strconv.FormatFloat(panelCapacity, 'f', -1, 64))
	var out SavingsEstimatesResponse
	if err := c.get(ctx, "/estimate/savings", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Incentives(ctx context.Context, state string) (*IncentivesResponse, error) {
	params := url.Values{}
	params.Set("state", state)
	var out IncentivesResponse
	if err := c.get(ctx, "/incentives", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PriceSnapshot returns the live price observation used as the purchase price
// ceiling when the user does not name one.
func (c *Client) PriceSnapshot(ctx context.Context, productID string) (*SnapshotResponse, error) {
	params := url.Values{}
	params.Set("productId", productID)
	var out SnapshotResponse
	if err := c.get(ctx, "/prices/snapshot", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
