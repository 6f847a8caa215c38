package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
)

// Config holds the settings for reaching a running gateway.
type Config struct {
	APIURL  string        // Base URL, e.g. "http://localhost:8080"
	Timeout time.Duration // Per-request timeout; zero means 30s
}

// GatewayClient is an HTTP client for the gateway's /api surface.
type GatewayClient struct {
	cfg  Config
	http *resty.Client
}

// NewGatewayClient creates a client for the gateway at cfg.APIURL.
func NewGatewayClient(cfg Config) *GatewayClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GatewayClient{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.APIURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json").
			SetHeader("User-Agent", "cardiorisk-mcp"),
	}
}

// apiError is the gateway's error envelope.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"details"`
}

// ListOptions narrows ListPredictions.
type ListOptions struct {
	Page      int
	Limit     int
	RiskLevel string
	Gender    string
}

func (c *GatewayClient) do(ctx context.Context, req *resty.Request, method, path string) (json.RawMessage, int, error) {
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	body := resp.Body()
	if resp.IsError() {
		return body, resp.StatusCode(), apiErrorFrom(resp.StatusCode(), body)
	}
	return json.RawMessage(body), resp.StatusCode(), nil
}

func apiErrorFrom(status int, body []byte) error {
	var apiErr apiError
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		msg := apiErr.Message
		for _, d := range apiErr.Details {
			msg += fmt.Sprintf("; %s %s", d.Field, d.Message)
		}
		return fmt.Errorf("API error (%d): %s", status, msg)
	}
	return fmt.Errorf("API error (%d): %s", status, string(body))
}

// Predict submits patient metrics to POST /api/predict. The body is passed
// through untouched; the gateway owns validation.
func (c *GatewayClient) Predict(ctx context.Context, body map[string]any) (json.RawMessage, error) {
	req := c.http.R().
		SetHeader("Content-Type", "application/json").
		SetBody(body)
	raw, _, err := c.do(ctx, req, resty.MethodPost, "/api/predict")
	return raw, err
}

// ListPredictions fetches a page of stored predictions.
func (c *GatewayClient) ListPredictions(ctx context.Context, opts ListOptions) (json.RawMessage, error) {
	q := map[string]string{}
	if opts.Page > 0 {
		q["page"] = strconv.Itoa(opts.Page)
	}
	if opts.Limit > 0 {
		q["limit"] = strconv.Itoa(opts.Limit)
	}
	if opts.RiskLevel != "" {
		q["riskLevel"] = opts.RiskLevel
	}
	if opts.Gender != "" {
		q["gender"] = opts.Gender
	}
	raw, _, err := c.do(ctx, c.http.R().SetQueryParams(q), resty.MethodGet, "/api/predictions")
	return raw, err
}

// GetStatistics fetches aggregate statistics.
func (c *GatewayClient) GetStatistics(ctx context.Context) (json.RawMessage, error) {
	raw, _, err := c.do(ctx, c.http.R(), resty.MethodGet, "/api/statistics")
	return raw, err
}

// ModelHealth fetches the model health report. A 503 is a valid answer
// (the model is down) and is returned without error.
func (c *GatewayClient) ModelHealth(ctx context.Context) (json.RawMessage, error) {
	raw, status, err := c.do(ctx, c.http.R(), resty.MethodGet, "/api/ml-health")
	if err != nil && status == 503 && json.Valid(raw) {
		return json.RawMessage(raw), nil
	}
	return raw, err
}
