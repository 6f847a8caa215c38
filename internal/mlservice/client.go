// Package mlservice is the client for the remote cardiovascular risk model.
package mlservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mbd888/cardiorisk/internal/circuitbreaker"
	"github.com/mbd888/cardiorisk/internal/patient"
	"github.com/mbd888/cardiorisk/internal/risk"
	"github.com/mbd888/cardiorisk/internal/traces"
)

const (
	DefaultTimeout       = 15 * time.Second
	DefaultHealthTimeout = 5 * time.Second

	predictPath = "/api/predict"
	healthPath  = "/api/health"
)

// predictRequest is the remote model's input. Gender uses the remote
// encoding (0 = female, 1 = male) and flags are sent as 0/1.
type predictRequest struct {
	Age         int `json:"age"`
	Gender      int `json:"gender"`
	Height      int `json:"height"`
	Weight      int `json:"weight"`
	APHi        int `json:"ap_hi"`
	APLo        int `json:"ap_lo"`
	Cholesterol int `json:"cholesterol"`
	Gluc        int `json:"gluc"`
	Smoke       int `json:"smoke"`
	Alco        int `json:"alco"`
	Active      int `json:"active"`
}

// RemoteGender translates the caller's gender code to the remote one.
func RemoteGender(g patient.Gender) int {
	if g == patient.GenderMale {
		return 1
	}
	return 0
}

func newPredictRequest(m patient.Metrics) predictRequest {
	return predictRequest{
		Age:         m.Age,
		Gender:      RemoteGender(m.Gender),
		Height:      m.HeightCm,
		Weight:      m.WeightKg,
		APHi:        m.SystolicBP,
		APLo:        m.DiastolicBP,
		Cholesterol: int(m.Cholesterol),
		Gluc:        int(m.Glucose),
		Smoke:       boolInt(m.Smoker),
		Alco:        boolInt(m.AlcoholUse),
		Active:      boolInt(m.PhysicallyActive),
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Client talks to the remote model over HTTP.
type Client struct {
	http          *resty.Client
	baseURL       string
	healthTimeout time.Duration
	breaker       *circuitbreaker.Breaker
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBreaker guards Estimate with a circuit breaker.
func WithBreaker(b *circuitbreaker.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithHealthTimeout bounds Health calls.
func WithHealthTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.healthTimeout = d
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the model at baseURL. Every Estimate is bounded
// by timeout and is attempted exactly once.
func New(baseURL string, timeout time.Duration, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:       baseURL,
		healthTimeout: DefaultHealthTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return c
}

// BaseURL returns the configured model URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Circuit reports the breaker guarding Estimate, or nil when there is none.
func (c *Client) Circuit() *circuitbreaker.Snapshot {
	if c.breaker == nil {
		return nil
	}
	s := c.breaker.Snapshot()
	return &s
}

// Estimate asks the remote model for a prediction. Every failure is an
// *Error.
func (c *Client) Estimate(ctx context.Context, m patient.Metrics) (*risk.Result, error) {
	start := time.Now()

	var result *risk.Result
	call := func() error {
		r, err := c.estimate(ctx, m)
		result = r
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(call)
		if errors.Is(err, circuitbreaker.ErrOpen) {
			err = &Error{Class: ClassCircuitOpen, Err: err}
		}
	} else {
		err = call()
	}

	outcome := "success"
	var mlErr *Error
	if errors.As(err, &mlErr) {
		outcome = string(mlErr.Class)
	}
	requestsTotal.WithLabelValues(outcome).Inc()
	requestDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) estimate(ctx context.Context, m patient.Metrics) (*risk.Result, error) {
	ctx, span := traces.StartSpan(ctx, "mlservice.Estimate", traces.Endpoint(c.baseURL+predictPath))
	defer span.End()

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(newPredictRequest(m)).
		Post(predictPath)
	if err != nil {
		return nil, transportError(err)
	}

	status := resp.StatusCode()
	if status < 200 || status > 299 {
		return nil, &Error{
			Class:      ClassBadStatus,
			StatusCode: status,
			Err:        fmt.Errorf("unexpected status %s", resp.Status()),
		}
	}

	var body map[string]any
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, &Error{Class: ClassInvalidResponse, StatusCode: status, Err: err}
	}

	result, err := Normalize(body, m)
	if err != nil {
		return nil, &Error{Class: ClassInvalidResponse, StatusCode: status, Err: err}
	}

	c.logger.Debug("remote prediction received",
		"risk", result.Risk, "confidence", result.Confidence, "status", status)
	return result, nil
}

// HealthReport is the outcome of a health call. Payload is the decoded
// JSON body, or the raw text when the body is not JSON.
type HealthReport struct {
	StatusCode int
	Payload    any
}

// Health calls the model's health endpoint. A non-2xx status returns the
// report together with an *Error.
func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	ctx, cancel := context.WithTimeout(ctx, c.healthTimeout)
	defer cancel()

	resp, err := c.http.R().SetContext(ctx).Get(healthPath)
	if err != nil {
		return nil, transportError(err)
	}

	report := &HealthReport{StatusCode: resp.StatusCode()}
	var payload any
	if err := json.Unmarshal(resp.Body(), &payload); err == nil {
		report.Payload = payload
	} else if len(resp.Body()) > 0 {
		report.Payload = string(resp.Body())
	}

	if report.StatusCode < 200 || report.StatusCode > 299 {
		return report, &Error{
			Class:      ClassBadStatus,
			StatusCode: report.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status()),
		}
	}
	return report, nil
}

// Check implements health.Checker.
func (c *Client) Check(ctx context.Context) error {
	_, err := c.Health(ctx)
	return err
}
