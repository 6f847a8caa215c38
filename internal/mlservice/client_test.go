package mlservice

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/cardiorisk/internal/circuitbreaker"
	"github.com/mbd888/cardiorisk/internal/patient"
	"github.com/mbd888/cardiorisk/internal/risk"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newModelServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_EstimateSendsRemoteEncoding(t *testing.T) {
	var got map[string]int
	srv := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/predict", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{"prediction":1,"confidence":0.9}}`))
	})

	c := New(srv.URL, time.Second, WithLogger(discardLogger()))

	m := testMetrics()
	_, err := c.Estimate(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 1, got["gender"], "male is sent as 1")
	assert.Equal(t, 1, got["smoke"])
	assert.Equal(t, 0, got["alco"])
	assert.Equal(t, 0, got["active"])
	assert.Equal(t, 150, got["ap_hi"])
	assert.Equal(t, 3, got["gluc"])

	m.Gender = patient.GenderFemale
	_, err = c.Estimate(context.Background(), m)
	require.NoError(t, err)
	assert.Equal(t, 0, got["gender"], "female is sent as 0")
}

func TestRemoteGender(t *testing.T) {
	assert.Equal(t, 0, RemoteGender(patient.GenderFemale))
	assert.Equal(t, 1, RemoteGender(patient.GenderMale))
}

func TestClient_EstimateTopLevel(t *testing.T) {
	srv := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"prediction":0,"confidence":0.35,"risk_level":"low","bmi_category":"Normal"}`))
	})

	r, err := New(srv.URL, time.Second).Estimate(context.Background(), testMetrics())
	require.NoError(t, err)
	assert.Equal(t, risk.Low, r.Risk)
	assert.Equal(t, 35, r.Confidence)
	assert.Equal(t, 0.35, r.Probability)
	assert.Equal(t, "LOW", r.Insights.RiskLevel)
	assert.Equal(t, "Normal", r.Insights.BMICategory)
}

func TestClient_EstimateFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		class   Class
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				_, _ = w.Write([]byte(`{"error":"boom"}`))
			},
			class: ClassBadStatus,
		},
		{
			name: "not json",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`<html>gateway</html>`))
			},
			class: ClassInvalidResponse,
		},
		{
			name: "explicit failure",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"success":false,"error":"model not loaded"}`))
			},
			class: ClassInvalidResponse,
		},
		{
			name: "slow",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(500 * time.Millisecond):
				case <-r.Context().Done():
				}
			},
			class: ClassTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newModelServer(t, tt.handler)
			c := New(srv.URL, 50*time.Millisecond, WithLogger(discardLogger()))

			r, err := c.Estimate(context.Background(), testMetrics())
			assert.Nil(t, r)

			var mlErr *Error
			require.True(t, errors.As(err, &mlErr), "expected *Error, got %T", err)
			assert.Equal(t, tt.class, mlErr.Class)
			assert.Equal(t, string(tt.class), mlErr.ErrorClass())
		})
	}
}

func TestClient_EstimateConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := New(url, time.Second).Estimate(context.Background(), testMetrics())

	var mlErr *Error
	require.True(t, errors.As(err, &mlErr))
	assert.Equal(t, ClassConnection, mlErr.Class)
}

func TestClient_EstimateCircuitOpen(t *testing.T) {
	var hits atomic.Int32
	srv := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})

	c := New(srv.URL, time.Second, WithBreaker(circuitbreaker.New("ml-service", 1, time.Hour)))

	_, err := c.Estimate(context.Background(), testMetrics())
	var mlErr *Error
	require.True(t, errors.As(err, &mlErr))
	assert.Equal(t, ClassBadStatus, mlErr.Class)
	assert.Equal(t, http.StatusBadGateway, mlErr.StatusCode)

	_, err = c.Estimate(context.Background(), testMetrics())
	require.True(t, errors.As(err, &mlErr))
	assert.Equal(t, ClassCircuitOpen, mlErr.Class)
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
	assert.Equal(t, int32(1), hits.Load(), "open circuit must not reach the server")
}

func TestClient_Health(t *testing.T) {
	srv := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status":"healthy","model_loaded":true}`))
	})

	c := New(srv.URL, time.Second)
	report, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, report.StatusCode)
	assert.Equal(t, map[string]any{"status": "healthy", "model_loaded": true}, report.Payload)
	assert.NoError(t, c.Check(context.Background()))
	assert.Equal(t, srv.URL, c.BaseURL())
}

func TestClient_HealthUnavailable(t *testing.T) {
	srv := newModelServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`model warming up`))
	})

	report, err := New(srv.URL, time.Second).Health(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, http.StatusServiceUnavailable, report.StatusCode)
	assert.Equal(t, "model warming up", report.Payload)
}

type fakeHealth struct {
	failures  int
	badStatus bool
	calls     int
}

func (f *fakeHealth) Health(context.Context) (*HealthReport, error) {
	f.calls++
	if f.calls <= f.failures {
		if f.badStatus {
			return &HealthReport{StatusCode: http.StatusServiceUnavailable},
				&Error{Class: ClassBadStatus, StatusCode: http.StatusServiceUnavailable, Err: errors.New("unexpected status")}
		}
		return nil, &Error{Class: ClassConnection, Err: errors.New("refused")}
	}
	return &HealthReport{StatusCode: http.StatusOK}, nil
}

func TestProbe_RecoversWithinAttempts(t *testing.T) {
	h := &fakeHealth{failures: 2}
	err := Probe(context.Background(), h, ProbeConfig{Attempts: 3, Delay: time.Millisecond}, discardLogger())
	assert.NoError(t, err)
	assert.Equal(t, 3, h.calls)
}

func TestProbe_GivesUp(t *testing.T) {
	h := &fakeHealth{failures: 10}
	err := Probe(context.Background(), h, ProbeConfig{Attempts: 3, Delay: time.Millisecond}, discardLogger())
	assert.Error(t, err)
	assert.Equal(t, 3, h.calls)
}

func TestProbe_BadStatusNotRetried(t *testing.T) {
	h := &fakeHealth{failures: 10, badStatus: true}
	err := Probe(context.Background(), h, ProbeConfig{Attempts: 3, Delay: time.Millisecond}, discardLogger())

	var mlErr *Error
	require.True(t, errors.As(err, &mlErr))
	assert.Equal(t, ClassBadStatus, mlErr.Class)
	assert.Equal(t, 1, h.calls, "bad_status must not be retried")
}
