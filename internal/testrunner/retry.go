package testrunner

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// HTTPDoer executes HTTP requests. *http.Client and *RetryClient both satisfy it.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries idempotent requests on transient failures with
// exponential backoff and full jitter. Non-GET requests go through once, so a
// trigger is never submitted twice.
type RetryClient struct {
	Client     HTTPDoer
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Logger     *zap.Logger
}

func NewRetryClient(client HTTPDoer, maxRetries int, logger *zap.Logger) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryClient{
		Client:     client,
		MaxRetries: maxRetries,
		BaseDelay:  500 * time.Millisecond,
		MaxDelay:   10 * time.Second,
		Logger:     logger,
	}
}

func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		return rc.Client.Do(req)
	}
	var lastErr error
	for attempt := 0; attempt <= rc.MaxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}
		if attempt > 0 {
			delay := rc.delay(attempt)
			rc.Logger.Debug("retrying test runner request",
				zap.Int("attempt", attempt),
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.Duration("wait", delay),
				zap.Error(lastErr))
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.Client.Do(req)
		if err != nil {
			lastErr = err
			if req.Context().Err() != nil {
				return nil, err
			}
			continue
		}
		if !retryable(resp.StatusCode) || attempt == rc.MaxRetries {
			return resp, nil
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("test runner returned retryable status %d", resp.StatusCode)
	}
	return nil, lastErr
}

// delay is random(0, min(MaxDelay, BaseDelay*2^(attempt-1))) with a floor
// of BaseDelay/10.
func (rc *RetryClient) delay(attempt int) time.Duration {
	exp := float64(rc.BaseDelay) * math.Pow(2, float64(attempt-1))
	if ceiling := float64(rc.MaxDelay); rc.MaxDelay > 0 && exp > ceiling {
		exp = ceiling
	}
	d := time.Duration(rand.Float64() * exp)
	if floor := rc.BaseDelay / 10; d < floor {
		d = floor
	}
	return d
}

func retryable(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
