// Package testrunner is a client for the external test-suite runner that
// executes model comparison runs and reports their progress.
package testrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"releasedesk/internal/domain"
)

const (
	HealthOK          = "ok"
	HealthUnavailable = "unavailable"

	RunPending   = "pending"
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"

	DefaultHealthTimeout = 5 * time.Second
	DefaultPollInterval  = 5 * time.Second
)

// ErrRunFailed is returned by Wait when the run ends in the failed state.
var ErrRunFailed = errors.New("test run failed")

// RunConfig describes one comparison run between an outgoing and an incoming
// model. Tagger runs use CompanyList and DistributionData; the other segments
// use the expert rules and the per-report sample files.
type RunConfig struct {
	Country string         `json:"country"`
	Segment domain.Segment `json:"segment" enum:"consumer,business,tagger"`
	Version string         `json:"version"`

	OldModel       string  `json:"old_model"`
	NewModel       string  `json:"new_model"`
	OldExpertRules *string `json:"old_expert_rules,omitempty"`
	NewExpertRules *string `json:"new_expert_rules,omitempty"`

	AccuracyFiles    []string `json:"accuracy_files,omitempty"`
	AnomaliesFiles   []string `json:"anomalies_files,omitempty"`
	PrecisionFiles   []string `json:"precision_files,omitempty"`
	StabilityFiles   []string `json:"stability_files,omitempty"`
	CompanyList      string   `json:"company_list,omitempty"`
	DistributionData string   `json:"distribution_data,omitempty"`

	VMBench    int  `json:"vm_bench,omitempty"`
	VMDev      int  `json:"vm_dev,omitempty"`
	AzureBatch bool `json:"azure_batch,omitempty"`
}

// Validate checks the fields the runner requires for the segment.
func (c RunConfig) Validate() error {
	switch {
	case strings.TrimSpace(c.Country) == "":
		return fmt.Errorf("%w: country is required", domain.ErrValidation)
	case !c.Segment.Valid():
		return fmt.Errorf("%w: unknown segment %q", domain.ErrValidation, c.Segment)
	case c.OldModel == "" || c.NewModel == "":
		return fmt.Errorf("%w: old and new model are required", domain.ErrValidation)
	case c.Segment == domain.SegmentTagger && (c.CompanyList == "" || c.DistributionData == ""):
		return fmt.Errorf("%w: tagger runs need company list and distribution data", domain.ErrValidation)
	}
	return nil
}

// RunStatus is the runner's view of a run.
type RunStatus struct {
	RunID          string         `json:"run_id"`
	Status         string         `json:"status"`
	Progress       *int           `json:"progress,omitempty"`
	Message        string         `json:"message,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	ErrorTraceback string         `json:"error_traceback,omitempty"`
}

// Terminal reports whether the run reached completed or failed.
func (s RunStatus) Terminal() bool {
	return s.Status == RunCompleted || s.Status == RunFailed
}

type Health struct {
	Status        string `json:"status"`
	DataAvailable bool   `json:"data_available"`
	Error         string `json:"error,omitempty"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("test runner error: status=%d body=%s", e.StatusCode, e.Body)
}

// Unwrap maps runner statuses onto the domain error taxonomy.
func (e *APIError) Unwrap() error {
	switch {
	case e.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case e.StatusCode == http.StatusBadRequest || e.StatusCode == http.StatusUnprocessableEntity:
		return domain.ErrValidation
	}
	return nil
}

type Client struct {
	BaseURL       string
	HTTPClient    HTTPDoer
	Timeout       time.Duration
	HealthTimeout time.Duration
	PollInterval  time.Duration
	Logger        *zap.Logger
}

// New returns a client whose status reads are retried on transient failures.
func New(baseURL string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := 30 * time.Second
	return &Client{
		BaseURL:       baseURL,
		HTTPClient:    NewRetryClient(&http.Client{Timeout: timeout}, 3, logger),
		Timeout:       timeout,
		HealthTimeout: DefaultHealthTimeout,
		PollInterval:  DefaultPollInterval,
		Logger:        logger,
	}
}

// Health probes the runner. Any failure, including no answer within
// HealthTimeout, reports HealthUnavailable rather than an error.
func (c *Client) Health(ctx context.Context) Health {
	timeout := c.HealthTimeout
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var h Health
	if err := c.do(ctx, http.MethodGet, "health", nil, &h); err != nil {
		c.logger().Warn("test runner unavailable", zap.String("url", c.base()), zap.Error(err))
		return Health{Status: HealthUnavailable, Error: err.Error()}
	}
	if h.Status == "" {
		h.Status = HealthOK
	}
	return h
}

// Trigger submits a run and returns the runner's id for it.
func (c *Client) Trigger(ctx context.Context, cfg RunConfig) (string, error) {
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	endpoint := "api/testsuite/run/consumer-business"
	if cfg.Segment == domain.SegmentTagger {
		endpoint = "api/testsuite/run/tagger"
	}
	// The outer Segment shadows the embedded one in the JSON body.
	body := struct {
		RunConfig
		Segment string `json:"segment"`
	}{cfg, runnerSegment(cfg.Segment)}

	var resp RunStatus
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return "", err
	}
	if resp.RunID == "" {
		return "", fmt.Errorf("test runner returned no run id")
	}
	c.logger().Info("test run triggered", zap.String("run_id", resp.RunID), zap.String("country", cfg.Country), zap.String("segment", string(cfg.Segment)))
	return resp.RunID, nil
}

func (c *Client) Status(ctx context.Context, runID string) (RunStatus, error) {
	var resp RunStatus
	err := c.do(ctx, http.MethodGet, "api/testsuite/status/"+url.PathEscape(runID), nil, &resp)
	if resp.RunID == "" {
		resp.RunID = runID
	}
	return resp, err
}

func (c *Client) Runs(ctx context.Context) ([]RunStatus, error) {
	var resp struct {
		Runs []RunStatus `json:"runs"`
	}
	if err := c.do(ctx, http.MethodGet, "api/testsuite/runs", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Runs, nil
}

// Wait polls Status every PollInterval until the run is terminal. onUpdate,
// when set, sees every polled status. A failed run returns its status
// together with ErrRunFailed.
func (c *Client) Wait(ctx context.Context, runID string, onUpdate func(RunStatus)) (RunStatus, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		st, err := c.Status(ctx, runID)
		if err != nil {
			return st, err
		}
		if onUpdate != nil {
			onUpdate(st)
		}
		if st.Terminal() {
			if st.Status == RunFailed {
				return st, fmt.Errorf("%w: %s: %s", ErrRunFailed, runID, st.Message)
			}
			return st, nil
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

func (c *Client) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

// runnerSegment renders the segment the way the runner expects it ("Consumer").
func runnerSegment(s domain.Segment) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(string(s[:1])) + string(s[1:])
}
