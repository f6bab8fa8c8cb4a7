package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/model"
)

// Header carrying the node id on every agent API call. The shared secret
// goes in the Authorization header as a bearer token.
const nodeIDHeader = "X-Node-ID"

// APIClient talks to the fleet API's node-facing endpoints.
type APIClient struct {
	baseURL    string
	nodeID     string
	secret     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewAPIClient creates a client for the fleet API. A nil tlsConfig uses the
// system roots.
func NewAPIClient(baseURL, nodeID, secret string, tlsConfig *tls.Config, logger zerolog.Logger) *APIClient {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if tlsConfig != nil {
		transport.TLSClientConfig = tlsConfig
	}
	return &APIClient{
		baseURL: baseURL,
		nodeID:  nodeID,
		secret:  secret,
		httpClient: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
		logger: logger.With().Str("component", "api-client").Logger(),
	}
}

// APIError is a non-2xx answer from the fleet API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("fleet API returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("fleet API returned %d: %s", e.StatusCode, e.Message)
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *APIError) Permanent() bool {
	return e.StatusCode >= 400 && e.StatusCode < 500 && e.StatusCode != http.StatusTooManyRequests
}

// HeartbeatResponse is the fleet API's answer to a heartbeat.
type HeartbeatResponse struct {
	NodeID string             `json:"node_id"`
	Status string             `json:"status"`
	Disk   model.DiskSettings `json:"disk"`
}

// Heartbeat reports liveness and stats.
func (c *APIClient) Heartbeat(ctx context.Context, hb model.Heartbeat) (*HeartbeatResponse, error) {
	var resp HeartbeatResponse
	if err := c.do(ctx, http.MethodPost, "/agent/v1/heartbeat", hb, &resp); err != nil {
		return nil, fmt.Errorf("send heartbeat: %w", err)
	}
	return &resp, nil
}

// PollJobs claims the node's queued jobs, oldest first. Claimed jobs are
// running on the server until a result is reported.
func (c *APIClient) PollJobs(ctx context.Context) ([]model.Job, error) {
	var jobs []model.Job
	if err := c.do(ctx, http.MethodGet, "/agent/v1/jobs", nil, &jobs); err != nil {
		return nil, fmt.Errorf("poll jobs: %w", err)
	}
	return jobs, nil
}

type jobResult struct {
	Status string         `json:"status"`
	Output map[string]any `json:"output,omitempty"`
}

// ReportResult records the final status of a job.
func (c *APIClient) ReportResult(ctx context.Context, jobID, status string, output map[string]any) error {
	path := "/agent/v1/jobs/" + url.PathEscape(jobID) + "/result"
	if err := c.do(ctx, http.MethodPost, path, jobResult{Status: status, Output: output}, nil); err != nil {
		return fmt.Errorf("report result of job %s: %w", jobID, err)
	}
	return nil
}

func (c *APIClient) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set(nodeIDHeader, c.nodeID)
	req.Header.Set("Authorization", "Bearer "+c.secret)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		var parsed struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != "" {
			apiErr.Message = parsed.Error
			apiErr.Code = parsed.Code
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
