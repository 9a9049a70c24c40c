package cmd

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

	apihttp "github.com/aescanero/modjob/pkg/api/http"
	"github.com/aescanero/modjob/pkg/domain"
)

// Client calls the modjob HTTP API
type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
}

// NewClient creates a client for baseURL. token may be empty.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// APIError represents an error response from the API
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

type envelope struct {
	Status  domain.ResultStatus `json:"status"`
	Message string              `json:"message"`
	Data    json.RawMessage     `json:"data"`
}

// do sends a request and decodes the data of the response envelope into out
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")
	if c.Token != "" {
		req.Header.Add("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: string(respBody)}
		}
		return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		msg := env.Message
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// Submit sends POST /api/v1/jobs. A 202 answer carries only the job id and
// the QUEUED status.
func (c *Client) Submit(ctx context.Context, req apihttp.JobSubmitRequest) (*apihttp.JobResultResponse, error) {
	var result apihttp.JobResultResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/v1/jobs", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Queue sends GET /api/v1/queue
func (c *Client) Queue(ctx context.Context) ([]*domain.JobRecord, error) {
	var records []*domain.JobRecord
	_, err := c.do(ctx, http.MethodGet, "/api/v1/queue", nil, &records)
	return records, err
}

// Active sends GET /api/v1/queue/active
func (c *Client) Active(ctx context.Context) ([]*domain.JobRecord, error) {
	var records []*domain.JobRecord
	_, err := c.do(ctx, http.MethodGet, "/api/v1/queue/active", nil, &records)
	return records, err
}

// Stats sends GET /api/v1/stats
func (c *Client) Stats(ctx context.Context) ([]domain.OperationStats, error) {
	var stats []domain.OperationStats
	_, err := c.do(ctx, http.MethodGet, "/api/v1/stats", nil, &stats)
	return stats, err
}

// Job sends GET /api/v1/jobs/{id}
func (c *Client) Job(ctx context.Context, id string) (*domain.JobRecord, error) {
	var record domain.JobRecord
	if _, err := c.do(ctx, http.MethodGet, "/api/v1/jobs/"+url.PathEscape(id), nil, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Modules sends GET /api/v1/modules
func (c *Client) Modules(ctx context.Context) ([]domain.ModuleInfo, error) {
	var modules []domain.ModuleInfo
	_, err := c.do(ctx, http.MethodGet, "/api/v1/modules", nil, &modules)
	return modules, err
}

// SetModuleStatus sends POST /api/v1/modules/{name}/status
func (c *Client) SetModuleStatus(ctx context.Context, name string, status domain.ModuleStatus) error {
	path := fmt.Sprintf("/api/v1/modules/%s/status", url.PathEscape(name))
	_, err := c.do(ctx, http.MethodPost, path, apihttp.ModuleStatusRequest{Status: status}, nil)
	return err
}
