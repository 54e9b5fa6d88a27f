// Package runpod implements the queue-based inference backend client. Jobs
// are submitted to a serverless endpoint and observed by polling its status
// endpoint; the produced image arrives inline as base64 in the terminal
// status payload.
package runpod

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
)

const defaultBaseURL = "https://api.runpod.ai/v2"

// Terminal status values reported by the endpoint.
const (
	statusCompleted = "COMPLETED"
	statusFailed    = "FAILED"
)

// Options configures the RunPod client.
type Options struct {
	APIKey     string
	EndpointID string
	// BaseURL overrides the public API host, mainly for tests.
	BaseURL    string
	HTTPClient *http.Client
}

// Client talks to one RunPod serverless endpoint. Safe for concurrent use.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New constructs a RunPod backend client.
func New(opts Options) (*Client, error) {
	if opts.EndpointID == "" && opts.BaseURL == "" {
		return nil, fmt.Errorf("runpod: endpoint id is required")
	}
	base := opts.BaseURL
	if base == "" {
		base = fmt.Sprintf("%s/%s", defaultBaseURL, opts.EndpointID)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(base, "/"),
		apiKey:     opts.APIKey,
		httpClient: httpClient,
	}, nil
}

type submitRequest struct {
	Input submitInput `json:"input"`
}

type submitInput struct {
	Workflow json.RawMessage `json:"workflow"`
}

type submitResponse struct {
	ID string `json:"id"`
}

// Submit posts the workflow to /run and returns the job handle.
func (c *Client) Submit(ctx context.Context, workflow []byte) (domain.Handle, error) {
	body, err := json.Marshal(submitRequest{Input: submitInput{Workflow: workflow}})
	if err != nil {
		return "", domain.E(domain.KindSubmission, "runpod: encode submit request", err)
	}

	resp, err := c.post(ctx, c.baseURL+"/run", body)
	if err != nil {
		return "", domain.E(domain.KindSubmission, "runpod: submit job", err)
	}

	var submitted submitResponse
	if err := json.Unmarshal(resp, &submitted); err != nil {
		return "", domain.E(domain.KindSubmission, "runpod: decode submit response", err)
	}
	if submitted.ID == "" {
		return "", domain.Ef(domain.KindSubmission, "runpod: submit response carries no job id")
	}
	return domain.Handle(submitted.ID), nil
}

type statusResponse struct {
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// FetchResult queries /status/{id}. Non-terminal statuses map to
// domain.ErrNotReady so callers keep waiting.
func (c *Client) FetchResult(ctx context.Context, handle domain.Handle) (*domain.ResultPayload, error) {
	resp, err := c.post(ctx, fmt.Sprintf("%s/status/%s", c.baseURL, handle), nil)
	if err != nil {
		return nil, fmt.Errorf("runpod: check status: %w", err)
	}

	var status statusResponse
	if err := json.Unmarshal(resp, &status); err != nil {
		return nil, fmt.Errorf("runpod: decode status response: %w", err)
	}

	switch status.Status {
	case statusCompleted:
		return &domain.ResultPayload{Status: status.Status, Output: status.Output}, nil
	case statusFailed:
		msg := status.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, domain.Ef(domain.KindBackendFailure, "runpod: job %s failed: %s", handle, msg)
	default:
		return nil, domain.ErrNotReady
	}
}

// FetchBytes decodes an inline base64 image reference, stripping any data-URL
// prefix the endpoint may attach.
func (c *Client) FetchBytes(_ context.Context, ref domain.ImageRef) ([]byte, error) {
	encoded := ref.Inline
	if encoded == "" {
		return nil, fmt.Errorf("runpod: image reference carries no inline data")
	}
	if strings.HasPrefix(encoded, "data:image/") {
		if _, rest, found := strings.Cut(encoded, ","); found {
			encoded = rest
		}
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("runpod: decode inline image data: %w", err)
	}
	return data, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// Health reports whether the endpoint is active.
func (c *Client) Health(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return "", err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("runpod: health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("runpod: health check returned %d", resp.StatusCode)
	}
	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return "", fmt.Errorf("runpod: decode health response: %w", err)
	}
	return health.Status, nil
}

// post issues an authorized POST and returns the body on 2xx. The status
// endpoint is also a POST on this API.
func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(string(payload), 512))
	}
	return payload, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
