// Package comfy implements the inference-server backend client. Jobs are
// submitted to a ComfyUI instance's prompt queue; progress arrives over a
// shared websocket, terminal results are confirmed against the history
// endpoint, and produced images are fetched through the view endpoint.
package comfy

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

	"github.com/gorilla/websocket"

	"github.com/Pikian/comfy-ui-render-app/internal/domain"
)

// Options configures the ComfyUI client.
type Options struct {
	BaseURL string
	// ClientID scopes the websocket session. The event stream is broadcast,
	// so trackers still filter frames by prompt id.
	ClientID   string
	HTTPClient *http.Client
}

// Client talks to one ComfyUI server. Safe for concurrent use.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
}

// New constructs a ComfyUI backend client.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("comfy: base url is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		clientID:   opts.ClientID,
		httpClient: httpClient,
	}, nil
}

type promptRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id,omitempty"`
}

type promptResponse struct {
	PromptID string `json:"prompt_id"`
}

// Submit enqueues the workflow via POST /prompt and returns the prompt id.
func (c *Client) Submit(ctx context.Context, workflow []byte) (domain.Handle, error) {
	body, err := json.Marshal(promptRequest{Prompt: workflow, ClientID: c.clientID})
	if err != nil {
		return "", domain.E(domain.KindSubmission, "comfy: encode prompt request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", domain.E(domain.KindSubmission, "comfy: build prompt request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.E(domain.KindSubmission, "comfy: submit prompt", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", domain.E(domain.KindSubmission, "comfy: read prompt response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", domain.Ef(domain.KindSubmission, "comfy: prompt returned %d: %s", resp.StatusCode, string(payload))
	}

	var submitted promptResponse
	if err := json.Unmarshal(payload, &submitted); err != nil {
		return "", domain.E(domain.KindSubmission, "comfy: decode prompt response", err)
	}
	if submitted.PromptID == "" {
		return "", domain.Ef(domain.KindSubmission, "comfy: prompt response carries no prompt id")
	}
	return domain.Handle(submitted.PromptID), nil
}

type historyEntry struct {
	Outputs map[string]domain.NodeOutput `json:"outputs"`
}

// FetchResult queries GET /history/{id}. The history map is keyed by prompt
// id; a missing key means the result is not durably recorded yet.
func (c *Client) FetchResult(ctx context.Context, handle domain.Handle) (*domain.ResultPayload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/history/%s", c.baseURL, handle), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfy: fetch history: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comfy: history returned %d", resp.StatusCode)
	}

	var history map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return nil, fmt.Errorf("comfy: decode history response: %w", err)
	}

	entry, ok := history[string(handle)]
	if !ok {
		return nil, domain.ErrNotReady
	}
	return &domain.ResultPayload{Status: "COMPLETED", Outputs: entry.Outputs}, nil
}

// FetchBytes dereferences an image via GET /view.
func (c *Client) FetchBytes(ctx context.Context, ref domain.ImageRef) ([]byte, error) {
	query := url.Values{}
	query.Set("filename", ref.Filename)
	query.Set("subfolder", ref.Subfolder)
	query.Set("type", ref.Kind)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("comfy: fetch image %s: %w", ref.Filename, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("comfy: view returned %d for %s", resp.StatusCode, ref.Filename)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("comfy: read image %s: %w", ref.Filename, err)
	}
	return data, nil
}

// DialEvents opens the shared websocket event stream. The caller owns the
// returned connection.
func (c *Client) DialEvents(ctx context.Context) (*websocket.Conn, error) {
	wsURL, err := c.eventURL()
	if err != nil {
		return nil, err
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil) //nolint:bodyclose
	if err != nil {
		return nil, fmt.Errorf("comfy: dial event stream: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, nil
}

func (c *Client) eventURL() (string, error) {
	parsed, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("comfy: parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "https":
		parsed.Scheme = "wss"
	default:
		parsed.Scheme = "ws"
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws"
	if c.clientID != "" {
		query := parsed.Query()
		query.Set("clientId", c.clientID)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}
