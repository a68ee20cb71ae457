package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/yourusername/rtsp2web/internal/stream"
)

// APIClient talks to the streaming server's HTTP API. It is used by
// provisioning tools to register and start streams in bulk.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewAPIClient creates a client for the server at baseURL,
// e.g. "http://localhost:8080".
func NewAPIClient(baseURL string) *APIClient {
	return &APIClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Health checks that the server is reachable.
func (c *APIClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}

// CreateStream registers a stream definition with the server.
func (c *APIClient) CreateStream(ctx context.Context, def stream.Definition) (stream.Info, error) {
	jsonData, err := json.Marshal(def)
	if err != nil {
		return stream.Info{}, fmt.Errorf("failed to marshal definition: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/streams", bytes.NewBuffer(jsonData))
	if err != nil {
		return stream.Info{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return stream.Info{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return stream.Info{}, fmt.Errorf("create failed with status %d: %s", resp.StatusCode, string(body))
	}

	var info stream.Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return stream.Info{}, fmt.Errorf("failed to decode response: %w", err)
	}
	return info, nil
}

// ListStreams retrieves all registered streams.
func (c *APIClient) ListStreams(ctx context.Context) ([]stream.Info, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/v1/streams", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Streams []stream.Info `json:"streams"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return response.Streams, nil
}

// StartStream starts a single stream by id.
func (c *APIClient) StartStream(ctx context.Context, id string) error {
	return c.post(ctx, fmt.Sprintf("/api/v1/streams/%s/start", id))
}

// StopStream stops a single stream by id.
func (c *APIClient) StopStream(ctx context.Context, id string) error {
	return c.post(ctx, fmt.Sprintf("/api/v1/streams/%s/stop", id))
}

// StartAll starts every registered stream.
func (c *APIClient) StartAll(ctx context.Context) error {
	return c.post(ctx, "/api/v1/streams/start")
}

// StopAll stops every registered stream.
func (c *APIClient) StopAll(ctx context.Context) error {
	return c.post(ctx, "/api/v1/streams/stop")
}

func (c *APIClient) post(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}
