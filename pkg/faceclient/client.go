package faceclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Match is the best gallery candidate for a presented encoding.
type Match struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Client calls the face matching microservice. The service owns the
// registered-encoding gallery; this client only submits presented
// encodings and a distance tolerance.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client with a configurable timeout.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Match submits an encoding and returns the best match within tolerance,
// or nil when no registered encoding is close enough.
func (c *Client) Match(ctx context.Context, encoding []float64, tolerance float64) (*Match, error) {
	if len(encoding) == 0 {
		return nil, fmt.Errorf("encoding required")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"encoding":  encoding,
		"tolerance": tolerance,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal match request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/match", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("face service request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("face service error %s: %s", resp.Status, string(body))
	}

	var out struct {
		Match *Match `json:"match"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode match response: %w", err)
	}

	return out.Match, nil
}
