// ABOUTME: HTTP client posting turns as JSON to the responder endpoint.
// ABOUTME: Satisfies the processor's Responder interface.

package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/2389/coven-rocket/internal/processor"
)

// errorBody is the JSON error shape the responder service returns.
type errorBody struct {
	Error string `json:"error"`
}

// Client posts turns to a responder endpoint.
type Client struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewClient validates the endpoint URL and builds a client.
func NewClient(endpoint string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid responder URL %q", endpoint)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger.With("component", "responder"),
	}, nil
}

// Respond posts one turn. Any non-2xx status is an error; the caller decides
// what surviving context to carry to the next turn.
func (c *Client) Respond(ctx context.Context, turn processor.Turn) error {
	body, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("marshaling turn: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting turn: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.errorFromResponse(resp)
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	c.logger.Debug("turn delivered", "conversation", turn.ConversationID, "status", resp.StatusCode)
	return nil
}

// errorFromResponse extracts the error message from a non-2xx response.
func (c *Client) errorFromResponse(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var eb errorBody
	if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
		return fmt.Errorf("responder error (%d): %s", resp.StatusCode, eb.Error)
	}
	if len(data) == 0 {
		return errors.New("responder returned status " + resp.Status)
	}
	return fmt.Errorf("responder returned status %d: %s", resp.StatusCode, data)
}
