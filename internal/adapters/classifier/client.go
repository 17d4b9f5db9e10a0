// Package classifier calls the external food classification service over
// HTTP. It returns the verdict body untouched; validation happens in the
// audit service.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"foodrescue/internal/ports"
)

const maxResponseBytes = 1 << 20

type Client struct {
	url     string
	apiKey  string
	model   string
	timeout time.Duration
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

func WithModel(model string) Option { return func(c *Client) { c.model = model } }

// WithTimeout bounds each call. The default of zero leaves the deadline to
// the caller's context.
func WithTimeout(d time.Duration) Option { return func(c *Client) { c.timeout = d } }

func New(url, apiKey string, opts ...Option) *Client {
	c := &Client{
		url:    url,
		apiKey: apiKey,
		http:   &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type classifyRequest struct {
	Model string `json:"model,omitempty"`
	ports.ClassificationRequest
}

func (c *Client) Classify(ctx context.Context, req ports.ClassificationRequest) (json.RawMessage, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	b, err := json.Marshal(classifyRequest{Model: c.model, ClassificationRequest: req})
	if err != nil {
		return nil, fmt.Errorf("marshal classification request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build classification request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call classifier: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read classifier response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("classifier error %d: %s", resp.StatusCode, truncate(body, 200))
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("classifier returned an empty body")
	}
	return json.RawMessage(body), nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
