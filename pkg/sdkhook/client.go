package sdkhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Request is one webhook message to an SDK runtime.
type Request struct {
	Type      string         `json:"type"` // tool_execution or ping
	ToolName  string         `json:"tool_name,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Response is the runtime's reply to a tool execution.
type Response struct {
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Client posts signed webhook requests to one SDK runtime base URL.
type Client struct {
	baseURL string
	secret  []byte
	http    *http.Client
	now     func() time.Time
}

func NewClient(baseURL string, secret []byte) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  secret,
		http:    &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
	}
}

// Execute asks the runtime to run one tool and returns its response.
func (c *Client) Execute(ctx context.Context, toolName string, args map[string]any) (*Response, error) {
	return c.post(ctx, Request{Type: "tool_execution", ToolName: toolName, Arguments: args})
}

// Ping checks the runtime is reachable and accepts our signature.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.post(ctx, Request{Type: "ping"})
	return err
}

func (c *Client) post(ctx context.Context, payload Request) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal webhook request: %w", err)
	}
	sig, err := Sign(c.secret, body, c.now())
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/webhook", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, sig.Signature)
	req.Header.Set(HeaderTimestamp, sig.Timestamp)
	req.Header.Set(HeaderNonce, sig.Nonce)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhook response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("webhook returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("invalid webhook response: %w", err)
	}
	return &out, nil
}
