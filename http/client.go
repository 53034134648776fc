package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	x402 "github.com/x402chat/client"
)

// DefaultTimeout bounds a single resource server request
const DefaultTimeout = 60 * time.Second

// maxBodySize caps how much of a response body is read
const maxBodySize = 4 << 20

// ChatRequest is the body of POST /chat
type ChatRequest struct {
	Message        string            `json:"message"`
	History        []ChatMessage     `json:"history"`
	PaymentHeaders map[string]string `json:"payment_headers,omitempty"`
}

// ChatResponse is the body of POST /chat. Exactly one of Reply or
// PaymentRequest is meaningful; a PaymentRequest is the 402 challenge.
type ChatResponse struct {
	Reply          string               `json:"reply,omitempty"`
	PaymentRequest *x402.PaymentRequest `json:"payment_request,omitempty"`
}

// IsChallenge reports whether the server asked for payment
func (r *ChatResponse) IsChallenge() bool {
	return r != nil && r.PaymentRequest != nil
}

// StatusError is returned for unexpected HTTP statuses
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resource server returned %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is a transport failure worth retrying
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == http.StatusTooManyRequests
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF)
}

// ============================================================================
// Client - resource server API
// ============================================================================

// Client talks to the chat resource server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithHTTPClient sets the underlying HTTP client
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = client
	}
}

// NewClient creates a resource server client for baseURL
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the resource server address
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Info fetches the informational GET /info document
func (c *Client) Info(ctx context.Context) (*InfoResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/info", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create info request: %w", err)
	}

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &StatusError{StatusCode: status, Body: truncate(body)}
	}

	if err := infoResponseSchema.validate(body); err != nil {
		return nil, err
	}
	var info InfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeDecodeError, "invalid info response", err)
	}
	return &info, nil
}

// Chat sends one message. The returned response either carries the reply or
// a payment challenge; a 402 status with a payment request body is treated the
// same as a 200 carrying payment_request.
func (c *Client) Chat(ctx context.Context, chatReq ChatRequest) (*ChatResponse, error) {
	if chatReq.History == nil {
		chatReq.History = []ChatMessage{}
	}
	payload, err := json.Marshal(chatReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	status, body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		return decodeChatResponse(body)
	case http.StatusPaymentRequired:
		paymentRequest, err := DecodePaymentRequired(body)
		if err != nil {
			return nil, err
		}
		return &ChatResponse{PaymentRequest: paymentRequest}, nil
	default:
		return nil, &StatusError{StatusCode: status, Body: truncate(body)}
	}
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, body, nil
}

func decodeChatResponse(body []byte) (*ChatResponse, error) {
	if err := chatResponseSchema.validate(body); err != nil {
		return nil, err
	}
	var resp ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, x402.WrapPaymentError(x402.ErrCodeDecodeError, "invalid chat response", err)
	}
	return &resp, nil
}

// DecodePaymentRequired parses the body of a 402 response. Both a bare payment
// request and a chat response wrapping one under payment_request are accepted.
func DecodePaymentRequired(body []byte) (*x402.PaymentRequest, error) {
	var probe struct {
		PaymentRequest json.RawMessage `json:"payment_request"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && len(probe.PaymentRequest) > 0 {
		resp, err := decodeChatResponse(body)
		if err != nil {
			return nil, err
		}
		if resp.PaymentRequest == nil {
			return nil, x402.NewPaymentError(x402.ErrCodeDecodeError, "payment_request is null", nil)
		}
		return resp.PaymentRequest, nil
	}

	if err := paymentRequestSchema.validate(body); err != nil {
		return nil, err
	}
	return x402.ToPaymentRequest(body)
}

func truncate(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
