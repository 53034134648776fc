package http

import (
	"context"
	"fmt"
	"io"
	"net/http"

	x402 "github.com/x402chat/client"
)

// Payer answers a payment challenge with a signed header.
// *evm.ExactEvmClient satisfies it.
type Payer interface {
	CreatePaymentHeader(ctx context.Context, req x402.PaymentRequest) (x402.X402Header, error)
}

// WrapHTTPClientWithPayment wraps a standard HTTP client with x402 payment handling
// This allows transparent payment handling for HTTP requests
func WrapHTTPClientWithPayment(client *http.Client, payer Payer) *http.Client {
	if client == nil {
		client = &http.Client{}
	}

	// Wrap the transport with payment handling
	originalTransport := client.Transport
	if originalTransport == nil {
		originalTransport = http.DefaultTransport
	}

	wrapped := *client
	wrapped.Transport = &PaymentRoundTripper{
		Transport: originalTransport,
		Payer:     payer,
	}
	return &wrapped
}

// PaymentRoundTripper implements http.RoundTripper with x402 payment handling.
// A 402 response is answered once; requests that already carry a payment
// header are passed through so a rejected payment is never re-signed here.
type PaymentRoundTripper struct {
	Transport http.RoundTripper
	Payer     Payer
}

// RoundTrip implements http.RoundTripper
func (t *PaymentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	transport := t.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	if req.Header.Get(PaymentHeaderName) != "" {
		return transport.RoundTrip(req)
	}

	// Make initial request
	resp, err := transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	// If not 402, return as-is
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read 402 response body: %w", err)
	}

	// Parse payment requirements
	paymentRequest, err := DecodePaymentRequired(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payment requirements: %w", err)
	}

	ctx := req.Context()
	header, err := t.Payer.CreatePaymentHeader(ctx, *paymentRequest)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment: %w", err)
	}
	encoded, err := EncodePaymentHeader(header)
	if err != nil {
		return nil, err
	}

	// Create new request with payment header
	paymentReq := req.Clone(ctx)
	if req.Body != nil && req.Body != http.NoBody {
		if req.GetBody == nil {
			return nil, fmt.Errorf("cannot retry %s %s with payment: request body is not replayable", req.Method, req.URL)
		}
		paymentReq.Body, err = req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("failed to replay request body: %w", err)
		}
	}
	paymentReq.Header.Set(PaymentHeaderName, encoded)

	// Retry with payment
	return transport.RoundTrip(paymentReq)
}
