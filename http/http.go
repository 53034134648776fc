// Package http carries x402 payments over HTTP.
// This includes the X-Payment header codec, the chat resource-server client
// and a payment-aware http.RoundTripper.
package http

// PaymentHeaderName is the request header that carries a signed payment
const PaymentHeaderName = "X-Payment"

// ============================================================================
// Resource server wire types
// ============================================================================

// ChatMessage is one turn of conversation history
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// InfoResponse is the body of GET /info
type InfoResponse struct {
	BaseURL   string `json:"base_url"`
	ModelName string `json:"model_name"`
	APIKey    string `json:"api_key"`
}
