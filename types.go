package x402

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProtocolVersion is the x402 protocol version spoken by this client
const ProtocolVersion = 1

const (
	// DefaultScheme is the only payment scheme this client can sign
	DefaultScheme = "exact"

	// DefaultNetwork is the target network when none is configured
	DefaultNetwork = "base-sepolia"
)

// PaymentRequirement describes one accepted payment option offered by a resource server
type PaymentRequirement struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	MaxAmountRequired string                 `json:"maxAmountRequired"`
	Resource          string                 `json:"resource"`
	Description       string                 `json:"description"`
	MimeType          string                 `json:"mimeType"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Asset             string                 `json:"asset"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// TokenName returns extra.name when the server supplied one
func (r PaymentRequirement) TokenName() (string, bool) {
	return r.extraString("name")
}

// TokenVersion returns extra.version when the server supplied one
func (r PaymentRequirement) TokenVersion() (string, bool) {
	return r.extraString("version")
}

func (r PaymentRequirement) extraString(key string) (string, bool) {
	if r.Extra == nil {
		return "", false
	}
	v, ok := r.Extra[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// PaymentRequest is the 402 challenge sent by the resource server
type PaymentRequest struct {
	X402Version int                  `json:"x402Version"`
	Accepts     []PaymentRequirement `json:"accepts"`
	Error       string               `json:"error"`
}

// Authorization is the EIP-3009 TransferWithAuthorization message.
// Integer fields are decimal strings so they survive JSON without precision loss.
type Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// HeaderPayload carries the signature and the authorization it covers
type HeaderPayload struct {
	Signature     *string       `json:"signature"`
	Authorization Authorization `json:"authorization"`
}

// X402Header is the object sent back to the resource server in the X-Payment header
type X402Header struct {
	X402Version int           `json:"x402Version"`
	Scheme      string        `json:"scheme"`
	Network     string        `json:"network"`
	Payload     HeaderPayload `json:"payload"`
}

// SignatureHex returns the signature or an empty string when it is unset
func (h X402Header) SignatureHex() string {
	if h.Payload.Signature == nil {
		return ""
	}
	return *h.Payload.Signature
}

// signatureHexLength is "0x" plus 65 bytes of hex
const signatureHexLength = 2 + 65*2

// ValidateHeaderForTransmission checks the invariants a header must hold before it is sent
func ValidateHeaderForTransmission(h X402Header) error {
	sig := h.SignatureHex()
	if len(sig) != signatureHexLength || !strings.HasPrefix(sig, "0x") || !isHex(sig[2:]) {
		return NewPaymentError(ErrCodeInvalidSignatureLength,
			fmt.Sprintf("signature must be 65 bytes of 0x-prefixed hex, got %d characters", len(sig)), nil)
	}
	if h.Scheme == "" || h.Network == "" {
		return NewPaymentError(ErrCodeDecodeError, "header scheme and network are required", nil)
	}
	return nil
}

func isHex(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// ToPaymentRequest unmarshals bytes to a payment request
func ToPaymentRequest(data []byte) (*PaymentRequest, error) {
	var req PaymentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, WrapPaymentError(ErrCodeDecodeError, "invalid payment request", err)
	}
	return &req, nil
}
