package http

import (
	"encoding/base64"
	"encoding/json"
	"regexp"

	x402 "github.com/x402chat/client"
)

// Base64 regex pattern - requires at least one character
var base64Regex = regexp.MustCompile(`^[A-Za-z0-9+/]+={0,2}$`)

// EncodePaymentHeader encodes a header as base64 JSON for the X-Payment header.
// Authorization integers are already decimal strings, so no precision is lost.
func EncodePaymentHeader(header x402.X402Header) (string, error) {
	data, err := json.Marshal(header)
	if err != nil {
		return "", x402.WrapPaymentError(x402.ErrCodeDecodeError, "failed to marshal payment header", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodePaymentHeader is the inverse of EncodePaymentHeader.
// It validates the base64 format and the JSON structure before decoding.
func DecodePaymentHeader(value string) (x402.X402Header, error) {
	if value == "" {
		return x402.X402Header{}, x402.NewPaymentError(x402.ErrCodeDecodeError, "payment header is empty", nil)
	}

	if !base64Regex.MatchString(value) {
		return x402.X402Header{}, x402.NewPaymentError(x402.ErrCodeDecodeError, "invalid payment header format: not valid base64", nil)
	}

	decoded, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return x402.X402Header{}, x402.WrapPaymentError(x402.ErrCodeDecodeError, "invalid payment header format: base64 decoding failed", err)
	}

	if err := paymentHeaderSchema.validate(decoded); err != nil {
		return x402.X402Header{}, err
	}

	var header x402.X402Header
	if err := json.Unmarshal(decoded, &header); err != nil {
		return x402.X402Header{}, x402.WrapPaymentError(x402.ErrCodeDecodeError, "invalid payment header format: not valid JSON", err)
	}
	return header, nil
}
