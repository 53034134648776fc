package x402

import (
	"errors"
	"fmt"
)

// PaymentError represents a payment-specific error
type PaymentError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Err     error                  `json:"-"`
}

func (e *PaymentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// Is matches any PaymentError carrying the same code, so sentinels work with errors.Is
func (e *PaymentError) Is(target error) bool {
	var pe *PaymentError
	if !errors.As(target, &pe) {
		return false
	}
	return pe.Code == e.Code
}

// Error codes
const (
	ErrCodeUnsupportedScheme      = "unsupported_scheme"
	ErrCodeChainMismatch          = "chain_mismatch"
	ErrCodeSignerRejected         = "signer_rejected"
	ErrCodeVerificationRejected   = "verification_rejected"
	ErrCodeUnknownNetwork         = "unknown_network"
	ErrCodeDecodeError            = "decode_error"
	ErrCodeAttemptsExhausted      = "attempts_exhausted"
	ErrCodeInvalidSignatureLength = "invalid_signature_length"
	ErrCodeWalletNotConnected     = "wallet_not_connected"
)

// Sentinels for errors.Is checks. Matching is by code only.
var (
	ErrUnsupportedScheme      = &PaymentError{Code: ErrCodeUnsupportedScheme, Message: "no compatible payment method"}
	ErrChainMismatch          = &PaymentError{Code: ErrCodeChainMismatch, Message: "wallet is on the wrong chain"}
	ErrSignerRejected         = &PaymentError{Code: ErrCodeSignerRejected, Message: "signature was not produced"}
	ErrVerificationRejected   = &PaymentError{Code: ErrCodeVerificationRejected, Message: "server rejected the payment"}
	ErrUnknownNetwork         = &PaymentError{Code: ErrCodeUnknownNetwork, Message: "unknown network"}
	ErrDecode                 = &PaymentError{Code: ErrCodeDecodeError, Message: "malformed payment data"}
	ErrAttemptsExhausted      = &PaymentError{Code: ErrCodeAttemptsExhausted, Message: "payment attempts exhausted"}
	ErrInvalidSignatureLength = &PaymentError{Code: ErrCodeInvalidSignatureLength, Message: "signature is not 65 bytes"}
	ErrWalletNotConnected     = &PaymentError{Code: ErrCodeWalletNotConnected, Message: "no wallet connected"}
)

// NewPaymentError creates a new payment error
func NewPaymentError(code, message string, details map[string]interface{}) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WrapPaymentError creates a payment error around a cause
func WrapPaymentError(code, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ErrorCode extracts the payment error code from err, or "" when err is not a PaymentError
func ErrorCode(err error) string {
	var pe *PaymentError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsRetryable reports whether err may be retried automatically
func IsRetryable(err error) bool {
	return ErrorCode(err) == ErrCodeVerificationRejected
}

// IsTerminal reports whether err ends the payment for the pending challenge
func IsTerminal(err error) bool {
	switch ErrorCode(err) {
	case ErrCodeUnsupportedScheme, ErrCodeUnknownNetwork, ErrCodeDecodeError,
		ErrCodeAttemptsExhausted, ErrCodeInvalidSignatureLength:
		return true
	}
	return false
}

// UserMessage renders err as text suitable for showing to the person paying
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *PaymentError
	if !errors.As(err, &pe) {
		return err.Error()
	}
	switch pe.Code {
	case ErrCodeUnsupportedScheme:
		return "No supported payment method is offered for this request."
	case ErrCodeChainMismatch:
		if network, ok := pe.Details["network"].(string); ok {
			return fmt.Sprintf("Incorrect network. Please switch to %s.", network)
		}
		return "Incorrect network. Please switch your wallet network."
	case ErrCodeSignerRejected:
		return "Signature cancelled. Please try again."
	case ErrCodeVerificationRejected:
		return "Payment verification failed. Please try again."
	case ErrCodeAttemptsExhausted:
		return "Payment failed. Please refresh and try again."
	case ErrCodeWalletNotConnected:
		return "Connect a wallet to pay for this request."
	case ErrCodeUnknownNetwork, ErrCodeDecodeError, ErrCodeInvalidSignatureLength:
		return "The payment request could not be processed."
	}
	return pe.Message
}
