package x402

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ValidatePaymentRequirement performs basic validation on a payment requirement
func ValidatePaymentRequirement(r PaymentRequirement) error {
	if r.Scheme == "" {
		return NewPaymentError(ErrCodeDecodeError, "payment scheme is required", nil)
	}
	if r.Network == "" {
		return NewPaymentError(ErrCodeDecodeError, "payment network is required", nil)
	}
	if r.Asset == "" {
		return NewPaymentError(ErrCodeDecodeError, "payment asset is required", nil)
	}
	if r.PayTo == "" {
		return NewPaymentError(ErrCodeDecodeError, "payment recipient is required", nil)
	}
	if r.MaxTimeoutSeconds < 0 {
		return NewPaymentError(ErrCodeDecodeError,
			fmt.Sprintf("maxTimeoutSeconds must not be negative, got %d", r.MaxTimeoutSeconds), nil)
	}
	if _, err := ParseAmount(r.MaxAmountRequired); err != nil {
		return err
	}
	return nil
}

// ParseAmount parses a non-negative base-10 integer amount in the token's smallest unit
func ParseAmount(amount string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok || value.Sign() < 0 {
		return nil, NewPaymentError(ErrCodeDecodeError, fmt.Sprintf("invalid amount: %q", amount), nil)
	}
	return value, nil
}

// FormatAmount renders an atomic token amount in whole units, e.g. "10000" with 6 decimals is "0.01"
func FormatAmount(amount string, decimals int32) (string, error) {
	value, err := ParseAmount(amount)
	if err != nil {
		return "", err
	}
	return decimal.NewFromBigInt(value, -decimals).String(), nil
}
