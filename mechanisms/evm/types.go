package evm

import (
	"context"
	"math/big"
	"time"

	x402 "github.com/x402chat/client"
)

// ClientEvmSigner is the wallet capability the payment header builder needs.
// Implementations may return either a raw 65-byte signature or an ABI-wrapped
// smart-wallet signature; the builder normalizes both.
type ClientEvmSigner interface {
	Address() string
	ChainID(ctx context.Context) (*big.Int, error)
	SignTypedData(
		ctx context.Context,
		domain TypedDataDomain,
		types map[string][]TypedDataField,
		primaryType string,
		message map[string]interface{},
	) ([]byte, error)
}

// TypedDataDomain represents an EIP-712 domain
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// UnsignedAuthorization is an authorization ready to be handed to a signer
type UnsignedAuthorization struct {
	Authorization x402.Authorization
	Domain        TypedDataDomain
	Network       string
	ValidBefore   time.Time
}

// TypedData returns the EIP-712 types, primary type and message for this authorization
func (u UnsignedAuthorization) TypedData() (map[string][]TypedDataField, string, map[string]interface{}, error) {
	message, err := EIP3009Message(u.Authorization)
	if err != nil {
		return nil, "", nil, err
	}
	return GetEIP3009Types(), PrimaryTypeTransferWithAuthorization, message, nil
}
