package evm

import (
	"math/big"
)

const (
	// Scheme identifier
	SchemeExact = "exact"

	// Default token decimals for USDC
	DefaultDecimals = 6

	// EIP-712 domain defaults used when the requirement carries no extra.name/extra.version
	DefaultTokenName    = "USD Coin"
	DefaultTokenVersion = "2"

	// ClockSkewSeconds is subtracted from now for validAfter so a payer clock
	// running ahead of the chain does not produce a not-yet-valid authorization
	ClockSkewSeconds = 1800

	// SignatureLength is the size of a raw r||s||v ECDSA signature
	SignatureLength = 65

	// NonceLength is the size of an EIP-3009 authorization nonce
	NonceLength = 32

	// PrimaryTypeTransferWithAuthorization is the EIP-712 primary type signed by the payer
	PrimaryTypeTransferWithAuthorization = "TransferWithAuthorization"
)

var (
	// Network chain IDs
	ChainIDMainnet     = big.NewInt(1)
	ChainIDSepolia     = big.NewInt(11155111)
	ChainIDBase        = big.NewInt(8453)
	ChainIDBaseSepolia = big.NewInt(84532)

	// EIP712DomainTypes is the domain type for EIP-3009 tokens
	EIP712DomainTypes = []TypedDataField{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}

	// TransferWithAuthorizationTypes is the EIP-3009 message type.
	// Field order must match the token contract.
	TransferWithAuthorizationTypes = []TypedDataField{
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	}
)

// GetEIP3009Types returns the complete EIP-712 types map for TransferWithAuthorization signing
func GetEIP3009Types() map[string][]TypedDataField {
	return map[string][]TypedDataField{
		"EIP712Domain":                       EIP712DomainTypes,
		PrimaryTypeTransferWithAuthorization: TransferWithAuthorizationTypes,
	}
}
