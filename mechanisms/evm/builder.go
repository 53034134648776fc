package evm

import (
	"fmt"
	"time"

	x402 "github.com/x402chat/client"
)

// maxNonceDraws bounds how often a colliding nonce is redrawn before giving up
const maxNonceDraws = 8

// AuthorizationBuilder assembles unsigned EIP-3009 authorizations.
// The zero value uses the fixed chain table, crypto/rand nonces and no ledger.
type AuthorizationBuilder struct {
	Resolver ChainResolver
	Nonce    NonceFunc
	// Ledger, when set, guarantees a nonce is not reissued for the same payer,
	// asset and chain until the earlier authorization has expired
	Ledger *x402.NonceLedger
}

// BuildAuthorization builds an authorization with the default builder
func BuildAuthorization(requirement x402.PaymentRequirement, payer string, now time.Time) (UnsignedAuthorization, error) {
	return AuthorizationBuilder{}.Build(requirement, payer, now)
}

// Build computes the authorization window, amount, nonce and EIP-712 domain for requirement.
// It has no side effects beyond drawing randomness and reserving the nonce in the ledger.
func (b AuthorizationBuilder) Build(requirement x402.PaymentRequirement, payer string, now time.Time) (UnsignedAuthorization, error) {
	if err := x402.ValidatePaymentRequirement(requirement); err != nil {
		return UnsignedAuthorization{}, err
	}
	if payer == "" {
		return UnsignedAuthorization{}, x402.ErrWalletNotConnected
	}
	for _, addr := range []struct{ field, value string }{
		{"payer", payer},
		{"payTo", requirement.PayTo},
		{"asset", requirement.Asset},
	} {
		if !IsValidAddress(addr.value) {
			return UnsignedAuthorization{}, x402.NewPaymentError(x402.ErrCodeDecodeError,
				fmt.Sprintf("invalid %s address: %q", addr.field, addr.value),
				map[string]interface{}{addr.field: addr.value})
		}
	}

	chainID, err := b.Resolver.ResolveChainID(requirement.Network)
	if err != nil {
		return UnsignedAuthorization{}, err
	}

	validAfter := now.Unix() - ClockSkewSeconds
	validBefore := now.Unix() + int64(requirement.MaxTimeoutSeconds)

	ttl := time.Duration(requirement.MaxTimeoutSeconds) * time.Second
	nonce, err := b.drawNonce(payer, requirement.Asset, chainID.String(), ttl)
	if err != nil {
		return UnsignedAuthorization{}, err
	}

	name, ok := requirement.TokenName()
	if !ok {
		name = DefaultTokenName
	}
	version, ok := requirement.TokenVersion()
	if !ok {
		version = DefaultTokenVersion
	}

	return UnsignedAuthorization{
		Authorization: x402.Authorization{
			From:        payer,
			To:          requirement.PayTo,
			Value:       requirement.MaxAmountRequired,
			ValidAfter:  fmt.Sprintf("%d", validAfter),
			ValidBefore: fmt.Sprintf("%d", validBefore),
			Nonce:       nonce,
		},
		Domain: TypedDataDomain{
			Name:              name,
			Version:           version,
			ChainID:           chainID,
			VerifyingContract: requirement.Asset,
		},
		Network:     requirement.Network,
		ValidBefore: time.Unix(validBefore, 0),
	}, nil
}

func (b AuthorizationBuilder) drawNonce(payer, asset, chainID string, ttl time.Duration) (string, error) {
	next := b.Nonce
	if next == nil {
		next = CreateNonce
	}

	for i := 0; i < maxNonceDraws; i++ {
		raw, err := next()
		if err != nil {
			return "", err
		}
		if len(raw) != NonceLength {
			return "", fmt.Errorf("nonce must be %d bytes, got %d", NonceLength, len(raw))
		}
		nonce := BytesToHex(raw)

		if b.Ledger == nil || b.Ledger.Reserve(x402.GenerateNonceKey(payer, asset, chainID, nonce), ttl) {
			return nonce, nil
		}
	}
	return "", fmt.Errorf("could not draw an unused nonce after %d attempts", maxNonceDraws)
}
