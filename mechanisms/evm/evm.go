// Package evm builds x402 "exact" payments on EVM networks.
//
// A payment is an EIP-3009 TransferWithAuthorization signed with EIP-712.
// The package resolves the chain for a network, assembles the authorization
// (time window, nonce, token domain), asks a ClientEvmSigner for a signature,
// and normalizes the signature into the 65-byte form servers expect.
package evm

import (
	"context"

	x402 "github.com/x402chat/client"
)

// CreateExactHeader is a helper to answer a single challenge without keeping a client around
func CreateExactHeader(
	ctx context.Context,
	signer ClientEvmSigner,
	req x402.PaymentRequest,
	opts ...ClientOption,
) (x402.X402Header, error) {
	return NewExactEvmClient(signer, opts...).CreatePaymentHeader(ctx, req)
}
