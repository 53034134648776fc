package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	x402 "github.com/x402chat/client"
)

// NowFunc returns the current time
type NowFunc func() time.Time

// ExactEvmClient builds x402 payment headers for the exact scheme on EVM networks
type ExactEvmClient struct {
	signer  ClientEvmSigner
	network string
	builder AuthorizationBuilder
	now     NowFunc
}

// ClientOption configures the client
type ClientOption func(*ExactEvmClient)

// WithNetwork sets the network the client is willing to pay on
func WithNetwork(network string) ClientOption {
	return func(c *ExactEvmClient) {
		c.network = network
	}
}

// WithChainIDOverride forces every network to resolve to chainID
func WithChainIDOverride(chainID *big.Int) ClientOption {
	return func(c *ExactEvmClient) {
		c.builder.Resolver.Override = chainID
	}
}

// WithNonceFunc replaces the nonce source
func WithNonceFunc(nonce NonceFunc) ClientOption {
	return func(c *ExactEvmClient) {
		c.builder.Nonce = nonce
	}
}

// WithNonceLedger rejects nonces already issued for the same payer, asset and chain
func WithNonceLedger(ledger *x402.NonceLedger) ClientOption {
	return func(c *ExactEvmClient) {
		c.builder.Ledger = ledger
	}
}

// WithClock replaces the wall clock
func WithClock(now NowFunc) ClientOption {
	return func(c *ExactEvmClient) {
		c.now = now
	}
}

// NewExactEvmClient creates a new ExactEvmClient
func NewExactEvmClient(signer ClientEvmSigner, opts ...ClientOption) *ExactEvmClient {
	c := &ExactEvmClient{
		signer:  signer,
		network: x402.DefaultNetwork,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Scheme returns the scheme identifier
func (c *ExactEvmClient) Scheme() string {
	return SchemeExact
}

// Network returns the target network
func (c *ExactEvmClient) Network() string {
	return c.network
}

// Signer returns the wallet used for signing
func (c *ExactEvmClient) Signer() ClientEvmSigner {
	return c.signer
}

// Select picks the requirement this client would pay
func (c *ExactEvmClient) Select(req x402.PaymentRequest) (x402.PaymentRequirement, error) {
	return x402.SelectRequirement(req, SchemeExact, c.network)
}

// CreatePaymentHeader answers a 402 challenge with a signed payment header.
// The wallet's chain is checked before anything is signed.
func (c *ExactEvmClient) CreatePaymentHeader(ctx context.Context, req x402.PaymentRequest) (x402.X402Header, error) {
	if err := c.requireWallet(); err != nil {
		return x402.X402Header{}, err
	}

	requirement, err := c.Select(req)
	if err != nil {
		return x402.X402Header{}, err
	}

	if err := c.CheckChain(ctx, requirement.Network); err != nil {
		return x402.X402Header{}, err
	}

	return c.CreatePaymentHeaderFor(ctx, requirement)
}

// CreatePaymentHeaderFor signs a header for a requirement the caller has already
// selected. It does not check the wallet's chain; call CheckChain first.
func (c *ExactEvmClient) CreatePaymentHeaderFor(ctx context.Context, requirement x402.PaymentRequirement) (x402.X402Header, error) {
	if err := c.requireWallet(); err != nil {
		return x402.X402Header{}, err
	}

	unsigned, err := c.builder.Build(requirement, c.signer.Address(), c.now())
	if err != nil {
		return x402.X402Header{}, err
	}

	signature, err := c.Sign(ctx, unsigned)
	if err != nil {
		return x402.X402Header{}, err
	}

	header := x402.X402Header{
		X402Version: x402.ProtocolVersion,
		Scheme:      SchemeExact,
		Network:     requirement.Network,
		Payload: x402.HeaderPayload{
			Signature:     &signature,
			Authorization: unsigned.Authorization,
		},
	}
	if err := x402.ValidateHeaderForTransmission(header); err != nil {
		return x402.X402Header{}, err
	}
	return header, nil
}

// CheckChain fails with a chain mismatch when the wallet is not on network's chain
func (c *ExactEvmClient) CheckChain(ctx context.Context, network string) error {
	if err := c.requireWallet(); err != nil {
		return err
	}

	expected, err := c.builder.Resolver.ResolveChainID(network)
	if err != nil {
		return err
	}

	actual, err := c.signer.ChainID(ctx)
	if err != nil {
		return x402.WrapPaymentError(x402.ErrCodeSignerRejected, "could not read wallet chain", err)
	}
	if actual == nil || actual.Cmp(expected) != 0 {
		return x402.NewPaymentError(
			x402.ErrCodeChainMismatch,
			fmt.Sprintf("wallet is on chain %v, but payment requires %s (%s)", actual, network, expected),
			map[string]interface{}{"network": network, "expected": expected.String(), "actual": fmt.Sprint(actual)},
		)
	}
	return nil
}

func (c *ExactEvmClient) requireWallet() error {
	if c.signer == nil || c.signer.Address() == "" {
		return x402.ErrWalletNotConnected
	}
	return nil
}

// Sign obtains the wallet signature for unsigned and normalizes it to 65 bytes
func (c *ExactEvmClient) Sign(ctx context.Context, unsigned UnsignedAuthorization) (string, error) {
	if err := c.requireWallet(); err != nil {
		return "", err
	}

	types, primaryType, message, err := unsigned.TypedData()
	if err != nil {
		return "", x402.WrapPaymentError(x402.ErrCodeDecodeError, "invalid authorization", err)
	}

	raw, err := c.signer.SignTypedData(ctx, unsigned.Domain, types, primaryType, message)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", x402.WrapPaymentError(x402.ErrCodeSignerRejected, "failed to sign authorization", err)
	}

	return NormalizeSignatureBytes(raw), nil
}
