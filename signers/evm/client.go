package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402evm "github.com/x402chat/client/mechanisms/evm"
)

// ChainIDReader reports the chain a wallet is connected to.
// *ethclient.Client satisfies it.
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// ClientSigner implements x402evm.ClientEvmSigner using an ECDSA private key.
// This provides client-side EIP-712 signing for creating payment headers.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chainID    *big.Int
	chain      ChainIDReader
	rawV       bool
}

// SignerOption configures a ClientSigner
type SignerOption func(*ClientSigner)

// WithChainID pins the chain the signer reports as connected
func WithChainID(chainID *big.Int) SignerOption {
	return func(s *ClientSigner) {
		s.chainID = chainID
	}
}

// WithChainReader asks reader (usually an RPC client) for the connected chain
func WithChainReader(reader ChainIDReader) SignerOption {
	return func(s *ClientSigner) {
		s.chain = reader
	}
}

// WithRawRecoveryID makes the signer emit 0/1 recovery ids like some wallets do
func WithRawRecoveryID() SignerOption {
	return func(s *ClientSigner) {
		s.rawV = true
	}
}

// NewClientSignerFromPrivateKey creates a client signer from a hex-encoded private key.
//
// Args:
//
//	privateKeyHex: Hex-encoded private key (with or without "0x" prefix)
//
// Returns:
//
//	Signer ready for use with x402evm.NewExactEvmClient()
//	Error if private key is invalid
//
// Example:
//
//	signer, err := evm.NewClientSignerFromPrivateKey("0x1234...", evm.WithChainID(big.NewInt(84532)))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := x402evm.NewExactEvmClient(signer)
func NewClientSignerFromPrivateKey(privateKeyHex string, opts ...SignerOption) (*ClientSigner, error) {
	// Strip 0x prefix if present
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	return NewClientSigner(privateKey, opts...), nil
}

// NewClientSigner creates a client signer from an ECDSA key
func NewClientSigner(privateKey *ecdsa.PrivateKey, opts ...SignerOption) *ClientSigner {
	s := &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DialChainReader connects to an EVM JSON-RPC endpoint for chain id lookups
func DialChainReader(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	return client, nil
}

// Address returns the Ethereum address of the signer.
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// ChainID returns the chain the signer is connected to.
// A pinned chain wins over the chain reader.
func (s *ClientSigner) ChainID(ctx context.Context) (*big.Int, error) {
	if s.chainID != nil {
		return new(big.Int).Set(s.chainID), nil
	}
	if s.chain != nil {
		return s.chain.ChainID(ctx)
	}
	return nil, fmt.Errorf("signer has no chain configured")
}

// SignTypedData signs EIP-712 typed data.
//
// Returns:
//
//	65-byte signature (r, s, v)
//	Error if signing fails
func (s *ClientSigner) SignTypedData(
	ctx context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	digest, err := x402evm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value for Ethereum (recovery ID 0/1 → 27/28)
	if !s.rawV {
		signature[64] += 27
	}

	return signature, nil
}

var bytesArguments = func() abi.Arguments {
	bytesType, err := abi.NewType("bytes", "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: bytesType}}
}()

// SmartWalletSigner wraps another signer and returns its signatures ABI-encoded
// as dynamic bytes, the envelope smart-contract wallets hand back to dapps.
type SmartWalletSigner struct {
	inner x402evm.ClientEvmSigner
}

// NewSmartWalletSigner wraps inner
func NewSmartWalletSigner(inner x402evm.ClientEvmSigner) *SmartWalletSigner {
	return &SmartWalletSigner{inner: inner}
}

// Address returns the wrapped signer's address
func (s *SmartWalletSigner) Address() string {
	return s.inner.Address()
}

// ChainID returns the wrapped signer's chain
func (s *SmartWalletSigner) ChainID(ctx context.Context) (*big.Int, error) {
	return s.inner.ChainID(ctx)
}

// SignTypedData signs with the wrapped signer and ABI-encodes the result
func (s *SmartWalletSigner) SignTypedData(
	ctx context.Context,
	domain x402evm.TypedDataDomain,
	types map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	signature, err := s.inner.SignTypedData(ctx, domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}
	return EncodeABIBytes(signature)
}

// EncodeABIBytes ABI-encodes b as a single dynamic bytes argument
func EncodeABIBytes(b []byte) ([]byte, error) {
	packed, err := bytesArguments.Pack(b)
	if err != nil {
		return nil, fmt.Errorf("failed to abi-encode signature: %w", err)
	}
	return packed, nil
}
