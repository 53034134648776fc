package evm

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	x402 "github.com/x402chat/client"
)

// Mock implementations for testing

type mockClientSigner struct {
	address  string
	chainID  *big.Int
	chainErr error
	sig      []byte
	signErr  error

	calls       int
	lastDomain  TypedDataDomain
	lastMessage map[string]interface{}
}

func (m *mockClientSigner) Address() string {
	return m.address
}

func (m *mockClientSigner) ChainID(ctx context.Context) (*big.Int, error) {
	if m.chainErr != nil {
		return nil, m.chainErr
	}
	if m.chainID != nil {
		return m.chainID, nil
	}
	return ChainIDBaseSepolia, nil
}

func (m *mockClientSigner) SignTypedData(
	ctx context.Context,
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	m.calls++
	m.lastDomain = domain
	m.lastMessage = message
	if m.signErr != nil {
		return nil, m.signErr
	}
	if m.sig != nil {
		return m.sig, nil
	}
	// Return a mock signature (65 bytes)
	return rawSignature(27), nil
}

const (
	testPayer = "0xBBBbBBbbBbBbbbBbbBBbBbbbBBBBBBbBBbbbBBBB"
	testPayTo = "0xAAAaAaAaaaAaaaAAaaAaAAAaaaaaaAaaaaAAAaAa"
	testUSDC  = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"
)

func testRequirement() x402.PaymentRequirement {
	return x402.PaymentRequirement{
		Scheme:            "exact",
		Network:           "base-sepolia",
		MaxAmountRequired: "10000",
		Resource:          "http://localhost:8000/chat",
		Description:       "chat completion",
		MimeType:          "application/json",
		PayTo:             testPayTo,
		MaxTimeoutSeconds: 60,
		Asset:             testUSDC,
	}
}

func testRequest(accepts ...x402.PaymentRequirement) x402.PaymentRequest {
	return x402.PaymentRequest{X402Version: 1, Accepts: accepts, Error: "payment required"}
}

// Tests

func TestResolveChainID(t *testing.T) {
	tests := []struct {
		name    string
		network string
		want    int64
		wantErr bool
	}{
		{"base-sepolia", "base-sepolia", 84532, false},
		{"base", "base", 8453, false},
		{"sepolia", "sepolia", 11155111, false},
		{"mainnet", "mainnet", 1, false},
		{"unknown network", "unknown-net", 0, true},
		{"CAIP-2 rejected", "eip155:8453", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chainID, err := ResolveChainID(tt.network)
			if tt.wantErr {
				if !errors.Is(err, x402.ErrUnknownNetwork) {
					t.Errorf("Expected ErrUnknownNetwork for %s, got %v", tt.network, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error for %s: %v", tt.network, err)
			}
			if chainID.Int64() != tt.want {
				t.Errorf("Expected chain ID %d, got %d", tt.want, chainID.Int64())
			}
		})
	}
}

func TestNetworks(t *testing.T) {
	want := []string{"base", "base-sepolia", "mainnet", "sepolia"}
	got := Networks()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, got)
	}
	for _, network := range want {
		if !IsValidNetwork(network) {
			t.Errorf("Expected %s to be valid", network)
		}
	}
	if IsValidNetwork("eip155:8453") {
		t.Error("Expected CAIP-2 identifier to be rejected")
	}

	_, err := ResolveChainID("unknown-net")
	var pe *x402.PaymentError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected PaymentError, got %v", err)
	}
	supported, _ := pe.Details["supported"].([]string)
	if strings.Join(supported, ",") != strings.Join(want, ",") {
		t.Errorf("Expected supported networks in details, got %v", pe.Details["supported"])
	}
}

func TestAddressHelpers(t *testing.T) {
	if !IsValidAddress(testPayTo) || IsValidAddress("0xAAA") || IsValidAddress("not-an-address") {
		t.Error("Unexpected address validation result")
	}
	lower := strings.ToLower(testUSDC)
	normalized := NormalizeAddress(lower)
	if !strings.EqualFold(normalized, testUSDC) || normalized == lower {
		t.Errorf("Expected checksummed form of %s, got %s", lower, normalized)
	}
	if NormalizeAddress(normalized) != normalized {
		t.Errorf("Expected normalization to be idempotent, got %s", NormalizeAddress(normalized))
	}
}

func TestChainResolver_Override(t *testing.T) {
	resolver := ChainResolver{Override: big.NewInt(31337)}

	for _, network := range []string{"base-sepolia", "mainnet", "unknown-net"} {
		chainID, err := resolver.ResolveChainID(network)
		if err != nil {
			t.Fatalf("Unexpected error for %s: %v", network, err)
		}
		if chainID.Int64() != 31337 {
			t.Errorf("Expected override 31337 for %s, got %d", network, chainID.Int64())
		}
	}

	// The returned value is a copy
	chainID, _ := resolver.ResolveChainID("base")
	chainID.SetInt64(1)
	if resolver.Override.Int64() != 31337 {
		t.Error("Expected override to be unaffected by caller mutation")
	}
	chainID, _ = ResolveChainID("base")
	chainID.SetInt64(1)
	if ChainIDBase.Int64() != 8453 {
		t.Error("Expected table entry to be unaffected by caller mutation")
	}
}

func TestBuildAuthorization_Window(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	requirement := testRequirement()

	unsigned, err := BuildAuthorization(requirement, testPayer, now)
	if err != nil {
		t.Fatalf("Failed to build authorization: %v", err)
	}

	auth := unsigned.Authorization
	if auth.ValidAfter != "1699998200" {
		t.Errorf("Expected validAfter 1699998200, got %s", auth.ValidAfter)
	}
	if auth.ValidBefore != "1700000060" {
		t.Errorf("Expected validBefore 1700000060, got %s", auth.ValidBefore)
	}
	if auth.Value != "10000" {
		t.Errorf("Expected value 10000, got %s", auth.Value)
	}
	if auth.From != testPayer || auth.To != testPayTo {
		t.Errorf("Unexpected parties: from=%s to=%s", auth.From, auth.To)
	}
	if !strings.HasPrefix(auth.Nonce, "0x") || len(auth.Nonce) != 66 {
		t.Errorf("Expected 32-byte hex nonce, got %s", auth.Nonce)
	}
	if unsigned.ValidBefore.Unix() != 1_700_000_060 {
		t.Errorf("Expected ValidBefore time 1700000060, got %d", unsigned.ValidBefore.Unix())
	}
}

func TestBuildAuthorization_Domain(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	t.Run("defaults", func(t *testing.T) {
		unsigned, err := BuildAuthorization(testRequirement(), testPayer, now)
		if err != nil {
			t.Fatalf("Failed to build authorization: %v", err)
		}
		d := unsigned.Domain
		if d.Name != "USD Coin" || d.Version != "2" {
			t.Errorf("Expected default domain USD Coin/2, got %s/%s", d.Name, d.Version)
		}
		if d.ChainID.Int64() != 84532 {
			t.Errorf("Expected chain 84532, got %d", d.ChainID.Int64())
		}
		if d.VerifyingContract != testUSDC {
			t.Errorf("Expected verifying contract %s, got %s", testUSDC, d.VerifyingContract)
		}
	})

	t.Run("extra overrides", func(t *testing.T) {
		requirement := testRequirement()
		requirement.Extra = map[string]interface{}{"name": "USDC", "version": "3"}

		unsigned, err := BuildAuthorization(requirement, testPayer, now)
		if err != nil {
			t.Fatalf("Failed to build authorization: %v", err)
		}
		if unsigned.Domain.Name != "USDC" || unsigned.Domain.Version != "3" {
			t.Errorf("Expected USDC/3, got %s/%s", unsigned.Domain.Name, unsigned.Domain.Version)
		}
	})
}

func TestBuildAuthorization_Errors(t *testing.T) {
	now := time.Now()

	unknown := testRequirement()
	unknown.Network = "unknown-net"
	if _, err := BuildAuthorization(unknown, testPayer, now); !errors.Is(err, x402.ErrUnknownNetwork) {
		t.Errorf("Expected ErrUnknownNetwork, got %v", err)
	}

	badAmount := testRequirement()
	badAmount.MaxAmountRequired = "1e6"
	if _, err := BuildAuthorization(badAmount, testPayer, now); !errors.Is(err, x402.ErrDecode) {
		t.Errorf("Expected ErrDecode, got %v", err)
	}

	if _, err := BuildAuthorization(testRequirement(), "", now); !errors.Is(err, x402.ErrWalletNotConnected) {
		t.Errorf("Expected ErrWalletNotConnected, got %v", err)
	}

	failing := AuthorizationBuilder{Nonce: func() ([]byte, error) { return nil, errors.New("entropy exhausted") }}
	if _, err := failing.Build(testRequirement(), testPayer, now); err == nil {
		t.Error("Expected nonce failure to propagate")
	}

	short := AuthorizationBuilder{Nonce: func() ([]byte, error) { return make([]byte, 16), nil }}
	if _, err := short.Build(testRequirement(), testPayer, now); err == nil {
		t.Error("Expected short nonce to be rejected")
	}
}

func TestBuildAuthorization_MalformedAddresses(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *x402.PaymentRequirement)
		payer  string
	}{
		{name: "payTo", mutate: func(r *x402.PaymentRequirement) { r.PayTo = "not-an-address" }, payer: testPayer},
		{name: "short payTo", mutate: func(r *x402.PaymentRequirement) { r.PayTo = "0xAAA" }, payer: testPayer},
		{name: "asset", mutate: func(r *x402.PaymentRequirement) { r.Asset = "0xUSDC" }, payer: testPayer},
		{name: "payer", mutate: func(r *x402.PaymentRequirement) {}, payer: "0xBBB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requirement := testRequirement()
			tt.mutate(&requirement)

			_, err := BuildAuthorization(requirement, tt.payer, time.Now())
			if !errors.Is(err, x402.ErrDecode) {
				t.Errorf("Expected ErrDecode, got %v", err)
			}
		})
	}
}

func TestBuildAuthorization_ValueEchoesRequirement(t *testing.T) {
	requirement := testRequirement()
	requirement.MaxAmountRequired = "010000"

	unsigned, err := BuildAuthorization(requirement, testPayer, time.Now())
	if err != nil {
		t.Fatalf("Failed to build authorization: %v", err)
	}
	if unsigned.Authorization.Value != "010000" {
		t.Errorf("Expected value to echo maxAmountRequired, got %s", unsigned.Authorization.Value)
	}
}

func TestBuildAuthorization_NonceUniqueness(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	seen := make(map[string]struct{}, 10000)

	for i := 0; i < 10000; i++ {
		unsigned, err := BuildAuthorization(testRequirement(), testPayer, now)
		if err != nil {
			t.Fatalf("Failed to build authorization: %v", err)
		}
		if _, dup := seen[unsigned.Authorization.Nonce]; dup {
			t.Fatalf("Nonce collision after %d trials: %s", i, unsigned.Authorization.Nonce)
		}
		seen[unsigned.Authorization.Nonce] = struct{}{}
	}
}

func TestBuildAuthorization_LedgerRedrawsCollidingNonce(t *testing.T) {
	ledger := x402.NewNonceLedger()
	draws := [][]byte{
		make([]byte, 32),
		make([]byte, 32),
		append(make([]byte, 31), 0x01),
	}
	next := 0
	builder := AuthorizationBuilder{
		Ledger: ledger,
		Nonce: func() ([]byte, error) {
			b := draws[next]
			next++
			return b, nil
		},
	}

	first, err := builder.Build(testRequirement(), testPayer, time.Now())
	if err != nil {
		t.Fatalf("Failed to build first authorization: %v", err)
	}
	second, err := builder.Build(testRequirement(), testPayer, time.Now())
	if err != nil {
		t.Fatalf("Failed to build second authorization: %v", err)
	}

	if first.Authorization.Nonce == second.Authorization.Nonce {
		t.Fatalf("Expected ledger to force a fresh nonce, both were %s", first.Authorization.Nonce)
	}
	if next != 3 {
		t.Errorf("Expected 3 nonce draws, got %d", next)
	}
}

func TestUnsignedAuthorization_TypedData(t *testing.T) {
	unsigned, err := BuildAuthorization(testRequirement(), testPayer, time.Unix(1_700_000_000, 0))
	if err != nil {
		t.Fatalf("Failed to build authorization: %v", err)
	}

	types, primaryType, message, err := unsigned.TypedData()
	if err != nil {
		t.Fatalf("Failed to get typed data: %v", err)
	}
	if primaryType != "TransferWithAuthorization" {
		t.Errorf("Expected TransferWithAuthorization, got %s", primaryType)
	}
	fields := types["TransferWithAuthorization"]
	wantFields := []string{"from", "to", "value", "validAfter", "validBefore", "nonce"}
	if len(fields) != len(wantFields) {
		t.Fatalf("Expected %d fields, got %d", len(wantFields), len(fields))
	}
	for i, name := range wantFields {
		if fields[i].Name != name {
			t.Errorf("Field %d: expected %s, got %s", i, name, fields[i].Name)
		}
	}
	if message["value"].(*big.Int).Int64() != 10000 {
		t.Errorf("Expected value 10000, got %v", message["value"])
	}
	if len(message["nonce"].([]byte)) != 32 {
		t.Errorf("Expected 32-byte nonce in message")
	}
}

func TestHashEIP3009Authorization(t *testing.T) {
	auth := x402.Authorization{
		From:        "0x1234567890123456789012345678901234567890",
		To:          "0x9876543210987654321098765432109876543210",
		Value:       "1000000",
		ValidAfter:  "0",
		ValidBefore: "9999999999",
		Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000001",
	}
	domain := TypedDataDomain{Name: "USD Coin", Version: "2", ChainID: big.NewInt(8453), VerifyingContract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"}

	hash1, err := HashEIP3009Authorization(auth, domain)
	if err != nil {
		t.Fatalf("Failed to hash authorization: %v", err)
	}
	if len(hash1) != 32 {
		t.Errorf("Expected 32-byte hash, got %d bytes", len(hash1))
	}

	hash2, _ := HashEIP3009Authorization(auth, domain)
	if string(hash1) != string(hash2) {
		t.Error("Same inputs should produce same hash")
	}

	other := domain
	other.ChainID = big.NewInt(84532)
	hash3, _ := HashEIP3009Authorization(auth, other)
	if string(hash1) == string(hash3) {
		t.Error("Different chain ID should produce different hash")
	}

	badTo := auth
	badTo.To = "0x9876"
	if _, err := HashEIP3009Authorization(badTo, domain); err == nil {
		t.Error("Expected malformed recipient to fail")
	}

	bad := auth
	bad.Value = "abc"
	if _, err := HashEIP3009Authorization(bad, domain); err == nil {
		t.Error("Expected invalid value to fail")
	}
}
