package evm

import (
	"fmt"
	"math/big"
	"sort"

	x402 "github.com/x402chat/client"
)

// NetworkChainIDs maps network names to their chain IDs
var NetworkChainIDs = map[string]*big.Int{
	"base-sepolia": ChainIDBaseSepolia,
	"base":         ChainIDBase,
	"sepolia":      ChainIDSepolia,
	"mainnet":      ChainIDMainnet,
}

// ChainResolver maps network names to chain IDs.
// A non-nil Override is returned for every network, known or not.
type ChainResolver struct {
	Override *big.Int
}

// ResolveChainID returns the chain ID for network
func (r ChainResolver) ResolveChainID(network string) (*big.Int, error) {
	if r.Override != nil {
		return new(big.Int).Set(r.Override), nil
	}
	if chainID, ok := NetworkChainIDs[network]; ok {
		return new(big.Int).Set(chainID), nil
	}
	return nil, x402.NewPaymentError(
		x402.ErrCodeUnknownNetwork,
		fmt.Sprintf("unknown network: %s", network),
		map[string]interface{}{"network": network, "supported": Networks()},
	)
}

// ResolveChainID resolves network against the fixed table with no override
func ResolveChainID(network string) (*big.Int, error) {
	return ChainResolver{}.ResolveChainID(network)
}

// IsValidNetwork reports whether network is in the fixed table
func IsValidNetwork(network string) bool {
	_, ok := NetworkChainIDs[network]
	return ok
}

// Networks returns the known network names, sorted
func Networks() []string {
	names := make([]string, 0, len(NetworkChainIDs))
	for name := range NetworkChainIDs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
