package evm

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NonceFunc returns a fresh 32-byte authorization nonce
type NonceFunc func() ([]byte, error)

// CreateNonce draws a 32-byte nonce from crypto/rand
func CreateNonce() ([]byte, error) {
	return nonceFrom(rand.Reader)
}

func nonceFrom(r io.Reader) ([]byte, error) {
	nonce := make([]byte, NonceLength)
	if _, err := io.ReadFull(r, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return nonce, nil
}

// BytesToHex encodes b as 0x-prefixed lowercase hex
func BytesToHex(b []byte) string {
	return hexutil.Encode(b)
}

// HexToBytes decodes hex with or without a 0x prefix
func HexToBytes(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex %q: %w", s, err)
	}
	return b, nil
}

// IsValidAddress reports whether s is a 20-byte hex address
func IsValidAddress(s string) bool {
	return common.IsHexAddress(s)
}

// NormalizeAddress returns the checksummed form of a hex address
func NormalizeAddress(s string) string {
	return common.HexToAddress(s).Hex()
}
