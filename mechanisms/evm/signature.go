package evm

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// abiWordSize is the width of one ABI head/length word
const abiWordSize = 32

// NormalizeSignatureBytes normalizes a signature given as raw bytes
func NormalizeSignatureBytes(raw []byte) string {
	return NormalizeSignature(hexutil.Encode(raw))
}

// NormalizeSignature reshapes a wallet signature into 0x-prefixed 65-byte r||s||v hex.
//
// Externally owned accounts return r||s||v directly. Smart-contract wallets may
// return the same triple ABI-encoded as dynamic bytes: an offset word, then at
// that offset a length word followed by the payload padded to 32 bytes. The
// fallback order is fixed: ABI decode, then the last 65 bytes of the input, then
// the input unchanged. A recovery id of 0 or 1 is shifted to 27 or 28.
//
// Anything not recognized is returned as-is; the server verifies the signature
// and rejects malformed values.
func NormalizeSignature(raw string) string {
	sig := raw
	if !strings.HasPrefix(sig, "0x") && !strings.HasPrefix(sig, "0X") {
		sig = "0x" + sig
	} else {
		sig = "0x" + sig[2:]
	}

	hexLen := len(sig) - 2
	switch {
	case hexLen == SignatureLength*2:
		b, err := hexutil.Decode(sig)
		if err != nil {
			return sig
		}
		if v := b[SignatureLength-1]; v == 0 || v == 1 {
			return hexutil.Encode(fixRecoveryID(b))
		}
		return sig

	case hexLen > SignatureLength*2:
		b, err := hexutil.Decode(sig)
		if err != nil {
			return sig
		}
		candidate, ok := unwrapABIBytes(b)
		if !ok {
			candidate = append([]byte(nil), b[len(b)-SignatureLength:]...)
		}
		return hexutil.Encode(fixRecoveryID(candidate))
	}

	return sig
}

// unwrapABIBytes extracts the leading 65 bytes of an ABI-encoded dynamic bytes value.
// It reports false when the offset or length words are inconsistent with data.
func unwrapABIBytes(data []byte) ([]byte, bool) {
	if len(data) < abiWordSize {
		return nil, false
	}

	offset, ok := readWord(data, 0)
	if !ok {
		return nil, false
	}
	length, ok := readWord(data, offset)
	if !ok || length < SignatureLength {
		return nil, false
	}

	start := offset + abiWordSize
	if length > uint64(len(data)) || start+length > uint64(len(data)) {
		return nil, false
	}

	out := make([]byte, SignatureLength)
	copy(out, data[start:start+SignatureLength])
	return out, true
}

// readWord reads the big-endian 32-byte word at pos as a uint64.
// It reports false if the word runs past data or does not fit in 63 bits.
func readWord(data []byte, pos uint64) (uint64, bool) {
	if pos > uint64(len(data)) || uint64(len(data))-pos < abiWordSize {
		return 0, false
	}
	word := new(big.Int).SetBytes(data[pos : pos+abiWordSize])
	if !word.IsInt64() {
		return 0, false
	}
	return word.Uint64(), true
}

// fixRecoveryID rewrites a 0/1 recovery id to the Ethereum 27/28 form.
// sig must be 65 bytes; it is modified in place and returned.
func fixRecoveryID(sig []byte) []byte {
	if len(sig) != SignatureLength {
		return sig
	}
	if v := sig[SignatureLength-1]; v == 0 || v == 1 {
		sig[SignatureLength-1] = v + 27
	}
	return sig
}
