package evm

import (
	"bytes"
	"encoding/hex"
	"math/rand"
	"strings"
	"testing"
)

func rawSignature(v byte) []byte {
	sig := make([]byte, 0, SignatureLength)
	sig = append(sig, bytes.Repeat([]byte{0x11}, 32)...)
	sig = append(sig, bytes.Repeat([]byte{0x22}, 32)...)
	return append(sig, v)
}

func word(n byte) []byte {
	w := make([]byte, 32)
	w[31] = n
	return w
}

// abiWrap builds offset || length || payload padded to a 32-byte multiple
func abiWrap(payload []byte, offset, length byte) []byte {
	out := append(word(offset), word(length)...)
	padded := make([]byte, (len(payload)+31)/32*32)
	copy(padded, payload)
	return append(out, padded...)
}

func TestNormalizeSignature_Raw(t *testing.T) {
	tests := []struct {
		name string
		v    byte
		want byte
	}{
		{"v=27 unchanged", 27, 27},
		{"v=28 unchanged", 28, 28},
		{"v=0 shifted", 0, 27},
		{"v=1 shifted", 1, 28},
		{"other v untouched", 5, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeSignature(BytesToHex(rawSignature(tt.v)))
			want := BytesToHex(rawSignature(tt.want))
			if got != want {
				t.Errorf("Expected %s, got %s", want, got)
			}
		})
	}
}

func TestNormalizeSignature_RawPropertyIdentity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		sig := make([]byte, SignatureLength)
		rng.Read(sig)
		sig[64] = 27 + byte(i%2)

		in := BytesToHex(sig)
		if got := NormalizeSignature(in); got != in {
			t.Fatalf("Expected identity for %s, got %s", in, got)
		}

		sig[64] = byte(i % 2)
		fixed := append([]byte(nil), sig...)
		fixed[64] += 27
		if got := NormalizeSignature(BytesToHex(sig)); got != BytesToHex(fixed) {
			t.Fatalf("Expected v shifted by 27 for %x, got %s", sig, got)
		}
	}
}

func TestNormalizeSignature_PrefixHandling(t *testing.T) {
	sig := rawSignature(27)
	bare := hex.EncodeToString(sig)

	if got := NormalizeSignature(bare); got != "0x"+bare {
		t.Errorf("Expected 0x prefix to be added, got %s", got)
	}
	if got := NormalizeSignature("0X" + bare); got != "0x"+bare {
		t.Errorf("Expected 0X prefix to be normalized, got %s", got)
	}
	if got := NormalizeSignatureBytes(sig); got != "0x"+bare {
		t.Errorf("Expected byte input to match hex input, got %s", got)
	}
}

func TestNormalizeSignature_ABIEncoded(t *testing.T) {
	t.Run("offset 0x20 length 0x41 recovers payload", func(t *testing.T) {
		payload := rawSignature(28)
		wrapped := abiWrap(payload, 0x20, 0x41)
		if len(wrapped) != 160 {
			t.Fatalf("Expected 160-byte wrapper, got %d", len(wrapped))
		}

		got := NormalizeSignature(BytesToHex(wrapped))
		if got != BytesToHex(payload) {
			t.Errorf("Expected %s, got %s", BytesToHex(payload), got)
		}
	})

	t.Run("recovered payload gets v fix", func(t *testing.T) {
		wrapped := abiWrap(rawSignature(0), 0x20, 0x41)
		got := NormalizeSignature(BytesToHex(wrapped))
		if got != BytesToHex(rawSignature(27)) {
			t.Errorf("Expected v=27 after unwrap, got %s", got)
		}
	})

	t.Run("longer payload keeps only the leading 65 bytes", func(t *testing.T) {
		payload := append(rawSignature(27), bytes.Repeat([]byte{0xee}, 31)...)
		wrapped := abiWrap(payload, 0x20, byte(len(payload)))
		got := NormalizeSignature(BytesToHex(wrapped))
		if got != BytesToHex(rawSignature(27)) {
			t.Errorf("Expected leading 65 bytes, got %s", got)
		}
	})

	t.Run("non-standard offset", func(t *testing.T) {
		// offset 0x40 with a spare head word in between
		payload := rawSignature(27)
		out := append(word(0x40), word(0x00)...)
		out = append(out, word(0x41)...)
		padded := make([]byte, 96)
		copy(padded, payload)
		out = append(out, padded...)

		if got := NormalizeSignature(BytesToHex(out)); got != BytesToHex(payload) {
			t.Errorf("Expected payload at offset 0x40, got %s", got)
		}
	})
}

func TestNormalizeSignature_TailFallback(t *testing.T) {
	tail := rawSignature(1)
	wantTail := BytesToHex(rawSignature(28))

	tests := []struct {
		name  string
		input []byte
	}{
		{
			name:  "declared length shorter than 65",
			input: append(append(word(0x20), word(0x40)...), append(bytes.Repeat([]byte{0x33}, 64), tail...)...),
		},
		{
			name:  "offset past end of input",
			input: append(word(0xff), tail...),
		},
		{
			name:  "length runs past end of input",
			input: append(append(word(0x20), word(0xc0)...), tail...),
		},
		{
			name:  "no ABI structure at all",
			input: append(bytes.Repeat([]byte{0xff}, 40), tail...),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeSignature(BytesToHex(tt.input)); got != wantTail {
				t.Errorf("Expected tail %s, got %s", wantTail, got)
			}
		})
	}
}

func TestNormalizeSignature_PassThrough(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", "0x"},
		{"64 bytes", BytesToHex(rawSignature(27)[:64]), BytesToHex(rawSignature(27)[:64])},
		{"invalid hex of raw length", "0x" + strings.Repeat("zz", 65), "0x" + strings.Repeat("zz", 65)},
		{"odd length long input", "0x" + strings.Repeat("a", 133), "0x" + strings.Repeat("a", 133)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeSignature(tt.input); got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestNormalizeSignature_Deterministic(t *testing.T) {
	in := BytesToHex(abiWrap(rawSignature(0), 0x20, 0x41))
	first := NormalizeSignature(in)
	for i := 0; i < 10; i++ {
		if got := NormalizeSignature(in); got != first {
			t.Fatalf("Expected deterministic output, got %s then %s", first, got)
		}
	}
}
