package x402

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// NonceLedger remembers issued authorization nonces so that a nonce is never
// handed out twice for the same payer, asset and chain while it could still be
// redeemed. Entries expire once the authorization they belong to has expired.
type NonceLedger struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	writes int
	now    func() time.Time
}

// cleanupInterval is how many reservations pass between expiry sweeps
const cleanupInterval = 256

// NewNonceLedger creates an empty ledger
func NewNonceLedger() *NonceLedger {
	return &NonceLedger{
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

// GenerateNonceKey creates the ledger key for a nonce scoped to payer, asset and chain.
// Addresses are compared case-insensitively.
func GenerateNonceKey(from, asset, chainID, nonce string) string {
	parts := []string{
		strings.ToLower(from),
		strings.ToLower(asset),
		chainID,
		strings.ToLower(nonce),
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}

// Reserve atomically records key for ttl.
// It returns false if key is already reserved and not yet expired.
func (l *NonceLedger) Reserve(key string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	expiresAt := now.Add(ttl)
	if expiry, exists := l.expiry[key]; exists && now.Before(expiry) {
		return false
	}

	l.expiry[key] = expiresAt
	l.writes++
	if l.writes%cleanupInterval == 0 {
		l.cleanupExpiredLocked(now)
	}
	return true
}

// Contains reports whether key is currently reserved
func (l *NonceLedger) Contains(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	expiry, exists := l.expiry[key]
	if !exists {
		return false
	}
	if !l.now().Before(expiry) {
		delete(l.expiry, key)
		return false
	}
	return true
}

// Len returns the number of live reservations
func (l *NonceLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanupExpiredLocked(l.now())
	return len(l.expiry)
}

// cleanupExpiredLocked removes expired entries. Must be called with lock held.
func (l *NonceLedger) cleanupExpiredLocked(now time.Time) {
	for key, expiry := range l.expiry {
		if !now.Before(expiry) {
			delete(l.expiry, key)
		}
	}
}
