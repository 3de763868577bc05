package wallet

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"
)

// DefaultChallengeTTL bounds how long an issued challenge stays valid.
const DefaultChallengeTTL = 5 * time.Minute

const challengePrompt = "gigflow wallet auth: sign this one-time nonce %s"

type challengeEntry struct {
	text      string
	createdAt time.Time
}

// ChallengeStore issues and consumes short-lived wallet-auth challenges.
// It is an in-process map: with more than one instance behind a balancer it
// must be replaced by a shared store, or verification will land on an
// instance that never issued the challenge.
type ChallengeStore struct {
	mu      sync.Mutex
	entries map[string]challengeEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewChallengeStore creates a challenge store with the given TTL. A zero
// ttl falls back to DefaultChallengeTTL.
func NewChallengeStore(ttl time.Duration) *ChallengeStore {
	if ttl <= 0 {
		ttl = DefaultChallengeTTL
	}
	return &ChallengeStore{
		entries: make(map[string]challengeEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// NormalizeAddress canonicalizes a wallet address for keying.
func NormalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Issue creates and stores a fresh challenge for the address, replacing any
// previous one.
func (s *ChallengeStore) Issue(address string) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("wallet: generate nonce: %w", err)
	}
	text := fmt.Sprintf(challengePrompt, hex.EncodeToString(nonce))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
	s.entries[NormalizeAddress(address)] = challengeEntry{
		text:      text,
		createdAt: s.now(),
	}
	return text, nil
}

// Peek returns the live challenge for the address without consuming it.
// Expired entries are evicted and reported as absent.
func (s *ChallengeStore) Peek(address string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := NormalizeAddress(address)
	entry, ok := s.entries[key]
	if !ok {
		return "", false
	}
	if s.now().Sub(entry.createdAt) > s.ttl {
		delete(s.entries, key)
		return "", false
	}
	return entry.text, true
}

// Consume deletes the challenge for the address. Called exactly once, on
// successful verification.
func (s *ChallengeStore) Consume(address string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, NormalizeAddress(address))
}

func (s *ChallengeStore) evictExpiredLocked() {
	cutoff := s.now().Add(-s.ttl)
	for key, entry := range s.entries {
		if entry.createdAt.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}
