// Package relay lets large binary attachments cross the tool-call boundary
// by reference. Tool-call arguments have a practical size limit, so inbound
// attachments are parked in a process-wide store and replaced with short
// opaque tokens; the full payload is resolved exactly once, at the moment
// the tool executes.
package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by Take when a token is unknown or was already
// consumed. The two cases are indistinguishable on purpose: single use is
// the invariant.
var ErrNotFound = errors.New("relay: pointer not found")

// PendingAttachment is one parked payload awaiting resolution.
type PendingAttachment struct {
	Payload   string // base64 data, no data-URL prefix
	MediaType string
	storedAt  time.Time
}

// PointerStore is a process-wide key/payload map with single-use read
// semantics. Put registers a payload under a fresh token; Take removes and
// returns it. Under concurrent Take calls on one token exactly one caller
// observes the payload, all others observe ErrNotFound.
//
// Entries have no automatic expiry. A token the agent never spends is a
// bounded leak tied to process lifetime; Sweep exists for deployments that
// want to reclaim those.
type PointerStore struct {
	mu      sync.Mutex
	entries map[string]PendingAttachment
}

// NewPointerStore creates an empty store.
func NewPointerStore() *PointerStore {
	return &PointerStore{
		entries: make(map[string]PendingAttachment),
	}
}

// Put registers a payload and returns its token. Tokens are unique for the
// process lifetime; Put never overwrites an existing entry.
func (s *PointerStore) Put(payload, mediaType string) string {
	token := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[token] = PendingAttachment{
		Payload:   payload,
		MediaType: mediaType,
		storedAt:  time.Now(),
	}
	return token
}

// Take removes and returns the entry for token. The delete happens under
// the same lock as the lookup, so a second Take (concurrent or later)
// always observes ErrNotFound.
func (s *PointerStore) Take(token string) (PendingAttachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[token]
	if !ok {
		return PendingAttachment{}, ErrNotFound
	}
	delete(s.entries, token)
	return entry, nil
}

// Len returns the number of un-taken entries.
func (s *PointerStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep removes entries older than maxAge and returns how many were
// dropped. A non-positive maxAge is a no-op.
func (s *PointerStore) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()

	dropped := 0
	for token, entry := range s.entries {
		if entry.storedAt.Before(cutoff) {
			delete(s.entries, token)
			dropped++
		}
	}
	return dropped
}
