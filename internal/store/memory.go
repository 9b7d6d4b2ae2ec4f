package store

import "encoding/json"

// MemoryStore holds all mock-ses-server state in memory. One instance
// belongs to one running server; nothing else mutates its members
// directly.
type MemoryStore struct {
	Mailbox  *Mailbox
	Failures *FailureQueue
	Clock    *Clock
}

// New creates a MemoryStore with empty state.
func New() *MemoryStore {
	return &MemoryStore{
		Mailbox:  NewMailbox(),
		Failures: NewFailureQueue(),
		Clock:    NewClock(),
	}
}

// stateSnapshot is the JSON-serializable state for admin endpoints.
type stateSnapshot struct {
	Messages        []Message `json:"messages"`
	PendingFailures []bool    `json:"pending_failures"`
}

// Snapshot returns the full state as a JSON-serializable value.
func (s *MemoryStore) Snapshot() any {
	return stateSnapshot{
		Messages:        s.Mailbox.Snapshot(),
		PendingFailures: s.Failures.Pending(),
	}
}

// LoadState replaces the full state from a JSON body.
func (s *MemoryStore) LoadState(data []byte) error {
	var snap stateSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return err
	}
	s.Mailbox.LoadSnapshot(snap.Messages)
	s.Failures.Load(snap.PendingFailures)
	return nil
}

// Reset clears all state.
func (s *MemoryStore) Reset() {
	s.Mailbox.Reset()
	s.Failures.Reset()
	s.Clock.Reset()
}
