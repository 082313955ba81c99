package eventlog

import (
	"context"
	"fmt"
	"sync"
)

// Store is the durable append-only backing for the log. Entries are keyed by
// the sequence number the log assigned; the log never acknowledges an append
// until the store has accepted it.
type Store interface {
	// Append persists the entry for seq. It must be atomic: either the whole
	// entry becomes readable or none of it does.
	Append(ctx context.Context, seq uint64, data []byte) error
	// ReadRange returns the raw entries for seq in [from, to], ascending.
	ReadRange(ctx context.Context, from, to uint64) ([][]byte, error)
	// LastSeq returns the highest stored sequence, or 0 for an empty store.
	LastSeq(ctx context.Context) (uint64, error)
}

// MemoryStore keeps entries in process memory. Used by tests and as a
// fallback when no durable backing is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries [][]byte // entries[i] holds seq i+1
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, seq uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != uint64(len(s.entries))+1 {
		return fmt.Errorf("memory store: non-contiguous append seq %d (have %d)", seq, len(s.entries))
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.entries = append(s.entries, cp)
	return nil
}

func (s *MemoryStore) ReadRange(_ context.Context, from, to uint64) ([][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if from == 0 {
		from = 1
	}
	last := uint64(len(s.entries))
	if to > last {
		to = last
	}
	if from > to {
		return nil, nil
	}
	out := make([][]byte, 0, to-from+1)
	for seq := from; seq <= to; seq++ {
		out = append(out, s.entries[seq-1])
	}
	return out, nil
}

func (s *MemoryStore) LastSeq(_ context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.entries)), nil
}
