package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/annel0/voxel-world/internal/vec"
)

// MemoryChunkStore keeps sealed records in memory. Used by tests and by
// servers started without a data directory; nothing survives a restart.
type MemoryChunkStore struct {
	mu      sync.RWMutex
	records map[vec.ChunkCoord][]byte
	corrupt []QuarantineEntry
	closed  bool
}

// NewMemoryChunkStore creates an empty store.
func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{records: make(map[vec.ChunkCoord][]byte)}
}

// SaveChunk stores blob for coord.
func (s *MemoryChunkStore) SaveChunk(ctx context.Context, coord vec.ChunkCoord, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec := seal(blob)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.records[coord] = rec
	return nil
}

// LoadChunk returns the blob stored for coord.
func (s *MemoryChunkStore) LoadChunk(ctx context.Context, coord vec.ChunkCoord) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	raw, ok := s.records[coord]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return openOrQuarantine(ctx, s, coord, raw)
}

// Quarantine moves data aside and drops the live record for coord.
func (s *MemoryChunkStore) Quarantine(ctx context.Context, coord vec.ChunkCoord, data []byte, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.records, coord)
	s.corrupt = append(s.corrupt, QuarantineEntry{
		Coord:  coord,
		At:     time.Now().UTC(),
		Reason: reason,
		Data:   append([]byte(nil), data...),
	})
	return nil
}

// Quarantined lists quarantined records, oldest first.
func (s *MemoryChunkStore) Quarantined(ctx context.Context) ([]QuarantineEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]QuarantineEntry(nil), s.corrupt...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// Corrupt overwrites the stored record for coord with raw bytes. Test and
// tooling helper.
func (s *MemoryChunkStore) Corrupt(ctx context.Context, coord vec.ChunkCoord, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[coord]; !ok {
		return ErrNotFound
	}
	s.records[coord] = raw
	return nil
}

// Len returns the number of live records.
func (s *MemoryChunkStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Close marks the store closed.
func (s *MemoryChunkStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
