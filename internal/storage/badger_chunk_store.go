package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/annel0/voxel-world/internal/logging"
	"github.com/annel0/voxel-world/internal/vec"
)

// BadgerChunkStore keeps chunk records in BadgerDB under "chunk:x:y:z" and
// quarantined records under "corrupt:x:y:z:unixnano".
type BadgerChunkStore struct {
	db      *badger.DB
	dbPath  string
	mutex   sync.RWMutex
	isReady bool
	logger  *logging.Logger
}

// NewBadgerChunkStore opens (or creates) the store under dataPath/chunks.
func NewBadgerChunkStore(dataPath string) (*BadgerChunkStore, error) {
	dbPath := filepath.Join(dataPath, "chunks")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dbPath, err)
	}

	return &BadgerChunkStore{
		db:      db,
		dbPath:  dbPath,
		isReady: true,
		logger:  logging.GetStorageLogger(),
	}, nil
}

// Close closes the database.
func (s *BadgerChunkStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.isReady {
		return nil
	}
	s.isReady = false
	return s.db.Close()
}

// SaveChunk stores blob for coord.
func (s *BadgerChunkStore) SaveChunk(ctx context.Context, coord vec.ChunkCoord, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.isReady {
		return ErrClosed
	}

	rec := seal(blob)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chunkKey(coord), rec)
	})
	if err != nil {
		return fmt.Errorf("save chunk %s: %w", coord, err)
	}
	return nil
}

// LoadChunk returns the blob stored for coord.
func (s *BadgerChunkStore) LoadChunk(ctx context.Context, coord vec.ChunkCoord) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mutex.RLock()
	if !s.isReady {
		s.mutex.RUnlock()
		return nil, ErrClosed
	}

	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(chunkKey(coord))
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	s.mutex.RUnlock()

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", coord, err)
	}
	return openOrQuarantine(ctx, s, coord, raw)
}

// Quarantine moves data to the corrupt keyspace and deletes the live record
// in the same transaction.
func (s *BadgerChunkStore) Quarantine(ctx context.Context, coord vec.ChunkCoord, data []byte, reason string) error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.isReady {
		return ErrClosed
	}

	entry := QuarantineEntry{Coord: coord, At: time.Now().UTC(), Reason: reason, Data: data}
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode quarantine entry: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(quarantineKey(coord, entry.At), val); err != nil {
			return err
		}
		return txn.Delete(chunkKey(coord))
	})
	if err != nil {
		return fmt.Errorf("quarantine chunk %s: %w", coord, err)
	}
	s.logger.Warn("⚠️ chunk %s quarantined: %s", coord, reason)
	return nil
}

// Quarantined lists quarantined records in key order.
func (s *BadgerChunkStore) Quarantined(ctx context.Context) ([]QuarantineEntry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if !s.isReady {
		return nil, ErrClosed
	}

	var out []QuarantineEntry
	prefix := []byte("corrupt:")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var e QuarantineEntry
				if err := json.Unmarshal(val, &e); err != nil {
					return err
				}
				out = append(out, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list quarantine: %w", err)
	}
	return out, nil
}

// Corrupt overwrites the live record with raw bytes. Tooling helper for
// exercising the recovery path.
func (s *BadgerChunkStore) Corrupt(ctx context.Context, coord vec.ChunkCoord, raw []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(chunkKey(coord), raw)
	})
}
