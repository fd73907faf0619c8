package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/annel0/voxel-world/internal/vec"
)

// MemoryPositionRepo implements PositionRepo in memory. It is the fallback
// when neither Redis nor MariaDB is configured. Data is lost on restart.
type MemoryPositionRepo struct {
	mu   sync.RWMutex
	data map[string]vec.Vec3
}

// NewMemoryPositionRepo creates an empty repository.
func NewMemoryPositionRepo() *MemoryPositionRepo {
	return &MemoryPositionRepo{
		data: make(map[string]vec.Vec3),
	}
}

// Save records a participant position.
func (r *MemoryPositionRepo) Save(ctx context.Context, participant string, pos vec.Vec3) error {
	if err := validateParticipant(participant); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[participant] = pos
	return nil
}

// Load returns a participant position.
func (r *MemoryPositionRepo) Load(ctx context.Context, participant string) (vec.Vec3, bool, error) {
	if err := validateParticipant(participant); err != nil {
		return vec.Vec3{}, false, err
	}
	if err := ctx.Err(); err != nil {
		return vec.Vec3{}, false, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	pos, ok := r.data[participant]
	return pos, ok, nil
}

// Delete removes a participant position.
func (r *MemoryPositionRepo) Delete(ctx context.Context, participant string) error {
	if err := validateParticipant(participant); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[participant]; !ok {
		return fmt.Errorf("position for %s: %w", participant, ErrNotFound)
	}
	delete(r.data, participant)
	return nil
}

// BatchSave records several positions. Either all are stored or none.
func (r *MemoryPositionRepo) BatchSave(ctx context.Context, positions map[string]vec.Vec3) error {
	for participant := range positions {
		if err := validateParticipant(participant); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for participant, pos := range positions {
		r.data[participant] = pos
	}
	return nil
}

// Count returns the number of stored positions.
func (r *MemoryPositionRepo) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}
