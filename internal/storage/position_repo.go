package storage

import (
	"context"
	"fmt"

	"github.com/annel0/voxel-world/internal/vec"
)

// PositionRepo stores the last known world position of each participant so
// that interest sets can be restored when a participant reconnects.
// Positions are keyed by the participant id, which outlives a session.
type PositionRepo interface {
	// Save records the position of a participant, replacing any earlier one.
	// Parameters:
	//   ctx - cancels the write
	//   participant - non-empty id of at most 64 bytes
	//   pos - world position in voxels
	// Returns:
	//   error - invalid id or a backend failure
	Save(ctx context.Context, participant string, pos vec.Vec3) error

	// Load reads the stored position of a participant.
	// Parameters:
	//   ctx - cancels the read
	//   participant - non-empty id of at most 64 bytes
	// Returns:
	//   pos - the stored position, zero when not found
	//   found - false on first login
	//   err - invalid id or a backend failure; a missing row is not an error
	Load(ctx context.Context, participant string) (pos vec.Vec3, found bool, err error)

	// Delete removes the stored position. Deleting an unknown participant
	// is not an error.
	// Parameters:
	//   ctx - cancels the write
	//   participant - non-empty id of at most 64 bytes
	// Returns:
	//   error - invalid id or a backend failure
	Delete(ctx context.Context, participant string) error

	// BatchSave records several positions at once, used by the periodic
	// autosave. An empty map is a no-op.
	// Parameters:
	//   ctx - cancels the write
	//   positions - participant id to position
	// Returns:
	//   error - the first invalid id or backend failure; backends that
	//   support transactions write all or nothing
	BatchSave(ctx context.Context, positions map[string]vec.Vec3) error
}

const maxParticipantLen = 64

func validateParticipant(participant string) error {
	if participant == "" || len(participant) > maxParticipantLen {
		return fmt.Errorf("invalid participant id %q", participant)
	}
	return nil
}
