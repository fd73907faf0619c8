package world

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by storage, meshing, the chunk manager and replication.
var (
	// ErrOutOfBounds is a programming or input error; coordinates are never clamped.
	ErrOutOfBounds = errors.New("local index out of chunk bounds")
	// ErrChunkNotLoaded is transient: retry once the chunk is loaded.
	ErrChunkNotLoaded = errors.New("chunk not loaded")
	// ErrNotReady is retried by the chunk manager and never surfaced to gameplay.
	ErrNotReady = errors.New("chunk not ready")
	// ErrEditRejected matches every *EditRejectedError.
	ErrEditRejected = errors.New("edit rejected")
	// ErrReplicationDesync triggers a full chunk resync.
	ErrReplicationDesync = errors.New("replication desync")
	// ErrNotFound means no persisted data exists; the generator takes over.
	ErrNotFound = errors.New("chunk not found")
	// ErrCorruptBlob marks a blob that failed validation.
	ErrCorruptBlob = errors.New("corrupt chunk blob")
	// ErrInvalidTransition is returned for a load-state change the state machine forbids.
	ErrInvalidTransition = errors.New("invalid load-state transition")
)

// RejectReason is the wire code sent back to a participant whose edit was refused.
type RejectReason uint8

const (
	ReasonNone RejectReason = iota
	ReasonOccupied
	ReasonProtected
	ReasonUnknownBlock
	ReasonNoChange
	ReasonOutOfReach
	ReasonChunkNotLoaded
	ReasonOutOfBounds
	ReasonInternal
)

func (r RejectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonOccupied:
		return "occupied"
	case ReasonProtected:
		return "protected"
	case ReasonUnknownBlock:
		return "unknown_block"
	case ReasonNoChange:
		return "no_change"
	case ReasonOutOfReach:
		return "out_of_reach"
	case ReasonChunkNotLoaded:
		return "chunk_not_loaded"
	case ReasonOutOfBounds:
		return "out_of_bounds"
	case ReasonInternal:
		return "internal"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}

// EditRejectedError reports a gameplay rule violation.
type EditRejectedError struct {
	Reason RejectReason
}

func (e *EditRejectedError) Error() string {
	return fmt.Sprintf("edit rejected: %s", e.Reason)
}

// Is makes errors.Is(err, ErrEditRejected) true for every rejection.
func (e *EditRejectedError) Is(target error) bool {
	return target == ErrEditRejected
}

// Rejected builds an EditRejectedError.
func Rejected(reason RejectReason) error {
	return &EditRejectedError{Reason: reason}
}

// ReasonOf maps an edit error to its wire reason code.
func ReasonOf(err error) RejectReason {
	var rej *EditRejectedError
	switch {
	case err == nil:
		return ReasonNone
	case errors.As(err, &rej):
		return rej.Reason
	case errors.Is(err, ErrChunkNotLoaded):
		return ReasonChunkNotLoaded
	case errors.Is(err, ErrOutOfBounds):
		return ReasonOutOfBounds
	default:
		return ReasonInternal
	}
}
