// Package checkpoint provides durable, keyed persistence of run state with
// atomic last-write-wins saves and point-in-time retrieval.
package checkpoint

import (
	"context"
	"errors"

	"foundry/pkg/proto"
)

// ErrNotFound indicates no checkpoint exists for the requested run id.
var ErrNotFound = errors.New("checkpoint not found")

// ErrCorrupt indicates a stored checkpoint failed its integrity check.
var ErrCorrupt = errors.New("checkpoint corrupt")

// Store persists run state keyed by run id. Save is atomic and durable
// before returning; a Load immediately after a crash mid-step returns the
// state as of the last completed Save, never a partial update. Concurrent
// saves for the same run id are serialized by the implementation.
type Store interface {
	// Save persists the state and returns the new per-run sequence number.
	Save(ctx context.Context, st *proto.RunState) (int64, error)

	// Load returns the last saved state for the run, or ErrNotFound.
	Load(ctx context.Context, runID string) (*proto.RunState, error)

	// Close releases the underlying storage handle.
	Close() error
}
