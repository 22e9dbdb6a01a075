// Package worker implements the pipeline stages. Each worker is a pure
// function of the current run state that returns a sparse update; workers
// never mutate state directly and never decide routing.
package worker

import (
	"context"

	"foundry/pkg/proto"
)

// Worker is the contract every pipeline stage implements.
type Worker interface {
	// Stage returns the stage this worker implements.
	Stage() proto.Stage

	// Run produces a partial update from the current state. Worker-local
	// evaluation failures (unparsable generator output) are absorbed by the
	// fail-open decode and never returned as errors; only infrastructure
	// failures (the generation backend itself) surface here.
	Run(ctx context.Context, st *proto.RunState) (*proto.Update, error)
}
