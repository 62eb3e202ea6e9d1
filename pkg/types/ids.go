// Package types holds the data model shared by every stage of the
// compositor dataflow: chunks and frames produced by decoders, the per-tick
// bundles produced by the synchronised queue, and the scene/mix descriptions
// owned by the controller.
package types

import "github.com/google/uuid"

// InputID identifies a registered input. Opaque, unique for the lifetime of
// a running pipeline, never reused.
type InputID string

// OutputID identifies a registered output. Same uniqueness guarantees as
// InputID.
type OutputID string

// NewInputID generates an InputID for callers that don't supply their own.
func NewInputID() InputID {
	return InputID(uuid.NewString())
}

// NewOutputID generates an OutputID for callers that don't supply their own.
func NewOutputID() OutputID {
	return OutputID(uuid.NewString())
}
