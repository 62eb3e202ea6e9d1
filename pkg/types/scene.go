package types

// Scene is an immutable per-update layout/shader description, owned by the
// controller. The renderer reads the currently active one atomically at the
// start of each tick. Its internal structure (layout tree, shader params) is
// the GPU renderer's concern (out of scope here); the core only needs to
// carry it through and decide *when* a scheduled Scene becomes active.
type Scene struct {
	// Opaque payload handed to the external renderer unmodified.
	Definition any
}

// MixStrategy is the post-sum processing applied to fit an audio mix into
// the i16 range.
type MixStrategy int

const (
	// SumClip clamps the accumulator to i16 range.
	SumClip MixStrategy = iota
	// SumScale finds the peak across the accumulator and, if it exceeds
	// i16::MAX, scales the whole buffer down uniformly before clamping.
	SumScale
)

// AudioChannels is the output channel layout of a mixed output.
type AudioChannels int

const (
	ChannelsMono AudioChannels = iota
	ChannelsStereo
)

// MixInput is one input's contribution to a MixSpec: its gain, which must
// lie in [0, 1]; the controller rejects other values at validation time.
type MixInput struct {
	Input  InputID
	Volume float64
}

// MixSpec is an output's immutable audio mix description, owned by the
// controller. The mixer reads the currently active one atomically at the
// start of each tick.
type MixSpec struct {
	Inputs   []MixInput
	Strategy MixStrategy
	Channels AudioChannels
}
