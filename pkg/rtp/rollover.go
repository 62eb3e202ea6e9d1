// Package rtp implements the RTP depayload/payload half of the dataflow:
// H.264 (RFC 6184), Opus (RFC 7587) and AAC (RFC 3640) framing on top of
// pion/rtp, plus the 32-bit to 64-bit RTP timestamp extension every
// depayloader needs before it can hand a PTS to the rest of the pipeline.
package rtp

import "math"

// RolloverState extends a stream's 32-bit RTP timestamps into a monotonic
// 64-bit counter, so a PTS survives however many times the 32-bit clock
// wraps over the lifetime of a long-running input.
type RolloverState struct {
	previousTimestamp *uint32
	rolloverCount     uint64
}

// Timestamp feeds the next raw 32-bit RTP timestamp and returns the
// rollover-extended value. The first call just seeds state and returns the
// timestamp unchanged; every later call compares against the previous
// timestamp and bumps the rollover count when the jump is large enough that
// it can only be explained by a wrap (forward or, for a reordered packet
// arriving from just before the previous wrap, backward).
func (r *RolloverState) Timestamp(current uint32) uint64 {
	if r.previousTimestamp == nil {
		prev := current
		r.previousTimestamp = &prev
		return uint64(current)
	}

	previous := *r.previousTimestamp
	diff := absDiffU32(previous, current)
	if diff >= math.MaxUint32/2 {
		if previous > current {
			r.rolloverCount++
		} else if r.rolloverCount > 0 {
			r.rolloverCount--
		}
	}

	r.previousTimestamp = &current
	return r.rolloverCount*(uint64(math.MaxUint32)+1) + uint64(current)
}

func absDiffU32(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}
