package types

import (
	"sync/atomic"
	"time"
)

// PixelFormat tags the payload carried by a DecodedFrame.
type PixelFormat int

const (
	PixelFormatYUV420P PixelFormat = iota // planar 4:2:0
	PixelFormatYUV422                     // interleaved 4:2:2
	PixelFormatTexture                    // opaque GPU-texture handle
)

// Resolution is a frame's width/height in pixels. The controller rejects
// odd values at registration time, since 4:2:0 subsampling needs both even.
type Resolution struct {
	Width  int
	Height int
}

// TextureHandle is an opaque, reference-counted GPU resource. The last
// holder to release it triggers the underlying free; never store a
// TextureHandle in a map keyed by InputID that outlives the input, since the
// input can disappear while an encoder is still draining the texture.
type TextureHandle struct {
	release func()
	refs    *int32
}

// NewTextureHandle wraps a GPU resource with one outstanding reference. Call
// release when the last holder drops it.
func NewTextureHandle(release func()) *TextureHandle {
	refs := int32(1)
	return &TextureHandle{release: release, refs: &refs}
}

// Retain increments the reference count and returns the same handle, for
// callers (e.g. an async encoder) that need to outlive the tick that handed
// them the frame.
func (h *TextureHandle) Retain() *TextureHandle {
	atomic.AddInt32(h.refs, 1)
	return h
}

// Release decrements the reference count, invoking the underlying release
// callback exactly once, when the last holder calls it.
func (h *TextureHandle) Release() {
	if atomic.AddInt32(h.refs, -1) == 0 && h.release != nil {
		h.release()
	}
}

// DecodedFrame is a single raw video frame produced by a decoder adapter.
// Ownership is exclusive unless the payload is texture-backed, in which case
// the underlying GPU resource is shared by reference count.
type DecodedFrame struct {
	Resolution Resolution
	PTS        time.Duration
	Format     PixelFormat

	// Planar/interleaved payload. Unused when Format is PixelFormatTexture.
	PlaneY, PlaneU, PlaneV []byte
	Interleaved            []byte

	// Populated when Format is PixelFormatTexture.
	Texture *TextureHandle
}

// FrameSet is the per-tick bundle produced by the synchronised queue for the
// video path. Keys are the inputs that have delivered at least one frame; an
// input with nothing pending carries its last delivered (frozen) frame, and
// an input absent from the map never delivered a frame.
type FrameSet struct {
	Frames map[InputID]DecodedFrame
	PTS    time.Duration
}
