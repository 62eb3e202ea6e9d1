package types

import "time"

// VideoCodec enumerates supported video codecs. Only H.264 is implemented;
// the type exists so EncodedChunkKind can grow new codecs without touching
// every call site.
type VideoCodec int

const (
	VideoCodecH264 VideoCodec = iota
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecH264:
		return "h264"
	default:
		return "unknown"
	}
}

// AudioCodec enumerates supported audio codecs.
type AudioCodec int

const (
	AudioCodecOpus AudioCodec = iota
	AudioCodecAAC
)

func (c AudioCodec) String() string {
	switch c {
	case AudioCodecOpus:
		return "opus"
	case AudioCodecAAC:
		return "aac"
	default:
		return "unknown"
	}
}

// MediaKind distinguishes the two dataflow halves without reaching for a
// codec value.
type MediaKind int

const (
	MediaVideo MediaKind = iota
	MediaAudio
)

// Keyframe hints the nature of a video access unit's dependency chain.
// Audio chunks and codecs with no keyframe concept use KeyframeUnknown or
// KeyframeNotApplicable.
type Keyframe int

const (
	KeyframeUnknown Keyframe = iota
	KeyframeYes
	KeyframeNo
	KeyframeNotApplicable // codec has no keyframe concept (e.g. Opus)
)

// EncodedChunkKind tags an EncodedChunk with its media type and codec.
type EncodedChunkKind struct {
	Media MediaKind
	Video VideoCodec
	Audio AudioCodec
}

func VideoChunkKind(codec VideoCodec) EncodedChunkKind {
	return EncodedChunkKind{Media: MediaVideo, Video: codec}
}

func AudioChunkKind(codec AudioCodec) EncodedChunkKind {
	return EncodedChunkKind{Media: MediaAudio, Audio: codec}
}

// EncodedChunk is a single codec access unit: one coded video frame, or one
// AAC/Opus audio frame. PTS/DTS are durations from the pipeline epoch.
//
// Invariant: when DTS is set, PTS >= DTS.
type EncodedChunk struct {
	Kind     EncodedChunkKind
	Data     []byte
	PTS      time.Duration
	DTS      *time.Duration
	Keyframe Keyframe
}
