// Package decoder implements the decoder adapters: the boundary between
// codec bitstreams and the rest of the dataflow. Real codec libraries
// (H.264, a specific AAC implementation, hardware decode) are external
// collaborators; this package owns only the task lifecycle, PTS attachment
// and error handling around whatever Decoder a caller plugs in.
package decoder

import "github.com/ethan/mediacompositor/pkg/types"

// VideoDecoder is the codec adapter contract for video.
// Video decoders always know their behaviour at
// construction time, so there is no equivalent of AudioDecoder's deferred
// SampleRate.
type VideoDecoder interface {
	// Decode consumes one EncodedChunk and returns zero or more decoded
	// frames (a decoder may buffer internally, e.g. B-frame reordering).
	Decode(chunk types.EncodedChunk) ([]types.DecodedFrame, error)
	Close()
}

// AudioDecoder is the codec adapter contract for audio. Opus decoders know
// their output sample rate at construction (SampleRate is valid
// immediately); AAC decoders only discover the true rate after inspecting
// the first chunk, so SampleRate may return 0 until the first successful
// Decode call; callers must not treat 0 as an error by itself, only as
// "not yet known".
type AudioDecoder interface {
	Decode(chunk types.EncodedChunk) ([]types.DecodedSamples, error)
	// SampleRate returns the decoder's output sample rate, or 0 if it is
	// not yet known (AAC, before the first chunk).
	SampleRate() uint32
	Close()
}

// NewVideoDecoderFunc and NewAudioDecoderFunc are the pluggable
// constructors a real codec library would supply. RunVideo/RunAudio take
// the constructed decoder itself, so this package stays testable against a
// fake decoder without linking a real codec.
type NewVideoDecoderFunc func() (VideoDecoder, error)
type NewAudioDecoderFunc func() (AudioDecoder, error)
