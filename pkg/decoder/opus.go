package decoder

import (
	"fmt"

	"github.com/ethan/mediacompositor/pkg/types"
)

// OpusDecodeFunc is the external Opus decode primitive (e.g. a cgo binding
// to libopus): one compressed packet in, one batch of interleaved or mono
// PCM samples at a fixed rate out. This package never links libopus
// itself; OpusAdapter just attaches PTS and fits the AudioDecoder contract
// around it.
type OpusDecodeFunc func(packet []byte) (mono []int16, stereo []types.StereoSample, err error)

// OpusAdapter wraps an external Opus decoder. The output sample rate is
// always known at construction, so NewOpusAdapter can never fail for a
// rate reason; only a nil decode func is rejected.
type OpusAdapter struct {
	decode     OpusDecodeFunc
	sampleRate uint32
}

// NewOpusAdapter builds an adapter reporting sampleRate immediately.
func NewOpusAdapter(decode OpusDecodeFunc, sampleRate uint32) (*OpusAdapter, error) {
	if decode == nil {
		return nil, fmt.Errorf("opus adapter: decode function is nil")
	}
	if sampleRate == 0 {
		return nil, fmt.Errorf("opus adapter: sample rate must be positive")
	}
	return &OpusAdapter{decode: decode, sampleRate: sampleRate}, nil
}

func (a *OpusAdapter) SampleRate() uint32 { return a.sampleRate }

func (a *OpusAdapter) Decode(chunk types.EncodedChunk) ([]types.DecodedSamples, error) {
	mono, stereo, err := a.decode(chunk.Data)
	if err != nil {
		return nil, err
	}
	return []types.DecodedSamples{{
		StartPTS:   chunk.PTS,
		SampleRate: a.sampleRate,
		Mono:       mono,
		Stereo:     stereo,
	}}, nil
}

func (a *OpusAdapter) Close() {}
