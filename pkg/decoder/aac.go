package decoder

import (
	"fmt"

	"github.com/ethan/mediacompositor/pkg/types"
)

// AACDecodeFunc is the external AAC decode primitive. Unlike Opus, the
// output sample rate is only certain once the decoder has inspected the
// first access unit (it may differ from the ASC's nominal rate with some
// encoders' SBR/PS extensions), so the func reports it alongside the first
// batch of samples.
type AACDecodeFunc func(accessUnit []byte) (mono []int16, stereo []types.StereoSample, sampleRate uint32, err error)

// AACAdapter wraps an external AAC decoder whose true sample rate is
// learned from the bitstream rather than known up front. NewAACAdapter
// therefore returns Ok optimistically; a first-Decode failure is the
// caller's signal to treat initialisation as fatal (log + EOS on that
// input's audio side), not a panic here.
type AACAdapter struct {
	decode     AACDecodeFunc
	sampleRate uint32 // 0 until resolved by the first successful Decode
}

// NewAACAdapter never fails on the sample-rate question; it only rejects a
// nil decode func.
func NewAACAdapter(decode AACDecodeFunc) (*AACAdapter, error) {
	if decode == nil {
		return nil, fmt.Errorf("aac adapter: decode function is nil")
	}
	return &AACAdapter{decode: decode}, nil
}

// SampleRate returns 0 until the first successful Decode call resolves it.
func (a *AACAdapter) SampleRate() uint32 { return a.sampleRate }

func (a *AACAdapter) Decode(chunk types.EncodedChunk) ([]types.DecodedSamples, error) {
	mono, stereo, rate, err := a.decode(chunk.Data)
	if err != nil {
		return nil, err
	}
	a.sampleRate = rate
	return []types.DecodedSamples{{
		StartPTS:   chunk.PTS,
		SampleRate: rate,
		Mono:       mono,
		Stereo:     stereo,
	}}, nil
}

func (a *AACAdapter) Close() {}
