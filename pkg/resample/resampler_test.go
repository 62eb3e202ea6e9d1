package resample

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethan/mediacompositor/pkg/types"
)

func TestPassthroughIsIdentity(t *testing.T) {
	r := New(slog.New(slog.DiscardHandler), 48000, 48000)
	in := types.DecodedSamples{
		StartPTS:   0,
		SampleRate: 48000,
		Stereo: []types.StereoSample{
			{L: 1, R: 2}, {L: 3, R: 4}, {L: 5, R: 6},
		},
	}
	out := r.Push(in)
	require.Len(t, out, 1)
	require.Equal(t, in.Stereo, out[0].Samples)
	require.Equal(t, in.StartPTS, out[0].StartPTS)
	require.Equal(t, uint32(48000), out[0].SampleRate)
}

func TestPassthroughUpmixesMonoToStereo(t *testing.T) {
	r := New(slog.New(slog.DiscardHandler), 16000, 16000)
	in := types.DecodedSamples{SampleRate: 16000, Mono: []int16{10, 20}}
	out := r.Push(in)
	require.Len(t, out, 1)
	require.Equal(t, []types.StereoSample{{L: 10, R: 10}, {L: 20, R: 20}}, out[0].Samples)
}

func TestLinearResamplerGapFill(t *testing.T) {
	r := NewLinearResampler(slog.New(slog.DiscardHandler), 48000)

	// First batch: one full 20ms batch worth of silence-ish samples at the
	// same rate as output, so interpolation is exact. drain needs one input
	// sample beyond a batch's span before emitting it, so this exact batch
	// stays buffered.
	batch := 48000 * 20 / 1000
	first := make([]types.StereoSample, batch)
	for i := range first {
		first[i] = types.StereoSample{L: 100, R: 100}
	}
	out := r.Push(types.DecodedSamples{StartPTS: 0, SampleRate: 48000, Stereo: first})
	require.Len(t, out, 0)

	// Second batch starts at 40ms (a 20ms gap beyond the expected next
	// sample): the gap is filled with round(0.020 * 48000) zeros before
	// batch 2's real data. That releases the buffered first batch and one
	// all-zero output batch; batch 2's own samples stay buffered.
	gapStart := 40 * time.Millisecond
	second := make([]types.StereoSample, batch)
	for i := range second {
		second[i] = types.StereoSample{L: 50, R: 50}
	}
	out = r.Push(types.DecodedSamples{StartPTS: gapStart, SampleRate: 48000, Stereo: second})
	require.Len(t, out, 2)
	for _, s := range out[1].Samples {
		require.Equal(t, types.StereoSample{L: 0, R: 0}, s)
	}
}

func TestClampI16(t *testing.T) {
	require.Equal(t, int16(32767), clampI16(1e9))
	require.Equal(t, int16(-32768), clampI16(-1e9))
	require.Equal(t, int16(42), clampI16(42))
}
