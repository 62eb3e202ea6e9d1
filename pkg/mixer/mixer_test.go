package mixer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethan/mediacompositor/pkg/types"
)

func tickSet(rate uint32, start time.Duration, inputs map[types.InputID][]int16) types.InputSamplesSet {
	end := start + 20*time.Millisecond
	samples := make(map[types.InputID][]types.InputSamples)
	for id, vals := range inputs {
		stereo := make([]types.StereoSample, len(vals))
		for i, v := range vals {
			stereo[i] = types.StereoSample{L: v, R: v}
		}
		samples[id] = []types.InputSamples{{StartPTS: start, SampleRate: rate, Samples: stereo}}
	}
	return types.InputSamplesSet{Samples: samples, StartPTS: start, EndPTS: end}
}

func TestMixerExactLength(t *testing.T) {
	rate := uint32(48000)
	spec := types.MixSpec{
		Inputs:   []types.MixInput{{Input: "a", Volume: 1.0}},
		Strategy: types.SumClip,
		Channels: types.ChannelsStereo,
	}
	m := New(rate, spec)
	set := tickSet(rate, 0, map[types.InputID][]int16{"a": {100, 200, 300}})
	out := m.Mix(set)
	require.Equal(t, int(expectedSampleCount(0, 20*time.Millisecond, rate)), len(out.Samples))
}

func TestMixerLinearity(t *testing.T) {
	rate := uint32(48000)
	inputs := map[types.InputID][]int16{"a": {1000, -2000, 3000}, "b": {500, 500, -500}}

	unscaled := types.MixSpec{
		Inputs:   []types.MixInput{{Input: "a", Volume: 0.4}, {Input: "b", Volume: 0.6}},
		Strategy: types.SumClip,
		Channels: types.ChannelsStereo,
	}
	scaled := types.MixSpec{
		Inputs:   []types.MixInput{{Input: "a", Volume: 0.4 * 0.5}, {Input: "b", Volume: 0.6 * 0.5}},
		Strategy: types.SumClip,
		Channels: types.ChannelsStereo,
	}

	m1 := New(rate, unscaled)
	out1 := m1.Mix(tickSet(rate, 0, inputs))

	m2 := New(rate, scaled)
	out2 := m2.Mix(tickSet(rate, 0, inputs))

	for i := range out1.Samples[:3] {
		require.InDelta(t, float64(out1.Samples[i].L)*0.5, float64(out2.Samples[i].L), 1)
	}
}

func TestMixerSumScaleAvoidsClipping(t *testing.T) {
	rate := uint32(48000)
	spec := types.MixSpec{
		Inputs:   []types.MixInput{{Input: "a", Volume: 1.0}, {Input: "b", Volume: 1.0}},
		Strategy: types.SumScale,
		Channels: types.ChannelsStereo,
	}
	m := New(rate, spec)
	out := m.Mix(tickSet(rate, 0, map[types.InputID][]int16{
		"a": {30000}, "b": {30000},
	}))
	require.LessOrEqual(t, int(out.Samples[0].L), 32767)
}

func TestMixerMonoReduction(t *testing.T) {
	rate := uint32(48000)
	spec := types.MixSpec{
		Inputs:   []types.MixInput{{Input: "a", Volume: 1.0}},
		Strategy: types.SumClip,
		Channels: types.ChannelsMono,
	}
	m := New(rate, spec)
	out := m.Mix(tickSet(rate, 0, map[types.InputID][]int16{"a": {100}}))
	require.Equal(t, out.Samples[0].L, out.Samples[0].R)
}
