package queue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethan/mediacompositor/pkg/types"
)

func TestSelectVideoFrameFreezesWhenNothingPending(t *testing.T) {
	b := newInputBuffer("a", InputConfig{})
	last := types.DecodedFrame{PTS: 5 * time.Millisecond}
	b.lastVideoFrame = &last

	f, ok := b.selectVideoFrame(100*time.Millisecond, 33*time.Millisecond, false)
	require.True(t, ok)
	require.Equal(t, last, f)
}

func TestSelectVideoFrameAbsentWhenNeverDelivered(t *testing.T) {
	b := newInputBuffer("a", InputConfig{})
	_, ok := b.selectVideoFrame(100*time.Millisecond, 33*time.Millisecond, false)
	require.False(t, ok)
}

func TestSelectVideoFramePicksClosestAndDropsStale(t *testing.T) {
	b := newInputBuffer("a", InputConfig{})
	b.pushVideo(types.DecodedFrame{PTS: 0})
	b.pushVideo(types.DecodedFrame{PTS: 10 * time.Millisecond})
	b.pushVideo(types.DecodedFrame{PTS: 33 * time.Millisecond})

	period := 33 * time.Millisecond
	f, ok := b.selectVideoFrame(34*time.Millisecond, period, false)
	require.True(t, ok)
	require.Equal(t, 33*time.Millisecond, f.PTS)
	// Frame at PTS 0 is older than t-period (1ms) and was never selected:
	// dropped. Frame at 10ms is not older than t-period, so it is the only
	// frame left pending.
	require.Len(t, b.videoPending, 1)
	require.Equal(t, 10*time.Millisecond, b.videoPending[0].PTS)
}

func TestSelectVideoFrameNeverDropUsesOldest(t *testing.T) {
	b := newInputBuffer("a", InputConfig{})
	b.pushVideo(types.DecodedFrame{PTS: 0})
	b.pushVideo(types.DecodedFrame{PTS: 10 * time.Millisecond})

	f, ok := b.selectVideoFrame(500*time.Millisecond, 33*time.Millisecond, true)
	require.True(t, ok)
	require.Equal(t, time.Duration(0), f.PTS)
	require.Len(t, b.videoPending, 1)
	require.Equal(t, 10*time.Millisecond, b.videoPending[0].PTS)
}

func TestProduceAudioInputExactLength(t *testing.T) {
	rate := uint32(48000)
	want := wantedSampleCount(0, AudioTickPeriod, rate)

	batches := []types.InputSamples{
		{StartPTS: 0, SampleRate: rate, Samples: make([]types.StereoSample, want/2)},
	}
	out := produceAudioInput(batches, 0, AudioTickPeriod, rate, nil)
	require.Len(t, out, want)
}

func TestProduceAudioInputGapFill(t *testing.T) {
	rate := uint32(48000)
	end := AudioTickPeriod
	half := wantedSampleCount(0, end, rate) / 2
	batches := []types.InputSamples{
		{StartPTS: end / 2, SampleRate: rate, Samples: make([]types.StereoSample, half)},
	}
	out := produceAudioInput(batches, 0, end, rate, nil)
	require.Len(t, out, wantedSampleCount(0, end, rate))
	for i := 0; i < half; i++ {
		require.Equal(t, types.StereoSample{}, out[i])
	}
}

func TestMapPTSWithExplicitOffset(t *testing.T) {
	offset := 500 * time.Millisecond
	b := newInputBuffer("a", InputConfig{Offset: &offset})
	got := b.mapPTS(10*time.Second, 2*time.Second)
	require.Equal(t, 2*time.Second+offset, got)
}

func TestMapPTSAutoPhaseOnFirstData(t *testing.T) {
	b := newInputBuffer("a", InputConfig{})
	got := b.mapPTS(3*time.Second, 1*time.Second)
	require.Equal(t, 3*time.Second, got)
	// A later call reuses the epoch fixed by the first call.
	got2 := b.mapPTS(99*time.Second, 2*time.Second)
	require.Equal(t, 4*time.Second, got2)
}
