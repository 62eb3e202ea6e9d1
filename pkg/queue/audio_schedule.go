package queue

import (
	"math"
	"time"

	"github.com/ethan/mediacompositor/pkg/types"
)

// audioGapToleranceSamples is the internal-gap tolerance, expressed as a
// fraction of one sample period (0.01/sample_rate); smaller discontinuities
// are rounding noise from PTS arithmetic, not real gaps.
const audioGapToleranceSamples = 0.01

// produceAudioInput builds one input's exact-length contribution to the
// tick window [T, end) at the pipeline's output sample rate: drop batches
// entirely outside the window, clip partial
// boundary batches sample-by-sample, zero-pad internal gaps longer than
// tolerance, drop a leading-batch overlap, warn-and-keep a later one, and
// finally pad or truncate to exactly round((end-T)*rate) samples.
//
// batches must already be sorted by StartPTS (inputBuffer.pushAudio
// maintains this).
func produceAudioInput(batches []types.InputSamples, T, end time.Duration, rate uint32, onOverlapWarn func()) []types.StereoSample {
	want := wantedSampleCount(T, end, rate)
	out := make([]types.StereoSample, 0, want)
	expected := T
	tolerance := time.Duration(audioGapToleranceSamples / float64(rate) * float64(time.Second))

	first := true
	for _, batch := range batches {
		if batch.EndPTS() <= T {
			continue // entirely before the window: drop
		}
		if batch.StartPTS >= end {
			continue // entirely after the window: drop
		}

		start := batch.StartPTS
		samples := batch.Samples

		if start < expected-tolerance {
			// Overlap: a batch starting before the expected next-sample
			// PTS. Treated as data corruption, tolerated only by dropping
			// the overlap from the first batch of the tick; anything later
			// in the tick is kept with a warning.
			if first {
				dropN := int(math.Round((expected - start).Seconds() * float64(rate)))
				if dropN > 0 {
					if dropN >= len(samples) {
						samples = nil
					} else {
						samples = samples[dropN:]
					}
					start = expected
				}
			} else if onOverlapWarn != nil {
				onOverlapWarn()
			}
		} else if start > expected+tolerance {
			gapN := int(math.Round((start - expected).Seconds() * float64(rate)))
			for g := 0; g < gapN; g++ {
				out = append(out, types.StereoSample{})
			}
		}
		first = false

		for i, s := range samples {
			pts := start + durationFromSamples(i, rate)
			if pts < T || pts >= end {
				continue
			}
			out = append(out, s)
		}
		expected = start + durationFromSamples(len(samples), rate)
	}

	switch {
	case len(out) < want:
		out = append(out, make([]types.StereoSample, want-len(out))...)
	case len(out) > want:
		out = out[:want]
	}
	return out
}

// wantedSampleCount is round((end-T)*rate), the exact per-tick sample
// count every consumer downstream may assume.
func wantedSampleCount(T, end time.Duration, rate uint32) int {
	return int(math.Round((end - T).Seconds() * float64(rate)))
}

func durationFromSamples(n int, rate uint32) time.Duration {
	if rate == 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(rate) * float64(time.Second))
}
