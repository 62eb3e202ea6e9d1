// Package mixer implements the audio mixing stage: per-output, per-tick
// mixing of the queue's InputSamplesSet into exact-length output PCM.
package mixer

import (
	"math"
	"sync"
	"time"

	"github.com/ethan/mediacompositor/pkg/types"
)

// Mixer owns one output's MixSpec and the running sample count needed to
// keep cumulative output length exactly right across ticks.
type Mixer struct {
	mu   sync.Mutex
	spec types.MixSpec

	outputRate      uint32
	firstTickPTS    time.Duration
	haveFirstTick   bool
	emittedSamples  uint64
}

// New constructs a Mixer for one output at outputRate, with an initial
// MixSpec (installed by the controller at register_output).
func New(outputRate uint32, spec types.MixSpec) *Mixer {
	return &Mixer{outputRate: outputRate, spec: spec}
}

// UpdateSpec swaps the active MixSpec atomically. This is the only lock on
// the hot path, held only during the swap.
func (m *Mixer) UpdateSpec(spec types.MixSpec) {
	m.mu.Lock()
	m.spec = spec
	m.mu.Unlock()
}

// Mix produces this output's InputSamples for one tick of set: N is the
// number of samples owed to keep the cumulative count exact, an N-long i32
// accumulator is filled from each listed input's contribution scaled by its
// volume, and the strategy-specific post-process fits the result into i16.
func (m *Mixer) Mix(set types.InputSamplesSet) types.InputSamples {
	m.mu.Lock()
	spec := m.spec
	if !m.haveFirstTick {
		m.haveFirstTick = true
		m.firstTickPTS = set.StartPTS
	}
	n := expectedSampleCount(m.firstTickPTS, set.EndPTS, m.outputRate) - int(m.emittedSamples)
	if n < 0 {
		n = 0
	}
	m.emittedSamples += uint64(n)
	m.mu.Unlock()

	accL := make([]int32, n)
	accR := make([]int32, n)

	for _, mi := range spec.Inputs {
		batches, ok := set.Samples[mi.Input]
		if !ok {
			continue
		}
		for _, batch := range batches {
			for i, s := range batch.Samples {
				samplePTS := batch.StartPTS + durationFromSamples(i, m.outputRate)
				idx := int(math.Floor((samplePTS - set.StartPTS).Seconds() * float64(m.outputRate)))
				if idx < 0 || idx >= n {
					continue
				}
				accL[idx] += int32(float64(s.L) * mi.Volume)
				accR[idx] += int32(float64(s.R) * mi.Volume)
			}
		}
	}

	samples := postProcess(accL, accR, spec.Strategy, spec.Channels)
	return types.InputSamples{StartPTS: set.StartPTS, SampleRate: m.outputRate, Samples: samples}
}

// expectedSampleCount is round((end - firstTickPTS) * rate), the total
// number of samples this output should have emitted by the time its window
// reaches end; subtracting what has already been emitted gives the exact
// count owed this tick, preventing cumulative drift.
func expectedSampleCount(firstTickPTS, end time.Duration, rate uint32) int {
	return int(math.Round((end - firstTickPTS).Seconds() * float64(rate)))
}

// postProcess fits the i32 accumulator into i16 per strategy, then reduces
// to the requested channel layout.
func postProcess(accL, accR []int32, strategy types.MixStrategy, channels types.AudioChannels) []types.StereoSample {
	n := len(accL)
	l := make([]int16, n)
	r := make([]int16, n)

	switch strategy {
	case types.SumScale:
		peak := int32(0)
		for i := 0; i < n; i++ {
			if v := abs32(accL[i]); v > peak {
				peak = v
			}
			if v := abs32(accR[i]); v > peak {
				peak = v
			}
		}
		scale := 1.0
		if peak > math.MaxInt16 {
			scale = float64(math.MaxInt16) / float64(peak)
		}
		for i := 0; i < n; i++ {
			l[i] = clampI16(float64(accL[i]) * scale)
			r[i] = clampI16(float64(accR[i]) * scale)
		}
	default: // SumClip
		for i := 0; i < n; i++ {
			l[i] = clampI16(float64(accL[i]))
			r[i] = clampI16(float64(accR[i]))
		}
	}

	out := make([]types.StereoSample, n)
	switch channels {
	case types.ChannelsMono:
		for i := 0; i < n; i++ {
			avg := (int32(l[i]) + int32(r[i])) / 2
			v := int16(avg)
			out[i] = types.StereoSample{L: v, R: v}
		}
	default: // ChannelsStereo
		for i := 0; i < n; i++ {
			out[i] = types.StereoSample{L: l[i], R: r[i]}
		}
	}
	return out
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

func clampI16(v float64) int16 {
	if v > math.MaxInt16 {
		v = math.MaxInt16
	}
	if v < math.MinInt16 {
		v = math.MinInt16
	}
	return int16(v)
}

func durationFromSamples(n int, rate uint32) time.Duration {
	if rate == 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(rate) * float64(time.Second))
}
