// Package resample converts decoded PCM at an arbitrary input rate into
// stereo InputSamples at the pipeline's fixed output rate, in 20ms batches,
// with gap filling and overlap handling. LinearResampler's numeric core is
// plain float64 accumulation, linear interpolation and clamp-then-truncate
// to i16.
package resample

import (
	"log/slog"
	"math"
	"time"

	"github.com/ethan/mediacompositor/pkg/types"
)

const outputBatchDuration = 20 * time.Millisecond

// Resampler converts one input's DecodedSamples stream to InputSamples at a
// fixed output rate. Implementations are not safe for concurrent use; one
// instance serves exactly one input's audio task.
type Resampler interface {
	// Push feeds the next decoded batch and returns zero or more complete
	// output batches it was able to produce.
	Push(in types.DecodedSamples) []types.InputSamples
	// Flush drains any partial accumulated batch at end-of-stream, padded
	// up to a full batch with zeros if it holds at least one sample.
	Flush() []types.InputSamples
}

// New picks PassthroughResampler when rates already match, else
// LinearResampler.
func New(log *slog.Logger, inputRate, outputRate uint32) Resampler {
	if inputRate == outputRate {
		return &PassthroughResampler{rate: outputRate}
	}
	return NewLinearResampler(log, outputRate)
}

// PassthroughResampler rewraps DecodedSamples as InputSamples without
// copying sample data when the input rate already equals the output rate,
// mono upmixed to stereo by duplication to satisfy InputSamples'
// stereo-only contract.
type PassthroughResampler struct {
	rate uint32
}

func (p *PassthroughResampler) Push(in types.DecodedSamples) []types.InputSamples {
	stereo := in.Stereo
	if stereo == nil {
		stereo = make([]types.StereoSample, len(in.Mono))
		for i, m := range in.Mono {
			stereo[i] = types.StereoSample{L: m, R: m}
		}
	}
	return []types.InputSamples{{
		StartPTS:   in.StartPTS,
		SampleRate: p.rate,
		Samples:    stereo,
	}}
}

func (p *PassthroughResampler) Flush() []types.InputSamples { return nil }

// LinearResampler converts an arbitrary input rate to a fixed output rate
// using linear interpolation between consecutive input samples, batching
// output into fixed 20ms chunks. It accumulates un-consumed
// input in two f64 channel buffers (left/right) and tracks expected vs.
// actual PTS to detect gaps and overlaps.
type LinearResampler struct {
	log        *slog.Logger
	outputRate uint32

	bufL, bufR []float64 // accumulated input samples awaiting consumption
	bufStartPTS time.Duration // PTS of bufL/bufR[0]
	inputRate  uint32

	firstBatchSeen  bool
	nextExpectedPTS time.Duration // expected StartPTS of the next Push call

	outputEpoch     time.Duration // PTS of output sample 0
	producedSamples uint64        // running count of output samples emitted
}

// NewLinearResampler returns a resampler with no input rate pinned yet; the
// first Push call fixes inputRate for its lifetime (a decoder never changes
// its rate mid-stream in this pipeline).
func NewLinearResampler(log *slog.Logger, outputRate uint32) *LinearResampler {
	return &LinearResampler{log: log, outputRate: outputRate}
}

func (r *LinearResampler) Push(in types.DecodedSamples) []types.InputSamples {
	if in.Len() == 0 {
		return nil
	}
	if r.inputRate == 0 {
		r.inputRate = in.SampleRate
	}

	stereo := in.Stereo
	if stereo == nil {
		stereo = make([]types.StereoSample, len(in.Mono))
		for i, m := range in.Mono {
			stereo[i] = types.StereoSample{L: m, R: m}
		}
	}

	if !r.firstBatchSeen {
		r.firstBatchSeen = true
		r.outputEpoch = in.StartPTS
		r.nextExpectedPTS = in.StartPTS
		r.bufStartPTS = in.StartPTS
	} else {
		tolerance := time.Duration(float64(time.Second) / float64(r.inputRate))
		delta := in.StartPTS - r.nextExpectedPTS
		if delta > tolerance {
			// Gap: insert round(delta * rate) zero samples per channel.
			n := int(math.Round(delta.Seconds() * float64(r.inputRate)))
			for i := 0; i < n; i++ {
				r.bufL = append(r.bufL, 0)
				r.bufR = append(r.bufR, 0)
			}
		} else if delta < -tolerance {
			// Overlap: upstream delivered corrupt timing.
			if len(r.bufL) == 0 {
				// First batch only: drop leading samples that precede
				// expectation.
				drop := int(math.Round((-delta).Seconds() * float64(r.inputRate)))
				if drop < len(stereo) {
					stereo = stereo[drop:]
				} else {
					stereo = nil
				}
			} else {
				r.log.Warn("resampler: overlap on non-leading batch, keeping data as-is",
					"delta", delta)
			}
		}
	}

	for _, s := range stereo {
		r.bufL = append(r.bufL, float64(s.L))
		r.bufR = append(r.bufR, float64(s.R))
	}
	r.nextExpectedPTS = in.StartPTS + durationFromSamples(in.Len(), r.inputRate)

	return r.drain(false)
}

func (r *LinearResampler) Flush() []types.InputSamples {
	out := r.drain(true)
	if len(r.bufL) > 0 {
		// Pad the final partial batch to a full 20ms batch with zeros so a
		// downstream consumer never sees a short tail batch.
		batchLen := int(math.Round(outputBatchDuration.Seconds() * float64(r.outputRate)))
		samples := make([]types.StereoSample, batchLen)
		for i := range samples {
			if i < len(r.bufL) {
				samples[i] = clampStereo(r.bufL[i], r.bufR[i])
			}
		}
		startPTS := r.outputEpoch + durationFromSamples(int(r.producedSamples), r.outputRate)
		r.producedSamples += uint64(batchLen)
		r.bufL, r.bufR = nil, nil
		out = append(out, types.InputSamples{StartPTS: startPTS, SampleRate: r.outputRate, Samples: samples})
	}
	return out
}

// drain consumes as many complete 20ms output batches as the accumulated
// input supports, using linear interpolation between consecutive input
// samples at the input rate to resample to the output rate.
func (r *LinearResampler) drain(final bool) []types.InputSamples {
	if r.inputRate == 0 {
		return nil
	}
	batchLen := int(math.Round(outputBatchDuration.Seconds() * float64(r.outputRate)))
	var out []types.InputSamples

	for {
		// Each output sample i (0-indexed within the batch) maps to input
		// position inputRate/outputRate * i, relative to bufL[0].
		neededInputSpan := float64(batchLen) * float64(r.inputRate) / float64(r.outputRate)
		if float64(len(r.bufL)) < neededInputSpan+1 {
			break
		}

		samples := make([]types.StereoSample, batchLen)
		step := float64(r.inputRate) / float64(r.outputRate)
		for i := 0; i < batchLen; i++ {
			pos := step * float64(i)
			lo := int(pos)
			frac := pos - float64(lo)
			hi := lo + 1
			if hi >= len(r.bufL) {
				hi = lo
			}
			l := r.bufL[lo]*(1-frac) + r.bufL[hi]*frac
			rr := r.bufR[lo]*(1-frac) + r.bufR[hi]*frac
			samples[i] = clampStereo(l, rr)
		}

		startPTS := r.outputEpoch + durationFromSamples(int(r.producedSamples), r.outputRate)
		r.producedSamples += uint64(batchLen)
		out = append(out, types.InputSamples{StartPTS: startPTS, SampleRate: r.outputRate, Samples: samples})

		consumed := int(math.Floor(neededInputSpan))
		r.bufL = append([]float64(nil), r.bufL[consumed:]...)
		r.bufR = append([]float64(nil), r.bufR[consumed:]...)
		r.bufStartPTS += durationFromSamples(consumed, r.inputRate)

		if final && len(r.bufL) < int(math.Ceil(neededInputSpan)) {
			break
		}
	}
	return out
}

func clampStereo(l, r float64) types.StereoSample {
	return types.StereoSample{L: clampI16(l), R: clampI16(r)}
}

// clampI16 clamps a floating PCM value to the int16 range before
// truncation.
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
