package types

import "time"

// StereoSample is one left/right pair of PCM samples.
type StereoSample struct {
	L, R int16
}

// DecodedSamples is a batch of PCM produced directly by a decoder adapter,
// at that decoder's native sample rate. Samples are mono or stereo,
// depending on the source; the resampler normalises both to stereo at the
// pipeline's output rate.
type DecodedSamples struct {
	StartPTS   time.Duration
	SampleRate uint32
	Mono       []int16        // set when the source is mono
	Stereo     []StereoSample // set when the source is stereo
}

// Len returns the number of samples in the batch regardless of channel
// layout.
func (d DecodedSamples) Len() int {
	if d.Stereo != nil {
		return len(d.Stereo)
	}
	return len(d.Mono)
}

// EndPTS is StartPTS + Len()/SampleRate.
func (d DecodedSamples) EndPTS() time.Duration {
	return d.StartPTS + durationFromSamples(d.Len(), d.SampleRate)
}

// InputSamples is a batch of stereo PCM after resampling to the pipeline's
// output rate.
type InputSamples struct {
	StartPTS   time.Duration
	SampleRate uint32
	Samples    []StereoSample
}

func (s InputSamples) Len() int { return len(s.Samples) }

// EndPTS is StartPTS + Len()/SampleRate.
func (s InputSamples) EndPTS() time.Duration {
	return s.StartPTS + durationFromSamples(len(s.Samples), s.SampleRate)
}

func durationFromSamples(n int, rate uint32) time.Duration {
	if rate == 0 {
		return 0
	}
	return time.Duration(float64(n) / float64(rate) * float64(time.Second))
}

// InputSamplesSet is the per-tick audio bundle produced by the synchronised
// queue. For each input, batches are sorted by StartPTS and, when upstream
// delivered enough data, cover a superset of [StartPTS, EndPTS).
type InputSamplesSet struct {
	Samples  map[InputID][]InputSamples
	StartPTS time.Duration
	EndPTS   time.Duration
}
