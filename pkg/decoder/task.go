package decoder

import (
	"log/slog"

	"github.com/ethan/mediacompositor/pkg/types"
)

// RunVideo drives one video decoder for the lifetime of in: on a per-chunk
// decode error it logs and continues with the next
// chunk; on upstream EOS it closes the decoder, forwards exactly one EOS,
// and returns. It never panics the caller's goroutine on a decode error;
// only upstream EOS or a closed input channel ends the task (a channel
// closed without EOS closes the output without forwarding one).
func RunVideo(log *slog.Logger, dec VideoDecoder, in <-chan types.PipelineEvent[types.EncodedChunk]) <-chan types.PipelineEvent[types.DecodedFrame] {
	out := make(chan types.PipelineEvent[types.DecodedFrame], 16)
	go func() {
		defer close(out)
		defer dec.Close()
		for ev := range in {
			if ev.IsEOS {
				out <- types.EOS[types.DecodedFrame]()
				return
			}
			frames, err := dec.Decode(ev.Data)
			if err != nil {
				log.Warn("video decode error, skipping chunk", "error", err, "pts", ev.Data.PTS)
				continue
			}
			for _, f := range frames {
				out <- types.NewData(f)
			}
		}
	}()
	return out
}

// RunAudio drives one audio decoder for the lifetime of in. AAC decoders
// report SampleRate() == 0 until the first chunk is decoded. A decode error
// while the rate is still unknown is a failed initialisation: it is logged
// as an error, exactly one EOS is forwarded, and the rest of in is drained
// without decoding. Once the rate is known, decode errors are logged and the
// chunk is skipped. Propagating the rate onward is the resampler's job (it
// reads the SampleRate of each DecodedSamples batch, not the decoder's).
func RunAudio(log *slog.Logger, dec AudioDecoder, in <-chan types.PipelineEvent[types.EncodedChunk]) <-chan types.PipelineEvent[types.DecodedSamples] {
	out := make(chan types.PipelineEvent[types.DecodedSamples], 16)
	go func() {
		defer close(out)
		defer dec.Close()
		knownRate := dec.SampleRate() != 0
		for ev := range in {
			if ev.IsEOS {
				out <- types.EOS[types.DecodedSamples]()
				return
			}
			samples, err := dec.Decode(ev.Data)
			if err != nil {
				if !knownRate {
					log.Error("audio decoder initialisation failed, ending audio side", "error", err, "pts", ev.Data.PTS)
					out <- types.EOS[types.DecodedSamples]()
					for range in {
					}
					return
				}
				log.Warn("audio decode error, skipping chunk", "error", err, "pts", ev.Data.PTS)
				continue
			}
			if !knownRate {
				if r := dec.SampleRate(); r != 0 {
					knownRate = true
					log.Info("audio decoder resolved output sample rate", "sample_rate", r)
				}
			}
			for _, s := range samples {
				out <- types.NewData(s)
			}
		}
	}()
	return out
}
