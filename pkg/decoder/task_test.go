package decoder

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethan/mediacompositor/pkg/types"
)

type fakeVideoDecoder struct {
	failPTS time.Duration // chunks at this PTS fail to decode
	closed  chan struct{}
}

func (f *fakeVideoDecoder) Decode(chunk types.EncodedChunk) ([]types.DecodedFrame, error) {
	if chunk.PTS == f.failPTS {
		return nil, errors.New("boom")
	}
	return []types.DecodedFrame{{PTS: chunk.PTS}}, nil
}
func (f *fakeVideoDecoder) Close() { close(f.closed) }

func silentLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestRunVideoSkipsErrorsAndForwardsEOS(t *testing.T) {
	in := make(chan types.PipelineEvent[types.EncodedChunk], 4)
	dec := &fakeVideoDecoder{failPTS: 20 * time.Millisecond, closed: make(chan struct{})}
	out := RunVideo(silentLogger(), dec, in)

	in <- types.NewData(types.EncodedChunk{PTS: 10 * time.Millisecond})
	in <- types.NewData(types.EncodedChunk{PTS: 20 * time.Millisecond})
	in <- types.NewData(types.EncodedChunk{PTS: 30 * time.Millisecond})
	in <- types.EOS[types.EncodedChunk]()
	close(in)

	var got []types.DecodedFrame
	for ev := range out {
		if ev.IsEOS {
			break
		}
		got = append(got, ev.Data)
	}
	require.Len(t, got, 2)
	require.Equal(t, 10*time.Millisecond, got[0].PTS)
	require.Equal(t, 30*time.Millisecond, got[1].PTS)

	select {
	case <-dec.closed:
	case <-time.After(time.Second):
		t.Fatal("decoder was not closed")
	}
}

type fakeAudioDecoder struct {
	rate uint32
}

func (f *fakeAudioDecoder) Decode(chunk types.EncodedChunk) ([]types.DecodedSamples, error) {
	return []types.DecodedSamples{{StartPTS: chunk.PTS, SampleRate: f.rate}}, nil
}
func (f *fakeAudioDecoder) SampleRate() uint32 { return f.rate }
func (f *fakeAudioDecoder) Close()             {}

func TestRunAudioForwardsEOSOnce(t *testing.T) {
	in := make(chan types.PipelineEvent[types.EncodedChunk], 2)
	out := RunAudio(silentLogger(), &fakeAudioDecoder{rate: 48000}, in)

	in <- types.NewData(types.EncodedChunk{PTS: 0})
	in <- types.EOS[types.EncodedChunk]()
	close(in)

	first := <-out
	require.False(t, first.IsEOS)
	second := <-out
	require.True(t, second.IsEOS)
	_, open := <-out
	require.False(t, open)
}
