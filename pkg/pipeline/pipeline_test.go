package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	pionrtp "github.com/pion/rtp"
	"github.com/stretchr/testify/require"

	"github.com/ethan/mediacompositor/pkg/config"
	"github.com/ethan/mediacompositor/pkg/decoder"
	"github.com/ethan/mediacompositor/pkg/pipelineerr"
	"github.com/ethan/mediacompositor/pkg/types"
)

type fakeRenderer struct{}

func (fakeRenderer) UpdateScene(types.OutputID, types.Resolution, types.Scene) error { return nil }
func (fakeRenderer) Render(frames types.FrameSet, scenes map[types.OutputID]types.Scene) map[types.OutputID]types.DecodedFrame {
	out := make(map[types.OutputID]types.DecodedFrame)
	for id := range scenes {
		out[id] = types.DecodedFrame{PTS: frames.PTS}
	}
	return out
}
func (fakeRenderer) UnregisterOutput(types.OutputID) {}

// passthroughVideoDecoder stands in for an external H.264 decoder: it wraps
// the access-unit bytes as an opaque frame payload.
type passthroughVideoDecoder struct{}

func (passthroughVideoDecoder) Decode(chunk types.EncodedChunk) ([]types.DecodedFrame, error) {
	return []types.DecodedFrame{{PTS: chunk.PTS, Interleaved: chunk.Data}}, nil
}
func (passthroughVideoDecoder) Close() {}

type silenceAudioDecoder struct{}

func (silenceAudioDecoder) Decode(chunk types.EncodedChunk) ([]types.DecodedSamples, error) {
	return []types.DecodedSamples{{
		StartPTS:   chunk.PTS,
		SampleRate: 48000,
		Stereo:     make([]types.StereoSample, 960),
	}}, nil
}
func (silenceAudioDecoder) SampleRate() uint32 { return 48000 }
func (silenceAudioDecoder) Close()             {}

func testFactories() DecoderFactories {
	return DecoderFactories{
		NewVideo: func(types.VideoCodec) (decoder.VideoDecoder, error) {
			return passthroughVideoDecoder{}, nil
		},
		NewAudio: func(types.AudioCodec, config.AACDecoderOptions) (decoder.AudioDecoder, error) {
			return silenceAudioDecoder{}, nil
		},
	}
}

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newTestPipeline() *Pipeline {
	qopts := config.DefaultQueueOptions()
	qopts.OutputFramerate = config.Framerate{Num: 100, Den: 1} // fast ticks for test speed
	return New(testLogger(), fakeRenderer{}, qopts, 48000, testFactories())
}

func videoInputOpts(low, high uint16) config.InputOptions {
	v := types.VideoCodecH264
	return config.InputOptions{
		Transport:  config.TransportUDP,
		Port:       config.PortOrRange{Low: low, High: high},
		VideoCodec: &v,
	}
}

func TestRegisterInputRejectsDuplicate(t *testing.T) {
	p := newTestPipeline()
	require.NoError(t, p.RegisterInput("in1", videoInputOpts(41200, 41210)))
	defer p.UnregisterInput("in1", nil)

	err := p.RegisterInput("in1", videoInputOpts(41200, 41210))
	require.Error(t, err)

	var perr *pipelineerr.Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, pipelineerr.UserError, perr.Kind)
}

func TestRegisterInputTriesPortRange(t *testing.T) {
	p := newTestPipeline()
	require.NoError(t, p.RegisterInput("in1", videoInputOpts(41220, 41221)))
	defer p.UnregisterInput("in1", nil)
	require.NoError(t, p.RegisterInput("in2", videoInputOpts(41220, 41221)))
	defer p.UnregisterInput("in2", nil)

	p1, ok := p.InputPort("in1")
	require.True(t, ok)
	p2, ok := p.InputPort("in2")
	require.True(t, ok)
	require.NotEqual(t, p1, p2)

	// Range exhausted: port conflicts surface synchronously as UserError.
	err := p.RegisterInput("in3", videoInputOpts(41220, 41221))
	require.Error(t, err)
	var perr *pipelineerr.Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, pipelineerr.UserError, perr.Kind)
}

func TestRegisterOutputRejectsOddResolution(t *testing.T) {
	p := newTestPipeline()
	opts := config.OutputOptions{
		Port:       config.PortOrRange{Low: 41230, High: 41230},
		Resolution: types.Resolution{Width: 641, Height: 480},
	}
	err := p.RegisterOutput("out1", opts, types.Scene{}, types.MixSpec{})
	require.Error(t, err)
}

func TestOutputEmitsExactlyOneEOSOnAllInputsGone(t *testing.T) {
	p := newTestPipeline()
	require.NoError(t, p.RegisterInput("in1", videoInputOpts(41240, 41250)))

	outOpts := config.OutputOptions{
		Transport:    config.TransportUDP,
		Port:         config.PortOrRange{Low: 41251, High: 41251},
		Resolution:   types.Resolution{Width: 640, Height: 480},
		VideoEndCond: config.OutputEndCondition{Kind: config.EndAllInputs},
		AudioEndCond: config.OutputEndCondition{Kind: config.EndNever},
	}
	require.NoError(t, p.RegisterOutput("out1", outOpts, types.Scene{}, types.MixSpec{}))

	videoCh, ok := p.VideoEncoderChannel("out1")
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)
	p.Start()

	p.NotifyInputEOS("in1", types.MediaVideo)
	p.NotifyInputEOS("in1", types.MediaAudio)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-videoCh:
			if ev.IsEOS {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for output EOS")
		}
	}
}

func TestIngestDepayloadsAndDecodesRTP(t *testing.T) {
	p := newTestPipeline()
	require.NoError(t, p.RegisterInput("in1", videoInputOpts(41260, 41270)))
	defer p.UnregisterInput("in1", nil)

	port, ok := p.InputPort("in1")
	require.True(t, ok)

	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(port)})
	require.NoError(t, err)
	defer conn.Close()

	// One single-NAL access unit with the marker bit set.
	pkt := pionrtp.Packet{
		Header: rtpHeader(96, 1, 90000, true),
		// 0x65: IDR slice NAL unit header, then payload bytes.
		Payload: []byte{0x65, 0x01, 0x02, 0x03},
	}
	raw, err := pkt.Marshal()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, err := conn.Write(raw)
		require.NoError(t, err)
		return p.Stats().VideoFramesIn > 0
	}, 3*time.Second, 50*time.Millisecond)
}

func rtpHeader(pt uint8, seq uint16, ts uint32, marker bool) pionrtp.Header {
	return pionrtp.Header{
		Version:        2,
		PayloadType:    pt,
		SequenceNumber: seq,
		Timestamp:      ts,
		SSRC:           0x1234,
		Marker:         marker,
	}
}

func TestUnregisterUnknownInputIsNotFound(t *testing.T) {
	p := newTestPipeline()
	err := p.UnregisterInput("missing", nil)
	require.Error(t, err)

	var perr *pipelineerr.Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, pipelineerr.EntityNotFound, perr.Kind)
}
