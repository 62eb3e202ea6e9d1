// Command compositor runs a single media-compositor pipeline: one RTP/H.264
// video input on a UDP port, composited by an identity renderer (real GPU
// compositing is out of scope) and re-payloaded to a UDP output. It
// exercises the registration, transport, queue, render-flow and
// end-condition wiring end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethan/mediacompositor/pkg/config"
	"github.com/ethan/mediacompositor/pkg/decoder"
	"github.com/ethan/mediacompositor/pkg/logger"
	"github.com/ethan/mediacompositor/pkg/pipeline"
	"github.com/ethan/mediacompositor/pkg/renderflow"
	compositorrtp "github.com/ethan/mediacompositor/pkg/rtp"
	"github.com/ethan/mediacompositor/pkg/types"
)

// identityRenderer stands in for the external GPU renderer: it passes the
// first present input's frame straight through to every registered output,
// unscaled, so this binary can demonstrate the dataflow without linking a
// real compositor.
type identityRenderer struct {
	log *logger.Logger
}

func (r *identityRenderer) UpdateScene(output types.OutputID, _ types.Resolution, _ types.Scene) error {
	return nil
}

func (r *identityRenderer) Render(frames types.FrameSet, scenes map[types.OutputID]types.Scene) map[types.OutputID]types.DecodedFrame {
	var any types.DecodedFrame
	var have bool
	for _, f := range frames.Frames {
		any = f
		have = true
		break
	}
	if !have {
		return nil
	}
	out := make(map[types.OutputID]types.DecodedFrame, len(scenes))
	for id := range scenes {
		out[id] = any
	}
	return out
}

func (r *identityRenderer) UnregisterOutput(output types.OutputID) {
	r.log.Info("renderer: output unregistered", "output", output)
}

// passthroughVideoDecoder stands in for an external H.264 decoder: the
// access-unit bytes ride through as an opaque frame payload, which is all
// the identity renderer needs.
type passthroughVideoDecoder struct {
	resolution types.Resolution
}

func (d passthroughVideoDecoder) Decode(chunk types.EncodedChunk) ([]types.DecodedFrame, error) {
	return []types.DecodedFrame{{
		PTS:         chunk.PTS,
		Resolution:  d.resolution,
		Format:      types.PixelFormatYUV420P,
		Interleaved: chunk.Data,
	}}, nil
}

func (d passthroughVideoDecoder) Close() {}

func main() {
	fs := flag.NewFlagSet("compositor", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)

	videoPort := fs.Int("video-port", 5004, "UDP port to receive H.264/RTP video input on")
	outputPort := fs.Int("output-port", 5006, "UDP port to send composited H.264/RTP video output to")
	outputHost := fs.String("output-host", "127.0.0.1", "destination host for the RTP output")
	framerateNum := fs.Int("framerate", 30, "output framerate (frames/second)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Media compositor: RTP video in, composited RTP video out\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	log.Info("starting media compositor pipeline", "log_config", logFlags.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	qopts := config.DefaultQueueOptions()
	qopts.OutputFramerate = config.Framerate{Num: uint32(*framerateNum), Den: 1}

	resolution := types.Resolution{Width: 1280, Height: 720}
	renderer := &identityRenderer{log: log}
	factories := pipeline.DecoderFactories{
		NewVideo: func(types.VideoCodec) (decoder.VideoDecoder, error) {
			return passthroughVideoDecoder{resolution: resolution}, nil
		},
	}
	pl := pipeline.New(log.With("component", "controller").Logger, renderer, qopts, 48000, factories)

	inputID := types.NewInputID()
	v := types.VideoCodecH264
	inputPort := uint16(*videoPort)
	if err := pl.RegisterInput(inputID, config.InputOptions{
		Transport:  config.TransportUDP,
		Port:       config.PortOrRange{Low: inputPort, High: inputPort},
		VideoCodec: &v,
		Required:   true,
	}); err != nil {
		log.Error("failed to register input", "error", err)
		os.Exit(1)
	}

	outputID := types.NewOutputID()
	outPort := uint16(*outputPort)
	if err := pl.RegisterOutput(outputID, config.OutputOptions{
		Transport:    config.TransportUDP,
		Host:         *outputHost,
		Port:         config.PortOrRange{Low: outPort, High: outPort},
		Resolution:   resolution,
		VideoEndCond: config.OutputEndCondition{Kind: config.EndAllInputs},
		AudioEndCond: config.OutputEndCondition{Kind: config.EndNever},
	}, types.Scene{}, types.MixSpec{Channels: types.ChannelsStereo}); err != nil {
		log.Error("failed to register output", "error", err)
		os.Exit(1)
	}

	videoOut, _ := pl.VideoEncoderChannel(outputID)
	sender, _ := pl.OutputSender(outputID)

	// Egress task: payload rendered frames back onto the wire, paced against
	// their PTS so a rendering burst doesn't reach the network as one. A
	// real deployment would encode here; this demo re-payloads the opaque
	// access-unit bytes the passthrough decoder carried through.
	go func() {
		ssrc := randomSSRC()
		payloader := compositorrtp.NewH264Payloader(ssrc, 1200)
		pacer := compositorrtp.NewPacer()
		for {
			select {
			case ev, ok := <-videoOut:
				if !ok {
					return
				}
				if ev.IsEOS {
					log.Info("output reached end of stream")
					if err := sender.Goodbye(ssrc, "end of stream"); err != nil {
						log.Warn("failed to send goodbye", "error", err)
					}
					return
				}
				if err := pacer.Wait(ctx, ev.Data.PTS, len(videoOut)); err != nil {
					return
				}
				packets := payloader.Payload(types.EncodedChunk{
					Kind: types.VideoChunkKind(types.VideoCodecH264),
					Data: ev.Data.Interleaved,
					PTS:  ev.Data.PTS,
				})
				for _, pkt := range packets {
					raw, err := pkt.Marshal()
					if err != nil {
						log.Warn("failed to marshal output RTP packet", "error", err)
						continue
					}
					if err := sender.WritePacket(raw); err != nil {
						log.Warn("failed to write output RTP packet", "error", err)
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	pl.Start()
	log.Info("pipeline started - press Ctrl+C to stop",
		"video_port", inputPort, "output", fmt.Sprintf("%s:%d", *outputHost, outPort))

	pl.Run(ctx)
	log.Info("graceful shutdown complete")
}

func randomSSRC() uint32 {
	return uint32(time.Now().UnixNano())
}

var _ renderflow.Renderer = (*identityRenderer)(nil)
