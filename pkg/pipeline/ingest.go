package pipeline

import (
	"context"
	"log/slog"
	"time"

	pionrtp "github.com/pion/rtp"
	"golang.org/x/time/rate"

	"github.com/ethan/mediacompositor/pkg/config"
	"github.com/ethan/mediacompositor/pkg/decoder"
	"github.com/ethan/mediacompositor/pkg/pipelineerr"
	"github.com/ethan/mediacompositor/pkg/resample"
	"github.com/ethan/mediacompositor/pkg/rtp"
	"github.com/ethan/mediacompositor/pkg/transport"
	"github.com/ethan/mediacompositor/pkg/types"
)

// chunkChannelCapacity buffers depayloaded access units ahead of the
// decoder task; decode latency jitter should not stall the socket reader.
const chunkChannelCapacity = 32

// malformedWarnRate throttles the warning for malformed or unroutable
// packets. A stream that is consistently garbage would otherwise log at
// wire rate; the counters in Stats keep the full tally.
var malformedWarnRate = rate.Every(time.Second)

// depayloader is what the three framing implementations in pkg/rtp share.
type depayloader interface {
	Depayload(pkt *pionrtp.Packet) ([]types.EncodedChunk, error)
}

// startIngest spawns the dataflow tasks for one registered input: a demux
// task splitting the transport's packet stream into per-kind depayloaders
// (by payload type for socket receivers, by track kind for WHIP), then
// per-kind decode (and resample, for audio) tasks that terminate in queue
// pushes. All tasks exit when ctx is cancelled or the transport's channels
// close, whichever comes first; channel closure is treated as upstream
// EOS, so an input torn down without an explicit EOS still delivers one
// downstream.
func (p *Pipeline) startIngest(ctx context.Context, id types.InputID, opts config.InputOptions, src transport.Receiver) error {
	log := p.log.With("input", id)

	var videoChunks, audioChunks chan types.PipelineEvent[types.EncodedChunk]
	var videoDepayloader, audioDepayloader depayloader

	if opts.VideoCodec != nil {
		if p.decoders.NewVideo == nil {
			return pipelineerr.Serverf("register_input", "no video decoder factory configured for input %q", id)
		}
		videoChunks = make(chan types.PipelineEvent[types.EncodedChunk], chunkChannelCapacity)
		videoDepayloader = rtp.NewH264Depayloader()
	}
	if opts.AudioCodec != nil {
		if p.decoders.NewAudio == nil {
			return pipelineerr.Serverf("register_input", "no audio decoder factory configured for input %q", id)
		}
		switch *opts.AudioCodec {
		case types.AudioCodecOpus:
			audioDepayloader = rtp.NewOpusDepayloader()
		case types.AudioCodecAAC:
			d, err := rtp.NewAACDepayloader(aacMode(opts.AACDecoder.Mode), opts.AACDecoder.AudioSpecificConfig)
			if err != nil {
				return pipelineerr.Userf("register_input", "input %q: %w", id, err)
			}
			audioDepayloader = d
		}
		audioChunks = make(chan types.PipelineEvent[types.EncodedChunk], chunkChannelCapacity)
	}

	var videoDec decoder.VideoDecoder
	if opts.VideoCodec != nil {
		dec, err := p.decoders.NewVideo(*opts.VideoCodec)
		if err != nil {
			return pipelineerr.Userf("register_input", "input %q: video decoder init: %w", id, err)
		}
		videoDec = dec
	}
	if opts.AudioCodec != nil {
		dec, err := p.decoders.NewAudio(*opts.AudioCodec, opts.AACDecoder)
		if err != nil {
			if videoDec != nil {
				videoDec.Close()
			}
			return pipelineerr.Userf("register_input", "input %q: audio decoder init: %w", id, err)
		}
		samples := decoder.RunAudio(log.With("component", "decoder", "kind", "audio"), dec, audioChunks)
		go p.runAudioPush(id, log.With("component", "resampler"), samples)
	}
	if videoDec != nil {
		frames := decoder.RunVideo(log.With("component", "decoder", "kind", "video"), videoDec, videoChunks)
		go p.runVideoPush(id, frames)
	}

	if kd, ok := src.(transport.KindDemuxed); ok {
		go p.runKindDemux(ctx, log.With("component", "demux", "kind", "video"), kd.VideoPackets(), videoDepayloader, videoChunks)
		go p.runKindDemux(ctx, log.With("component", "demux", "kind", "audio"), kd.AudioPackets(), audioDepayloader, audioChunks)
		return nil
	}
	go p.runDemux(ctx, log.With("component", "demux"), src.Packets(), videoDepayloader, audioDepayloader, videoChunks, audioChunks)
	return nil
}

// runKindDemux is the per-kind packet router for transports that already
// demultiplex by track kind: no payload-type check applies, the stream is
// one kind by construction. A kind the input did not declare is counted
// and dropped.
func (p *Pipeline) runKindDemux(
	ctx context.Context,
	log *slog.Logger,
	packets <-chan []byte,
	dep depayloader,
	chunks chan<- types.PipelineEvent[types.EncodedChunk],
) {
	warnLimiter := rate.NewLimiter(malformedWarnRate, 1)
	defer func() {
		if chunks != nil {
			chunks <- types.EOS[types.EncodedChunk]()
			close(chunks)
		}
	}()

	drop := func(reason string, err error) {
		p.malformedPackets.Add(1)
		if warnLimiter.Allow() {
			log.Warn("dropping packet", "reason", reason, "error", err,
				"dropped_total", p.malformedPackets.Load())
		}
	}

	for {
		var raw []byte
		var ok bool
		select {
		case raw, ok = <-packets:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}
		p.packetsIn.Add(1)

		if dep == nil {
			drop("media kind not declared for this input", nil)
			continue
		}
		var pkt pionrtp.Packet
		if err := pkt.Unmarshal(raw); err != nil {
			drop("malformed rtp", err)
			continue
		}
		sent, err := dep.Depayload(&pkt)
		if err != nil {
			drop("depayload", err)
			continue
		}
		for _, chunk := range sent {
			select {
			case chunks <- types.NewData(chunk):
			case <-ctx.Done():
				return
			}
		}
	}
}

// runDemux is the per-input packet router: unmarshal, payload-type check,
// depayload, fan out to the per-kind chunk channels. Malformed packets are
// counted and dropped with a throttled warning; they never stop the stream.
func (p *Pipeline) runDemux(
	ctx context.Context,
	log *slog.Logger,
	packets <-chan []byte,
	videoDepayloader, audioDepayloader depayloader,
	videoChunks, audioChunks chan<- types.PipelineEvent[types.EncodedChunk],
) {
	warnLimiter := rate.NewLimiter(malformedWarnRate, 1)
	defer func() {
		if videoChunks != nil {
			videoChunks <- types.EOS[types.EncodedChunk]()
			close(videoChunks)
		}
		if audioChunks != nil {
			audioChunks <- types.EOS[types.EncodedChunk]()
			close(audioChunks)
		}
	}()

	drop := func(reason string, err error) {
		p.malformedPackets.Add(1)
		if warnLimiter.Allow() {
			log.Warn("dropping packet", "reason", reason, "error", err,
				"dropped_total", p.malformedPackets.Load())
		}
	}

	for {
		var raw []byte
		var ok bool
		select {
		case raw, ok = <-packets:
			if !ok {
				return
			}
		case <-ctx.Done():
			return
		}
		p.packetsIn.Add(1)

		var pkt pionrtp.Packet
		if err := pkt.Unmarshal(raw); err != nil {
			drop("malformed rtp", err)
			continue
		}
		if err := rtp.CheckPayloadType(pkt.PayloadType); err != nil {
			drop("payload type", err)
			continue
		}

		var dep depayloader
		var out chan<- types.PipelineEvent[types.EncodedChunk]
		switch pkt.PayloadType {
		case rtp.VideoPayloadType:
			dep, out = videoDepayloader, videoChunks
		case rtp.AudioPayloadType:
			dep, out = audioDepayloader, audioChunks
		}
		if dep == nil {
			drop("media kind not declared for this input", nil)
			continue
		}

		chunks, err := dep.Depayload(&pkt)
		if err != nil {
			drop("depayload", err)
			continue
		}
		for _, chunk := range chunks {
			select {
			case out <- types.NewData(chunk):
			case <-ctx.Done():
				return
			}
		}
	}
}

// runVideoPush drains a decoder task's frames into the queue, tracking
// FirstDataReceived and forwarding EOS when the decoder task finishes.
func (p *Pipeline) runVideoPush(id types.InputID, frames <-chan types.PipelineEvent[types.DecodedFrame]) {
	for ev := range frames {
		if ev.IsEOS {
			break
		}
		p.markFirstData(id)
		p.videoFramesIn.Add(1)
		p.q.PushVideoFrame(id, ev.Data)
	}
	p.NotifyInputEOS(id, types.MediaVideo)
}

// runAudioPush resamples a decoder task's PCM batches to the pipeline's
// output rate and drains them into the queue. The resampler is constructed
// lazily on the first batch because an AAC decoder only knows its true rate
// after the first chunk.
func (p *Pipeline) runAudioPush(id types.InputID, log *slog.Logger, samples <-chan types.PipelineEvent[types.DecodedSamples]) {
	var rs resample.Resampler
	for ev := range samples {
		if ev.IsEOS {
			break
		}
		if rs == nil {
			rs = resample.New(log, ev.Data.SampleRate, p.outRate)
		}
		p.markFirstData(id)
		for _, batch := range rs.Push(ev.Data) {
			p.audioBatchesIn.Add(1)
			p.q.PushAudioSamples(id, batch)
		}
	}
	if rs != nil {
		for _, batch := range rs.Flush() {
			p.q.PushAudioSamples(id, batch)
		}
	}
	p.NotifyInputEOS(id, types.MediaAudio)
}

func (p *Pipeline) markFirstData(id types.InputID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.inputs[id]; ok && (e.state == InputRegistered || e.state == InputConnected) {
		e.state = InputFirstDataReceived
	}
}

func aacMode(m config.AACDepayloaderMode) rtp.AACDepayloaderMode {
	if m == config.AACHighBitrate {
		return rtp.AACHighBitrate
	}
	return rtp.AACLowBitrate
}
