// Package pipeline implements the pipeline controller: registration
// and unregistration of inputs/outputs, propagation of end-of-stream, and
// per-output scene/mix updates coordinated with the synchronised queue's
// clock. It is the glue that spawns and wires the transport, framing,
// decoder, resampler, queue, mixer and render-flow tasks for a single
// running pipeline.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/mediacompositor/pkg/config"
	"github.com/ethan/mediacompositor/pkg/decoder"
	"github.com/ethan/mediacompositor/pkg/endcondition"
	"github.com/ethan/mediacompositor/pkg/mixer"
	"github.com/ethan/mediacompositor/pkg/queue"
	"github.com/ethan/mediacompositor/pkg/renderflow"
	"github.com/ethan/mediacompositor/pkg/scheduler"
	"github.com/ethan/mediacompositor/pkg/transport"
	"github.com/ethan/mediacompositor/pkg/types"
)

// encoderChannelCapacity bounds each output's encoder-input channel; a
// stalled encoder backs frames up here before the drop/block policy kicks
// in.
const encoderChannelCapacity = 100

// InputState is the per-input lifecycle:
// Registered -> (Connected <-> FirstDataReceived) -> EOSReceived | Unregistered.
type InputState int

const (
	InputRegistered InputState = iota
	InputConnected
	InputFirstDataReceived
	InputEOSReceived
	InputUnregistered
)

// OutputState is the per-output lifecycle: Registered -> Rendering ->
// EOSEmitted | Unregistered.
type OutputState int

const (
	OutputRegistered OutputState = iota
	OutputRendering
	OutputEOSEmitted
	OutputUnregistered
)

// DecoderFactories supplies the external codec adapters the controller
// hands to each input's decode tasks. A factory left nil means
// the process cannot serve inputs declaring that media kind.
type DecoderFactories struct {
	NewVideo func(codec types.VideoCodec) (decoder.VideoDecoder, error)
	NewAudio func(codec types.AudioCodec, opts config.AACDecoderOptions) (decoder.AudioDecoder, error)
}

type inputEntry struct {
	state    InputState
	opts     config.InputOptions
	receiver transport.Receiver
	port     uint16
	stop     context.CancelFunc // ends this input's ingest/decode tasks
}

type outputEntry struct {
	videoEnd     *endcondition.Evaluator
	audioEnd     *endcondition.Evaluator
	mixer        *mixer.Mixer
	sender       transport.Sender
	videoOut     chan types.PipelineEvent[types.DecodedFrame]
	audioOut     chan types.PipelineEvent[types.InputSamples]
	state        OutputState
	videoEOSSent bool
	audioEOSSent bool
	neverDrop    bool
}

// Pipeline owns the full per-process dataflow: transports and framing,
// decoder tasks, resamplers, the queue, per-output mixers
// and end-condition evaluators, and the registration/state
// machinery that wires them together.
type Pipeline struct {
	log      *slog.Logger
	renderer renderflow.Renderer
	outRate  uint32
	decoders DecoderFactories

	neverDrop bool

	mu        sync.Mutex
	q         *queue.Queue
	flow      *renderflow.Flow
	scheduled *scheduler.Queue

	inputs  map[types.InputID]*inputEntry
	outputs map[types.OutputID]*outputEntry

	startTime time.Time

	// Dataflow counters, written by the ingest tasks and read by Stats.
	packetsIn        atomic.Uint64
	malformedPackets atomic.Uint64
	videoFramesIn    atomic.Uint64
	audioBatchesIn   atomic.Uint64
}

// New constructs a Pipeline in the "buffering before start" state. renderer
// is the external GPU renderer; outputRate is the pipeline's
// fixed audio output sample rate (mixers and resamplers all target it);
// decoders plugs in the external codec libraries.
func New(log *slog.Logger, renderer renderflow.Renderer, qopts config.QueueOptions, outputRate uint32, decoders DecoderFactories) *Pipeline {
	opts := queue.Options{
		NeverDropOutputFrames:  qopts.NeverDropOutputFrames,
		AheadOfTimeProcessing:  qopts.AheadOfTimeProcessing,
		RunLateScheduledEvents: qopts.RunLateScheduledEvents,
		DefaultBufferDuration:  time.Duration(qopts.DefaultBufferDuration) * time.Millisecond,
		VideoTickPeriod:        time.Duration(qopts.OutputFramerate.Seconds() * float64(time.Second)),
	}
	return &Pipeline{
		log:       log,
		renderer:  renderer,
		outRate:   outputRate,
		decoders:  decoders,
		neverDrop: qopts.NeverDropOutputFrames,
		q:         queue.New(log.With("component", "queue"), opts),
		flow:      renderflow.New(log.With("component", "renderer"), renderer),
		scheduled: scheduler.New(),
		inputs:    make(map[types.InputID]*inputEntry),
		outputs:   make(map[types.OutputID]*outputEntry),
		startTime: time.Now(),
	}
}

// Start transitions from "buffering before start" to "clock-running"; the
// first tick's PTS is defined as 0.
func (p *Pipeline) Start() {
	p.q.Start()
}

func (p *Pipeline) allConnectedInputs() []types.InputID {
	ids := make([]types.InputID, 0, len(p.inputs))
	for id, e := range p.inputs {
		if e.state != InputUnregistered && e.state != InputEOSReceived {
			ids = append(ids, id)
		}
	}
	return ids
}

// InputPort reports the port an input's transport actually bound within its
// requested range.
func (p *Pipeline) InputPort(id types.InputID) (uint16, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.inputs[id]
	if !ok {
		return 0, false
	}
	return e.port, true
}

// OutputSender exposes an output's egress transport for the (out-of-scope)
// encoder adapter: it payloads encoded chunks to RTP and writes them here,
// sending the RTCP goodbye when it drains the channel's EOS.
func (p *Pipeline) OutputSender(id types.OutputID) (transport.Sender, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.outputs[id]
	if !ok || e.sender == nil {
		return nil, false
	}
	return e.sender, true
}
