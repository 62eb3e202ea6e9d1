// Package renderflow implements the frame flow to the renderer: per tick,
// bundling the queue's FrameSet with each output's active Scene and routing
// the rendered Frame to that output's encoder.
package renderflow

import (
	"log/slog"
	"sync"

	"github.com/ethan/mediacompositor/pkg/types"
)

// Renderer is the external GPU renderer contract. The compositing, layout
// and shader work lives behind it; this package only calls it once per
// output per tick and routes the result.
type Renderer interface {
	UpdateScene(output types.OutputID, resolution types.Resolution, scene types.Scene) error
	Render(frames types.FrameSet, scenes map[types.OutputID]types.Scene) map[types.OutputID]types.DecodedFrame
	UnregisterOutput(output types.OutputID)
}

// outputSink is one output's encoder-input channel and backpressure policy.
type outputSink struct {
	resolution types.Resolution
	encoderIn  chan<- types.PipelineEvent[types.DecodedFrame]
	blockFull  bool // never_drop_output_frames
}

// Flow owns the per-output active Scene map and routes rendered frames to
// encoder channels with the configured backpressure policy.
type Flow struct {
	log      *slog.Logger
	renderer Renderer

	mu      sync.Mutex
	scenes  map[types.OutputID]types.Scene
	outputs map[types.OutputID]*outputSink
}

// New constructs a Flow around renderer.
func New(log *slog.Logger, renderer Renderer) *Flow {
	return &Flow{
		log:      log,
		renderer: renderer,
		scenes:   make(map[types.OutputID]types.Scene),
		outputs:  make(map[types.OutputID]*outputSink),
	}
}

// RegisterOutput installs the initial scene for output and its bounded
// encoder-input channel.
func (f *Flow) RegisterOutput(output types.OutputID, resolution types.Resolution, initial types.Scene, encoderIn chan<- types.PipelineEvent[types.DecodedFrame], neverDropOutputFrames bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scenes[output] = initial
	f.outputs[output] = &outputSink{resolution: resolution, encoderIn: encoderIn, blockFull: neverDropOutputFrames}
}

// UnregisterOutput drops routing state for output and notifies the
// renderer so it can free any per-output GPU state.
func (f *Flow) UnregisterOutput(output types.OutputID) {
	f.mu.Lock()
	delete(f.scenes, output)
	delete(f.outputs, output)
	f.mu.Unlock()
	f.renderer.UnregisterOutput(output)
}

// UpdateScene installs a new Scene for output immediately. Scheduled
// installation at a future tick PTS is the caller's responsibility via the
// shared scheduler.Queue, since Flow itself has no notion of tick PTS
// deadlines. It only ever applies a scene the instant it's told to.
func (f *Flow) UpdateScene(output types.OutputID, scene types.Scene) error {
	f.mu.Lock()
	sink, ok := f.outputs[output]
	f.mu.Unlock()
	if !ok {
		return nil
	}
	if err := f.renderer.UpdateScene(output, sink.resolution, scene); err != nil {
		return err
	}
	f.mu.Lock()
	f.scenes[output] = scene
	f.mu.Unlock()
	return nil
}

// Tick renders one FrameSet against every registered output's active
// Scene and routes the result to each output's encoder channel, applying
// the per-output backpressure policy on a full channel: block when frames
// must never be dropped, else drop and log.
func (f *Flow) Tick(frames types.FrameSet) {
	f.mu.Lock()
	scenes := make(map[types.OutputID]types.Scene, len(f.scenes))
	for id, s := range f.scenes {
		scenes[id] = s
	}
	outputs := make(map[types.OutputID]*outputSink, len(f.outputs))
	for id, o := range f.outputs {
		outputs[id] = o
	}
	f.mu.Unlock()

	rendered := f.renderer.Render(frames, scenes)
	for id, sink := range outputs {
		frame, ok := rendered[id]
		if !ok {
			continue
		}
		ev := types.NewData(frame)
		if sink.blockFull {
			sink.encoderIn <- ev
			continue
		}
		select {
		case sink.encoderIn <- ev:
		default:
			f.log.Warn("renderflow: encoder channel full, dropping frame", "output", id, "pts", frames.PTS)
		}
	}
}
