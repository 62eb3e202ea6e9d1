package pipeline

import (
	"context"
	"time"

	"github.com/ethan/mediacompositor/pkg/config"
	"github.com/ethan/mediacompositor/pkg/endcondition"
	"github.com/ethan/mediacompositor/pkg/mixer"
	"github.com/ethan/mediacompositor/pkg/pipelineerr"
	"github.com/ethan/mediacompositor/pkg/queue"
	"github.com/ethan/mediacompositor/pkg/transport"
	"github.com/ethan/mediacompositor/pkg/types"
)

func msToDuration(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

func endConditionOf(c config.OutputEndCondition) endcondition.Condition {
	kindMap := map[config.OutputEndConditionKind]endcondition.Kind{
		config.EndAnyOf:     endcondition.AnyOf,
		config.EndAllOf:     endcondition.AllOf,
		config.EndAnyInput:  endcondition.AnyInput,
		config.EndAllInputs: endcondition.AllInputs,
		config.EndNever:     endcondition.Never,
	}
	return endcondition.Condition{Kind: kindMap[c.Kind], Inputs: c.Inputs}
}

// RegisterInput rejects duplicates, binds the transport (trying each port
// of a range in order), spawns the
// depayload/decode/resample tasks, and attaches the input to the queue
// and every existing output's end-condition evaluators. Any failure
// after the bind rolls the registration back completely.
func (p *Pipeline) RegisterInput(id types.InputID, opts config.InputOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, exists := p.inputs[id]; exists && existing.state != InputUnregistered {
		return pipelineerr.Userf("register_input", "input %q already registered", id)
	}

	ctx, cancel := context.WithCancel(context.Background())
	receiver, err := transport.Bind(ctx, p.log.With("input", id), opts.Transport, opts.Port, opts.Signaller)
	if err != nil {
		cancel()
		return err
	}

	if err := p.startIngest(ctx, id, opts, receiver); err != nil {
		cancel()
		receiver.Close()
		return err
	}

	p.q.RegisterInput(id, queue.InputConfig{
		Required:       opts.Required,
		Offset:         msToDuration(opts.OffsetMS),
		BufferDuration: msToDuration(opts.BufferMS),
	})
	p.inputs[id] = &inputEntry{
		state:    InputConnected,
		opts:     opts,
		receiver: receiver,
		port:     receiver.LocalPort(),
		stop:     cancel,
	}

	for _, out := range p.outputs {
		out.videoEnd.Connect(id)
		out.audioEnd.Connect(id)
	}

	p.log.Info("input registered", "input", id, "transport", opts.Transport,
		"port", receiver.LocalPort(), "required", opts.Required)
	return nil
}

// RegisterOutput implements register_output: rejects duplicates and odd
// resolutions, binds the egress transport, and installs the initial
// scene/mix plus the mixer, render-flow and end-condition state for this
// output.
func (p *Pipeline) RegisterOutput(id types.OutputID, opts config.OutputOptions, initialScene types.Scene, initialMix types.MixSpec) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, exists := p.outputs[id]; exists && existing.state != OutputUnregistered {
		return pipelineerr.Userf("register_output", "output %q already registered", id)
	}
	for _, mi := range initialMix.Inputs {
		if _, ok := p.inputs[mi.Input]; !ok {
			return pipelineerr.Userf("register_output", "mix references unknown input %q", mi.Input)
		}
		if mi.Volume < 0 || mi.Volume > 1 {
			return pipelineerr.Userf("register_output", "volume for input %q must be in [0, 1], got %v", mi.Input, mi.Volume)
		}
	}

	sender, err := transport.BindSender(context.Background(), p.log.With("output", id), opts.Transport, opts.Host, opts.Port, string(id), opts.Signaller)
	if err != nil {
		return err
	}

	connected := p.allConnectedInputs()
	entry := &outputEntry{
		videoEnd:  endcondition.New(endConditionOf(opts.VideoEndCond), connected),
		audioEnd:  endcondition.New(endConditionOf(opts.AudioEndCond), connected),
		mixer:     mixer.New(p.outRate, initialMix),
		sender:    sender,
		videoOut:  make(chan types.PipelineEvent[types.DecodedFrame], encoderChannelCapacity),
		audioOut:  make(chan types.PipelineEvent[types.InputSamples], encoderChannelCapacity),
		state:     OutputRendering,
		neverDrop: p.neverDrop,
	}
	p.outputs[id] = entry
	p.flow.RegisterOutput(id, opts.Resolution, initialScene, entry.videoOut, entry.neverDrop)

	p.log.Info("output registered", "output", id, "transport", opts.Transport,
		"resolution", opts.Resolution)
	return nil
}

// PushVideoFrame feeds a decoded frame produced outside the built-in ingest
// chain (e.g. a file reader) into the synchronised queue for a registered
// input.
func (p *Pipeline) PushVideoFrame(id types.InputID, frame types.DecodedFrame) {
	p.q.PushVideoFrame(id, frame)
}

// PushAudioSamples feeds a resampled batch produced outside the built-in
// ingest chain into the synchronised queue for a registered input.
func (p *Pipeline) PushAudioSamples(id types.InputID, samples types.InputSamples) {
	p.q.PushAudioSamples(id, samples)
}

// VideoEncoderChannel exposes the bounded channel the render flow routes
// rendered frames to, for the external encoder adapter to consume.
func (p *Pipeline) VideoEncoderChannel(id types.OutputID) (<-chan types.PipelineEvent[types.DecodedFrame], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.outputs[id]
	if !ok {
		return nil, false
	}
	return e.videoOut, true
}

// AudioEncoderChannel exposes the bounded channel the mixer routes mixed
// PCM to.
func (p *Pipeline) AudioEncoderChannel(id types.OutputID) (<-chan types.PipelineEvent[types.InputSamples], bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.outputs[id]
	if !ok {
		return nil, false
	}
	return e.audioOut, true
}

// UpdateScene validates and schedules a scene update for output: installed
// immediately when scheduleTime is nil, else at the first tick whose
// PTS >= *scheduleTime.
func (p *Pipeline) UpdateScene(output types.OutputID, scene types.Scene, scheduleTime *time.Duration) error {
	p.mu.Lock()
	_, ok := p.outputs[output]
	p.mu.Unlock()
	if !ok {
		return pipelineerr.NotFoundf("update_scene", "output %q not registered", output)
	}

	if scheduleTime == nil {
		if err := p.flow.UpdateScene(output, scene); err != nil {
			return pipelineerr.Userf("update_scene", "%w", err)
		}
		return nil
	}
	p.scheduled.Schedule(*scheduleTime, func() {
		if err := p.flow.UpdateScene(output, scene); err != nil {
			p.log.Error("scheduled scene update failed", "output", output, "error", err)
		}
	})
	return nil
}

// UpdateMix validates and schedules a mix update for output.
func (p *Pipeline) UpdateMix(output types.OutputID, mix types.MixSpec, scheduleTime *time.Duration) error {
	p.mu.Lock()
	entry, ok := p.outputs[output]
	if ok {
		for _, mi := range mix.Inputs {
			if _, exists := p.inputs[mi.Input]; !exists {
				p.mu.Unlock()
				return pipelineerr.Userf("update_mix", "mix references unknown input %q", mi.Input)
			}
			if mi.Volume < 0 || mi.Volume > 1 {
				p.mu.Unlock()
				return pipelineerr.Userf("update_mix", "volume for input %q must be in [0, 1], got %v", mi.Input, mi.Volume)
			}
		}
	}
	p.mu.Unlock()
	if !ok {
		return pipelineerr.NotFoundf("update_mix", "output %q not registered", output)
	}

	apply := func() { entry.mixer.UpdateSpec(mix) }
	if scheduleTime == nil {
		apply()
		return nil
	}
	p.scheduled.Schedule(*scheduleTime, apply)
	return nil
}
