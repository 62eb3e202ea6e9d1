package pipeline

import (
	"time"

	"github.com/ethan/mediacompositor/pkg/pipelineerr"
	"github.com/ethan/mediacompositor/pkg/types"
)

// UnregisterInput removes input after all ticks with PTS < scheduleTime
// have completed (or immediately when scheduleTime is nil), treating it as
// immediate EOS for both media kinds.
func (p *Pipeline) UnregisterInput(id types.InputID, scheduleTime *time.Duration) error {
	p.mu.Lock()
	e, ok := p.inputs[id]
	if ok && e.state == InputUnregistered {
		ok = false
	}
	p.mu.Unlock()
	if !ok {
		return pipelineerr.NotFoundf("unregister_input", "input %q not registered", id)
	}

	apply := func() { p.removeInput(id) }
	if scheduleTime == nil {
		apply()
		return nil
	}
	p.scheduled.Schedule(*scheduleTime, apply)
	return nil
}

func (p *Pipeline) removeInput(id types.InputID) {
	p.mu.Lock()
	e, ok := p.inputs[id]
	if !ok || e.state == InputUnregistered {
		p.mu.Unlock()
		return
	}
	e.state = InputUnregistered
	p.mu.Unlock()

	// Tearing the transport down makes the ingest tasks observe channel
	// closure and finish; their exit paths deliver the implicit EOS to the
	// evaluators via NotifyInputEOS, so the queue removal below never races
	// a late push (pushes to an unknown id are no-ops).
	e.stop()
	if e.receiver != nil {
		e.receiver.Close()
	}
	p.q.UnregisterInput(id)

	p.mu.Lock()
	outputs := make([]*outputEntry, 0, len(p.outputs))
	outputIDs := make([]types.OutputID, 0, len(p.outputs))
	for oid, oe := range p.outputs {
		outputs = append(outputs, oe)
		outputIDs = append(outputIDs, oid)
	}
	p.mu.Unlock()

	for i, oe := range outputs {
		if oe.videoEnd.Disconnect(id) {
			p.emitVideoEOS(outputIDs[i], oe)
		}
		if oe.audioEnd.Disconnect(id) {
			p.emitAudioEOS(outputIDs[i], oe)
		}
	}
}

// UnregisterOutput removes output after all ticks with PTS < scheduleTime
// have completed.
func (p *Pipeline) UnregisterOutput(id types.OutputID, scheduleTime *time.Duration) error {
	p.mu.Lock()
	_, ok := p.outputs[id]
	p.mu.Unlock()
	if !ok {
		return pipelineerr.NotFoundf("unregister_output", "output %q not registered", id)
	}

	apply := func() { p.removeOutput(id) }
	if scheduleTime == nil {
		apply()
		return nil
	}
	p.scheduled.Schedule(*scheduleTime, apply)
	return nil
}

func (p *Pipeline) removeOutput(id types.OutputID) {
	p.mu.Lock()
	e, ok := p.outputs[id]
	if ok {
		delete(p.outputs, id)
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	p.flow.UnregisterOutput(id)
	close(e.videoOut)
	close(e.audioOut)
	if e.sender != nil {
		e.sender.Close()
	}
}

// NotifyInputEOS is called when an input's upstream delivers EOS for one
// media kind: the queue keeps freezing/zero-padding that side until each
// output's evaluator asks for its own EOS.
func (p *Pipeline) NotifyInputEOS(id types.InputID, kind types.MediaKind) {
	switch kind {
	case types.MediaVideo:
		p.q.PushVideoEOS(id)
	case types.MediaAudio:
		p.q.PushAudioEOS(id)
	}

	p.mu.Lock()
	if e, ok := p.inputs[id]; ok && e.state != InputUnregistered {
		e.state = InputEOSReceived
	}
	outputs := make([]*outputEntry, 0, len(p.outputs))
	outputIDs := make([]types.OutputID, 0, len(p.outputs))
	for oid, oe := range p.outputs {
		outputs = append(outputs, oe)
		outputIDs = append(outputIDs, oid)
	}
	p.mu.Unlock()

	for i, oe := range outputs {
		switch kind {
		case types.MediaVideo:
			if oe.videoEnd.Disconnect(id) {
				p.emitVideoEOS(outputIDs[i], oe)
			}
		case types.MediaAudio:
			if oe.audioEnd.Disconnect(id) {
				p.emitAudioEOS(outputIDs[i], oe)
			}
		}
	}
}

// emitVideoEOS sends exactly one EOS on output's video encoder channel.
// evaluator.Disconnect only returns true once, but videoEOSSent guards the
// send against a concurrent caller too.
func (p *Pipeline) emitVideoEOS(id types.OutputID, e *outputEntry) {
	p.mu.Lock()
	already := e.videoEOSSent
	e.videoEOSSent = true
	if e.videoEOSSent && e.audioEOSSent {
		e.state = OutputEOSEmitted
	}
	p.mu.Unlock()
	if already {
		return
	}
	e.videoOut <- types.EOS[types.DecodedFrame]()
	p.log.Info("output video EOS emitted", "output", id)
}

func (p *Pipeline) emitAudioEOS(id types.OutputID, e *outputEntry) {
	p.mu.Lock()
	already := e.audioEOSSent
	e.audioEOSSent = true
	if e.videoEOSSent && e.audioEOSSent {
		e.state = OutputEOSEmitted
	}
	p.mu.Unlock()
	if already {
		return
	}
	e.audioOut <- types.EOS[types.InputSamples]()
	p.log.Info("output audio EOS emitted", "output", id)
}
