package pipeline

import (
	"context"
	"time"

	"github.com/ethan/mediacompositor/pkg/types"
)

// statsInterval is how often the running pipeline logs its dataflow
// counters.
const statsInterval = 30 * time.Second

// InputStats is one input's transport-level view.
type InputStats struct {
	State           InputState
	Port            uint16
	PacketsReceived uint64
}

// Stats is a point-in-time snapshot of the pipeline's dataflow counters.
type Stats struct {
	Uptime           time.Duration
	PacketsIn        uint64
	MalformedPackets uint64
	VideoFramesIn    uint64
	AudioBatchesIn   uint64
	Inputs           map[types.InputID]InputStats
	Outputs          int
}

// Stats returns the current counters. Safe to call from any goroutine.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Uptime:           time.Since(p.startTime),
		PacketsIn:        p.packetsIn.Load(),
		MalformedPackets: p.malformedPackets.Load(),
		VideoFramesIn:    p.videoFramesIn.Load(),
		AudioBatchesIn:   p.audioBatchesIn.Load(),
		Inputs:           make(map[types.InputID]InputStats),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, e := range p.inputs {
		if e.state == InputUnregistered {
			continue
		}
		is := InputStats{State: e.state, Port: e.port}
		if e.receiver != nil {
			is.PacketsReceived = e.receiver.PacketsReceived()
		}
		s.Inputs[id] = is
	}
	s.Outputs = len(p.outputs)
	return s
}

// statsLoop periodically logs pipeline statistics until ctx is cancelled.
func (p *Pipeline) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := p.Stats()
			p.log.Info("pipeline statistics",
				"uptime", s.Uptime.Round(time.Second),
				"packets_in", s.PacketsIn,
				"malformed_packets", s.MalformedPackets,
				"video_frames_in", s.VideoFramesIn,
				"audio_batches_in", s.AudioBatchesIn,
				"inputs", len(s.Inputs),
				"outputs", s.Outputs)
		}
	}
}
