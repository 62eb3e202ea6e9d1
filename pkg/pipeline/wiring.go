package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ethan/mediacompositor/pkg/types"
)

// Run starts the queue's tick goroutines and the controller's own tick
// consumer: applying due scheduled scene/mix/unregister updates at each
// tick's PTS, routing video ticks to the render flow and audio ticks
// to each output's mixer. It blocks until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(4)
	go func() { defer wg.Done(); p.q.Run(ctx) }()
	go func() { defer wg.Done(); p.runVideoConsumer(ctx) }()
	go func() { defer wg.Done(); p.runAudioConsumer(ctx) }()
	go func() { defer wg.Done(); p.statsLoop(ctx) }()
	wg.Wait()
}

func (p *Pipeline) runVideoConsumer(ctx context.Context) {
	for {
		select {
		case ev, ok := <-p.q.VideoTicks():
			if !ok {
				return
			}
			if ev.IsEOS {
				return
			}
			p.drainScheduled(ev.Data.PTS)
			p.flow.Tick(ev.Data)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) runAudioConsumer(ctx context.Context) {
	for {
		select {
		case ev, ok := <-p.q.AudioTicks():
			if !ok {
				return
			}
			if ev.IsEOS {
				return
			}
			p.drainScheduled(ev.Data.EndPTS)
			p.mixTick(ev.Data)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pipeline) mixTick(set types.InputSamplesSet) {
	p.mu.Lock()
	entries := make(map[types.OutputID]*outputEntry, len(p.outputs))
	for id, e := range p.outputs {
		entries[id] = e
	}
	p.mu.Unlock()

	for id, e := range entries {
		mixed := e.mixer.Mix(set)
		ev := types.NewData(mixed)
		if e.neverDrop {
			e.audioOut <- ev
			continue
		}
		select {
		case e.audioOut <- ev:
		default:
			p.log.Warn("pipeline: audio encoder channel full, dropping batch", "output", id, "pts", set.StartPTS)
		}
	}
}

// drainScheduled applies every scene/mix/unregister update whose deadline
// has been reached by now: a scheduled update is installed at the first
// tick whose PTS crosses its deadline.
func (p *Pipeline) drainScheduled(now time.Duration) {
	for _, ev := range p.scheduled.DrainDue(now) {
		if fn, ok := ev.Payload.(func()); ok {
			fn()
		}
	}
}
