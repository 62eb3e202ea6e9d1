// Package queue implements the synchronised media queue, the heart of the
// dataflow. One Queue instance owns every registered input's buffers, the
// phase-aligned video/audio tick clocks, and the scheduled
// scene/mix/unregister updates that take effect at a future tick PTS.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ethan/mediacompositor/pkg/scheduler"
	"github.com/ethan/mediacompositor/pkg/types"
)

// AudioTickPeriod is the fixed audio tick window.
const AudioTickPeriod = 20 * time.Millisecond

// pollInterval is how often a postponed tick re-checks readiness; small
// relative to DefaultBufferDuration so the 100ms typical postponement
// budget isn't mostly burned waiting on a coarse poll.
const pollInterval = 2 * time.Millisecond

// Options are the pipeline-wide queue knobs.
type Options struct {
	NeverDropOutputFrames  bool
	AheadOfTimeProcessing  bool
	RunLateScheduledEvents bool
	DefaultBufferDuration  time.Duration
	VideoTickPeriod        time.Duration // 1/output_framerate
}

// Queue is the synchronised media queue. All mutation of per-input state
// happens on the tick goroutines started by Run; Register/Push/Unregister
// calls from other tasks are message sends in spirit, implemented here as
// mutex-guarded methods so the hot path still never blocks on anything but
// the lock itself (held only for the duration of a slice append).
type Queue struct {
	log  *slog.Logger
	opts Options

	mu      sync.Mutex
	inputs  map[types.InputID]*inputBuffer
	started bool
	epoch   time.Time // wall-clock instant corresponding to pipeline PTS 0

	scheduled *scheduler.Queue // (ptsDeadline, func()): scene/mix/unregister

	videoOut chan types.PipelineEvent[types.FrameSet]
	audioOut chan types.PipelineEvent[types.InputSamplesSet]

	videoDone chan struct{}
	audioDone chan struct{}
}

// New constructs a Queue. Call Run to start the tick goroutines once the
// pipeline is ready to accept Start().
func New(log *slog.Logger, opts Options) *Queue {
	return &Queue{
		log:       log,
		opts:      opts,
		inputs:    make(map[types.InputID]*inputBuffer),
		scheduled: scheduler.New(),
		videoOut:  make(chan types.PipelineEvent[types.FrameSet], 4),
		audioOut:  make(chan types.PipelineEvent[types.InputSamplesSet], 4),
		videoDone: make(chan struct{}),
		audioDone: make(chan struct{}),
	}
}

// VideoTicks is the per-pipeline FrameSet stream consumed by the render
// flow.
func (q *Queue) VideoTicks() <-chan types.PipelineEvent[types.FrameSet] { return q.videoOut }

// AudioTicks is the per-pipeline InputSamplesSet stream consumed by the
// mixers.
func (q *Queue) AudioTicks() <-chan types.PipelineEvent[types.InputSamplesSet] { return q.audioOut }

// RegisterInput adds an input's buffer state. Data may be pushed and will
// be buffered even before Start(); no tick fires until Start() is called.
func (q *Queue) RegisterInput(id types.InputID, cfg InputConfig) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.inputs[id] = newInputBuffer(id, cfg)
}

// UnregisterInput removes an input immediately; an input unregistered
// without EOS is treated as immediate EOS for both media kinds.
func (q *Queue) UnregisterInput(id types.InputID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.inputs, id)
}

// ScheduleUnregisterInput removes id at the first tick whose PTS >= at. The
// payload runs from drainScheduledLocked, which already holds q.mu, so it
// mutates q.inputs directly rather than calling the locking UnregisterInput.
func (q *Queue) ScheduleUnregisterInput(id types.InputID, at time.Duration) {
	q.scheduled.Schedule(at, func() { delete(q.inputs, id) })
}

// Start transitions the queue from "buffering before start" to
// "clock-running": the first tick's PTS is defined as 0, anchored to the
// wall-clock instant Start is called.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.started = true
	q.epoch = time.Now()
}

// PushVideoFrame feeds one decoded frame for id, at rawPTS in that input's
// own clock. It is mapped to the pipeline clock using the current wall time
// as tickNow for auto-phasing purposes.
func (q *Queue) PushVideoFrame(id types.InputID, frame types.DecodedFrame) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.inputs[id]
	if !ok {
		return
	}
	frame.PTS = b.mapPTS(q.tickNowLocked(), frame.PTS)
	b.pushVideo(frame)
}

// PushVideoEOS marks id's video side as finished; the queue keeps freezing
// (or stays absent) on that side until the end-condition evaluator asks
// for output EOS.
func (q *Queue) PushVideoEOS(id types.InputID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if b, ok := q.inputs[id]; ok {
		b.videoEOS = true
	}
}

// PushAudioSamples feeds one resampled batch for id.
func (q *Queue) PushAudioSamples(id types.InputID, samples types.InputSamples) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b, ok := q.inputs[id]
	if !ok {
		return
	}
	samples.StartPTS = b.mapPTS(q.tickNowLocked(), samples.StartPTS)
	b.pushAudio(samples)
}

// PushAudioEOS marks id's audio side as finished.
func (q *Queue) PushAudioEOS(id types.InputID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if b, ok := q.inputs[id]; ok {
		b.audioEOS = true
	}
}

// tickNowLocked returns the pipeline-clock instant "now" for PTS
// normalisation; before Start(), inputs may still buffer and auto-phase
// against PTS 0 so a late Start() doesn't distort their epoch.
func (q *Queue) tickNowLocked() time.Duration {
	if !q.started {
		return 0
	}
	return time.Since(q.epoch)
}

// Run starts the video and audio tick goroutines and blocks until ctx is
// cancelled. Callers normally invoke it in its own goroutine.
func (q *Queue) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); q.runVideoTicks(ctx) }()
	go func() { defer wg.Done(); q.runAudioTicks(ctx) }()
	wg.Wait()
}

func (q *Queue) waitForStart(ctx context.Context) (time.Time, bool) {
	for {
		q.mu.Lock()
		started, epoch := q.started, q.epoch
		q.mu.Unlock()
		if started {
			return epoch, true
		}
		select {
		case <-ctx.Done():
			return time.Time{}, false
		case <-time.After(pollInterval):
		}
	}
}

func (q *Queue) runVideoTicks(ctx context.Context) {
	defer close(q.videoDone)
	epoch, ok := q.waitForStart(ctx)
	if !ok {
		return
	}
	t := time.Duration(0)
	for {
		deadline := epoch.Add(t)
		// Ahead-of-time processing: when every input already holds a frame
		// covering this tick, produce it without waiting for the wall
		// clock. The bounded videoOut channel keeps the lookahead small.
		if !q.readyAheadOfTime(t) && !sleepUntil(ctx, deadline) {
			return
		}

		postponeDeadline := deadline.Add(q.opts.DefaultBufferDuration)
		q.mu.Lock()
		for !q.allRequiredVideoReadyLocked(t) && time.Now().Before(postponeDeadline) {
			q.mu.Unlock()
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			q.mu.Lock()
		}
		q.drainScheduledLocked(t)
		fs := q.produceVideoTickLocked(t)
		q.mu.Unlock()

		select {
		case q.videoOut <- types.NewData(fs):
		case <-ctx.Done():
			return
		}
		t += q.opts.VideoTickPeriod
	}
}

func (q *Queue) runAudioTicks(ctx context.Context) {
	defer close(q.audioDone)
	epoch, ok := q.waitForStart(ctx)
	if !ok {
		return
	}
	t := time.Duration(0)
	for {
		end := t + AudioTickPeriod
		deadline := epoch.Add(end)
		if !sleepUntil(ctx, deadline) {
			return
		}

		q.mu.Lock()
		set := q.produceAudioTickLocked(t, end)
		q.mu.Unlock()

		select {
		case q.audioOut <- types.NewData(set):
		case <-ctx.Done():
			return
		}
		t = end
	}
}

func sleepUntil(ctx context.Context, deadline time.Time) bool {
	d := time.Until(deadline)
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (q *Queue) allRequiredVideoReadyLocked(t time.Duration) bool {
	for _, b := range q.inputs {
		if b.config.Required && !b.videoReady(t) {
			return false
		}
	}
	return true
}

func (q *Queue) produceVideoTickLocked(t time.Duration) types.FrameSet {
	frames := make(map[types.InputID]types.DecodedFrame)
	for id, b := range q.inputs {
		if f, ok := b.selectVideoFrame(t, q.opts.VideoTickPeriod, q.opts.NeverDropOutputFrames); ok {
			frames[id] = f
		}
	}
	return types.FrameSet{Frames: frames, PTS: t}
}

func (q *Queue) produceAudioTickLocked(t, end time.Duration) types.InputSamplesSet {
	out := make(map[types.InputID][]types.InputSamples)
	for id, b := range q.inputs {
		if len(b.audioPending) == 0 && !b.audioEOS {
			continue
		}
		samples := produceAudioInput(b.audioPending, t, end, pipelineAudioRateHint(b), func() {
			q.log.Warn("queue: audio overlap beyond first batch of tick", "input", id, "tick", t)
		})
		// Drop consumed/irrelevant batches that end before this tick so the
		// per-input ring doesn't grow unboundedly.
		kept := b.audioPending[:0]
		for _, batch := range b.audioPending {
			if batch.EndPTS() > end {
				kept = append(kept, batch)
			}
		}
		b.audioPending = kept
		out[id] = []types.InputSamples{{StartPTS: t, SampleRate: pipelineAudioRateHint(b), Samples: samples}}
	}
	return types.InputSamplesSet{Samples: out, StartPTS: t, EndPTS: end}
}

// pipelineAudioRateHint reads the sample rate off whatever batch is
// present; all InputSamples in this pipeline share the one configured
// output rate (the resampler's contract), so any buffered batch carries it.
func pipelineAudioRateHint(b *inputBuffer) uint32 {
	if len(b.audioPending) > 0 {
		return b.audioPending[0].SampleRate
	}
	return 0
}

// readyAheadOfTime reports whether the tick at t can fire early: the
// option is on, at least one input is registered, and every input not at
// video EOS already holds a pending frame at or past t.
func (q *Queue) readyAheadOfTime(t time.Duration) bool {
	if !q.opts.AheadOfTimeProcessing {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.inputs) == 0 {
		return false
	}
	for _, b := range q.inputs {
		if !b.videoEOS && !b.hasFrameAtOrAfter(t) {
			return false
		}
	}
	return true
}

// drainScheduledLocked applies due scheduled events. An event that missed
// its deadline by more than a full tick only runs when the queue is
// configured to run late events; otherwise it is dropped with a warning.
func (q *Queue) drainScheduledLocked(t time.Duration) {
	for _, ev := range q.scheduled.DrainDue(t) {
		if !q.opts.RunLateScheduledEvents && t-ev.Deadline > q.opts.VideoTickPeriod {
			q.log.Warn("dropping late scheduled event", "deadline", ev.Deadline, "tick", t)
			continue
		}
		if fn, ok := ev.Payload.(func()); ok {
			fn()
		}
	}
}
