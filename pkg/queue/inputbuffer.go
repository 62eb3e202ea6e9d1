package queue

import (
	"sort"
	"time"

	"github.com/ethan/mediacompositor/pkg/types"
)

// InputConfig is the per-input state the queue needs beyond raw media:
// required-ness, PTS offset/auto-phase choice, and a per-input buffer
// duration. The video tick's postponement budget is always the queue's
// DefaultBufferDuration; BufferDuration is stored but the tick loop does
// not read it.
type InputConfig struct {
	Required       bool
	Offset         *time.Duration // nil: auto-phase on first data
	BufferDuration *time.Duration // nil: use the queue's default
}

// inputBuffer is one input's slice of queue state: pending frames/samples,
// EOS-by-kind, and the PTS normalisation epoch. It is only touched while the
// owning Queue's mutex is held, so it carries no lock of its own.
type inputBuffer struct {
	id     types.InputID
	config InputConfig

	epoch *time.Duration // input_epoch; nil until resolved (or irrelevant when Offset is set)

	videoPending   []types.DecodedFrame // ascending by pipeline PTS
	lastVideoFrame *types.DecodedFrame
	videoEOS       bool

	audioPending []types.InputSamples // ascending by pipeline StartPTS
	audioEOS     bool
}

func newInputBuffer(id types.InputID, cfg InputConfig) *inputBuffer {
	return &inputBuffer{id: id, config: cfg}
}

// mapPTS converts an input-clock PTS to the pipeline clock: a configured
// offset is exact and skips
// auto-phasing entirely; otherwise the first call fixes input_epoch so this
// input's first sample/frame lands at tickNow.
func (b *inputBuffer) mapPTS(tickNow, rawPTS time.Duration) time.Duration {
	if b.config.Offset != nil {
		return rawPTS + *b.config.Offset
	}
	if b.epoch == nil {
		e := tickNow - rawPTS
		b.epoch = &e
	}
	return rawPTS + *b.epoch
}

func (b *inputBuffer) bufferDuration(fallback time.Duration) time.Duration {
	if b.config.BufferDuration != nil {
		return *b.config.BufferDuration
	}
	return fallback
}

func (b *inputBuffer) pushVideo(f types.DecodedFrame) {
	i := sort.Search(len(b.videoPending), func(i int) bool { return b.videoPending[i].PTS >= f.PTS })
	b.videoPending = append(b.videoPending, types.DecodedFrame{})
	copy(b.videoPending[i+1:], b.videoPending[i:])
	b.videoPending[i] = f
}

func (b *inputBuffer) pushAudio(s types.InputSamples) {
	i := sort.Search(len(b.audioPending), func(i int) bool { return b.audioPending[i].StartPTS >= s.StartPTS })
	b.audioPending = append(b.audioPending, types.InputSamples{})
	copy(b.audioPending[i+1:], b.audioPending[i:])
	b.audioPending[i] = s
}

// hasFrameAtOrAfter reports whether a pending frame covers tick time t.
func (b *inputBuffer) hasFrameAtOrAfter(t time.Duration) bool {
	for _, f := range b.videoPending {
		if f.PTS >= t {
			return true
		}
	}
	return false
}

// videoReady reports whether this input satisfies the video tick's
// postponement condition at t: not required, already at EOS, or already
// carrying a frame at or past t.
func (b *inputBuffer) videoReady(t time.Duration) bool {
	if !b.config.Required || b.videoEOS {
		return true
	}
	return b.hasFrameAtOrAfter(t)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

// selectVideoFrame picks this input's frame for the tick at t: the
// closest-to-t pending frame is normally selected and stale
// unselected frames are dropped; when neverDrop is set the oldest pending
// frame is selected instead (preserving every frame, never skipping ahead)
// and nothing is ever dropped. Freezes on the last delivered frame when
// nothing is pending, and reports false when this input has never
// delivered a frame (absent from the FrameSet).
func (b *inputBuffer) selectVideoFrame(t, period time.Duration, neverDrop bool) (types.DecodedFrame, bool) {
	if len(b.videoPending) == 0 {
		if b.lastVideoFrame != nil {
			return *b.lastVideoFrame, true
		}
		return types.DecodedFrame{}, false
	}

	if neverDrop {
		f := b.videoPending[0]
		b.videoPending = b.videoPending[1:]
		b.lastVideoFrame = &f
		return f, true
	}

	bestIdx := 0
	bestDiff := absDuration(b.videoPending[0].PTS - t)
	for i := 1; i < len(b.videoPending); i++ {
		d := absDuration(b.videoPending[i].PTS - t)
		if d < bestDiff || (d == bestDiff && b.videoPending[i].PTS < b.videoPending[bestIdx].PTS) {
			bestIdx, bestDiff = i, d
		}
	}
	selected := b.videoPending[bestIdx]

	dropThreshold := t - period
	kept := b.videoPending[:0]
	for i, f := range b.videoPending {
		if i == bestIdx {
			continue
		}
		if f.PTS < dropThreshold {
			continue // stale, never selected: dropped
		}
		kept = append(kept, f)
	}
	b.videoPending = kept
	b.lastVideoFrame = &selected
	return selected, true
}
