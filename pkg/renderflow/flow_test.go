package renderflow

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethan/mediacompositor/pkg/types"
)

type fakeRenderer struct {
	unregistered []types.OutputID
}

func (f *fakeRenderer) UpdateScene(types.OutputID, types.Resolution, types.Scene) error { return nil }
func (f *fakeRenderer) Render(frames types.FrameSet, scenes map[types.OutputID]types.Scene) map[types.OutputID]types.DecodedFrame {
	out := make(map[types.OutputID]types.DecodedFrame)
	for id := range scenes {
		out[id] = types.DecodedFrame{PTS: frames.PTS}
	}
	return out
}
func (f *fakeRenderer) UnregisterOutput(id types.OutputID) { f.unregistered = append(f.unregistered, id) }

func TestFlowDropsOnFullChannelWithoutNeverDrop(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	flow := New(log, &fakeRenderer{})
	ch := make(chan types.PipelineEvent[types.DecodedFrame], 1)
	flow.RegisterOutput("out1", types.Resolution{Width: 2, Height: 2}, types.Scene{}, ch, false)

	flow.Tick(types.FrameSet{PTS: 0})
	flow.Tick(types.FrameSet{PTS: 1}) // channel already full: dropped, not blocked

	require.Len(t, ch, 1)
}

func TestFlowUnregisterNotifiesRenderer(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	r := &fakeRenderer{}
	flow := New(log, r)
	ch := make(chan types.PipelineEvent[types.DecodedFrame], 1)
	flow.RegisterOutput("out1", types.Resolution{Width: 2, Height: 2}, types.Scene{}, ch, false)

	flow.UnregisterOutput("out1")
	require.Equal(t, []types.OutputID{"out1"}, r.unregistered)
}
