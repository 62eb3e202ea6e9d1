package api

import (
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ethan/mediacompositor/pkg/config"
	"github.com/ethan/mediacompositor/pkg/decoder"
	"github.com/ethan/mediacompositor/pkg/pipeline"
	"github.com/ethan/mediacompositor/pkg/types"
)

type nopRenderer struct{}

func (nopRenderer) UpdateScene(types.OutputID, types.Resolution, types.Scene) error { return nil }
func (nopRenderer) Render(types.FrameSet, map[types.OutputID]types.Scene) map[types.OutputID]types.DecodedFrame {
	return nil
}
func (nopRenderer) UnregisterOutput(types.OutputID) {}

type nopVideoDecoder struct{}

func (nopVideoDecoder) Decode(chunk types.EncodedChunk) ([]types.DecodedFrame, error) {
	return []types.DecodedFrame{{PTS: chunk.PTS}}, nil
}
func (nopVideoDecoder) Close() {}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	factories := pipeline.DecoderFactories{
		NewVideo: func(types.VideoCodec) (decoder.VideoDecoder, error) { return nopVideoDecoder{}, nil },
	}
	pl := pipeline.New(slog.New(slog.DiscardHandler), nopRenderer{}, config.DefaultQueueOptions(), 48000, factories)
	return NewServer(pl, slog.New(slog.DiscardHandler))
}

func TestRegisterInputOverHTTP(t *testing.T) {
	s := newTestServer(t)

	body := `{"id": "cam-1", "transport": "udp", "port": 41300, "port_high": 41310, "video_codec": "h264"}`
	rec := httptest.NewRecorder()
	s.handleInputs(rec, httptest.NewRequest("POST", "/api/inputs", strings.NewReader(body)))
	require.Equal(t, 201, rec.Code)

	// Duplicate id is a UserError, mapped to 400.
	rec = httptest.NewRecorder()
	s.handleInputs(rec, httptest.NewRequest("POST", "/api/inputs", strings.NewReader(body)))
	require.Equal(t, 400, rec.Code)
}

func TestUnregisterUnknownInputIs404(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleInputOperation(rec, httptest.NewRequest("DELETE", "/api/inputs/missing", nil))
	require.Equal(t, 404, rec.Code)
}

func TestRegisterInputRejectsBadAACConfig(t *testing.T) {
	s := newTestServer(t)

	body := `{"id": "mic-1", "port": 41320, "audio_codec": "aac", "audio_specific_config": "zz"}`
	rec := httptest.NewRecorder()
	s.handleInputs(rec, httptest.NewRequest("POST", "/api/inputs", strings.NewReader(body)))
	require.Equal(t, 400, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	s := newTestServer(t)

	rec := httptest.NewRecorder()
	s.handleStats(rec, httptest.NewRequest("GET", "/api/stats", nil))
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "packets_in")
}
