package rtp

import (
	"fmt"
	"time"

	"github.com/pion/rtp"

	"github.com/ethan/mediacompositor/pkg/types"
)

// opusClockRate is fixed at 48kHz by RFC 7587 regardless of the coded
// audio's internal bandwidth.
const opusClockRate = 48000

// OpusDepayloader maps RTP packets to EncodedChunks one-to-one: RFC 7587
// carries exactly one Opus packet per RTP packet, so there is no
// access-unit reassembly to do, only PTS rollover extension.
type OpusDepayloader struct {
	rollover RolloverState
}

// NewOpusDepayloader returns a depayloader ready for a fresh Opus stream.
func NewOpusDepayloader() *OpusDepayloader {
	return &OpusDepayloader{}
}

// Depayload consumes one RTP packet and returns exactly one EncodedChunk.
func (d *OpusDepayloader) Depayload(pkt *rtp.Packet) ([]types.EncodedChunk, error) {
	if len(pkt.Payload) == 0 {
		return nil, fmt.Errorf("empty opus packet")
	}

	ts := d.rollover.Timestamp(pkt.Timestamp)
	data := make([]byte, len(pkt.Payload))
	copy(data, pkt.Payload)

	chunk := types.EncodedChunk{
		Kind:     types.AudioChunkKind(types.AudioCodecOpus),
		Data:     data,
		PTS:      time.Duration(float64(ts) / opusClockRate * float64(time.Second)),
		Keyframe: types.KeyframeNotApplicable,
	}
	return []types.EncodedChunk{chunk}, nil
}

// OpusPayloader wraps outgoing Opus packets in RTP, one packet per chunk,
// with a per-output SSRC and a wrapping sequence number. Opus has no
// access-unit boundary to mark, so the marker bit stays clear.
type OpusPayloader struct {
	ssrc uint32
	seq  uint16
}

// NewOpusPayloader returns a payloader for one output track.
func NewOpusPayloader(ssrc uint32) *OpusPayloader {
	return &OpusPayloader{ssrc: ssrc}
}

// Payload wraps chunk.Data into a single RTP packet at the 48kHz RFC 7587
// clock.
func (p *OpusPayloader) Payload(chunk types.EncodedChunk) []*rtp.Packet {
	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    AudioPayloadType,
			SequenceNumber: p.seq,
			Timestamp:      uint32(chunk.PTS.Seconds() * opusClockRate),
			SSRC:           p.ssrc,
		},
		Payload: chunk.Data,
	}
	p.seq++
	return []*rtp.Packet{pkt}
}
