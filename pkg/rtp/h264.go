package rtp

import (
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"

	"github.com/ethan/mediacompositor/pkg/types"
)

const videoClockRate = 90000

// H264Depayloader reassembles RTP packets carrying FU-A/STAP-A/single NAL
// units into access units. pion's codecs.H264Packet already handles the
// per-packet reassembly (fragment buffering, aggregate splitting); this type
// only owns the access-unit boundary (marker bit) and the PTS rollover
// extension.
type H264Depayloader struct {
	inner    codecs.H264Packet
	buffer   [][]byte
	rollover RolloverState
}

// NewH264Depayloader returns a depayloader ready for a fresh H.264 stream.
func NewH264Depayloader() *H264Depayloader {
	return &H264Depayloader{}
}

// Depayload consumes one RTP packet and returns zero or one EncodedChunk: one
// exactly when pkt completes an access unit (its marker bit is set and the
// depacketized payload is non-empty).
func (d *H264Depayloader) Depayload(pkt *rtp.Packet) ([]types.EncodedChunk, error) {
	nalus, err := d.inner.Unmarshal(pkt.Payload)
	if err != nil {
		return nil, err
	}

	if len(nalus) == 0 {
		return nil, nil
	}

	d.buffer = append(d.buffer, nalus)
	if !pkt.Marker {
		return nil, nil
	}

	total := 0
	for _, b := range d.buffer {
		total += len(b)
	}
	data := make([]byte, 0, total)
	for _, b := range d.buffer {
		data = append(data, b...)
	}
	d.buffer = nil

	ts := d.rollover.Timestamp(pkt.Timestamp)
	chunk := types.EncodedChunk{
		Kind:     types.VideoChunkKind(types.VideoCodecH264),
		Data:     data,
		PTS:      time.Duration(float64(ts) / videoClockRate * float64(time.Second)),
		Keyframe: types.KeyframeUnknown,
	}
	return []types.EncodedChunk{chunk}, nil
}

// H264Payloader splits an outgoing access unit into RTP packets, the inverse
// of H264Depayloader, with a per-output SSRC and a wrapping sequence number.
type H264Payloader struct {
	inner codecs.H264Payloader
	ssrc  uint32
	seq   uint16
	mtu   uint16
}

// NewH264Payloader returns a payloader for one output track.
func NewH264Payloader(ssrc uint32, mtu uint16) *H264Payloader {
	return &H264Payloader{ssrc: ssrc, mtu: mtu}
}

// Payload splits chunk.Data (one or more Annex-B NAL units) into RTP
// packets, setting the marker bit on the last packet and converting pts to a
// 90kHz RTP timestamp (wrapping modulo 2^32: the value is converted to
// uint64 first, then truncated to uint32).
func (p *H264Payloader) Payload(chunk types.EncodedChunk) []*rtp.Packet {
	timestamp := uint32(uint64(chunk.PTS.Seconds() * videoClockRate))
	payloads := p.inner.Payload(p.mtu, chunk.Data)

	packets := make([]*rtp.Packet, 0, len(payloads))
	for i, payload := range payloads {
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				PayloadType:    VideoPayloadType,
				SequenceNumber: p.seq,
				Timestamp:      timestamp,
				SSRC:           p.ssrc,
				Marker:         i == len(payloads)-1,
			},
			Payload: payload,
		}
		p.seq++
		packets = append(packets, pkt)
	}
	return packets
}
