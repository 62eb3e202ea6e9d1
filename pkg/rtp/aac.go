package rtp

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/pion/rtp"

	"github.com/ethan/mediacompositor/pkg/types"
)

// AACDepayloaderMode selects the RFC 3640 AU-header bit layout: LowBitrate
// (6-bit size, 2-bit index) for mode=AAC-lbr, HighBitrate (13-bit size,
// 3-bit index) for mode=AAC-hbr.
type AACDepayloaderMode int

const (
	AACLowBitrate AACDepayloaderMode = iota
	AACHighBitrate
)

func (m AACDepayloaderMode) sizeLenBits() int {
	if m == AACLowBitrate {
		return 6
	}
	return 13
}

func (m AACDepayloaderMode) indexLenBits() int {
	if m == AACLowBitrate {
		return 2
	}
	return 3
}

func (m AACDepayloaderMode) headerLenBytes() int {
	if m == AACLowBitrate {
		return 1
	}
	return 2
}

// AACDepayloader parses RFC 3640 AU-header sections and rejects interleaved
// delivery, which this pipeline does not support.
type AACDepayloader struct {
	mode     AACDepayloaderMode
	asc      ASC
	rollover RolloverState
}

// NewAACDepayloader parses asc once at construction; callers supply the
// out-of-band AudioSpecificConfig carried by the session description.
func NewAACDepayloader(mode AACDepayloaderMode, asc []byte) (*AACDepayloader, error) {
	parsed, err := ParseASC(asc)
	if err != nil {
		return nil, fmt.Errorf("parse audio specific config: %w", err)
	}
	return &AACDepayloader{mode: mode, asc: parsed}, nil
}

type auHeader struct {
	index uint8
	size  uint16
}

// Depayload implements RFC 3640 section 3.2 (AU-header section), 3.3.5 (low
// bit-rate) and 3.3.6 (high bit-rate). A packet carrying multiple AUs
// produces one EncodedChunk per AU, each advancing pts by frame_length /
// sample_rate as derived from the AudioSpecificConfig.
func (d *AACDepayloader) Depayload(pkt *rtp.Packet) ([]types.EncodedChunk, error) {
	payload := pkt.Payload
	if len(payload) < 2 {
		return nil, fmt.Errorf("aac packet too short")
	}

	auHeadersLengthBits := binary.BigEndian.Uint16(payload[:2])
	headersLen := int(auHeadersLengthBits / 8)
	payload = payload[2:]
	if len(payload) < headersLen {
		return nil, fmt.Errorf("aac packet too short for declared au-header length")
	}

	headerLen := d.mode.headerLenBytes()
	if headerLen == 0 || headersLen%headerLen != 0 {
		return nil, fmt.Errorf("au-header-length %d is not a multiple of header size %d", headersLen, headerLen)
	}
	headerCount := headersLen / headerLen
	headerBytes := payload[:headersLen]
	auData := payload[headersLen:]

	headers := make([]auHeader, 0, headerCount)
	for i := 0; i < headerCount; i++ {
		var header uint16
		for b := 0; b < headerLen; b++ {
			header = header<<8 | uint16(headerBytes[i*headerLen+b])
		}
		size := header >> d.mode.indexLenBits()
		index := uint8(header & (uint16(1)<<d.mode.indexLenBits() - 1))
		headers = append(headers, auHeader{index: index, size: size})
	}

	for _, h := range headers {
		if h.index != 0 {
			return nil, fmt.Errorf("interleaved aac delivery is not supported")
		}
	}

	packetTS := d.rollover.Timestamp(pkt.Timestamp)
	packetPTS := time.Duration(float64(packetTS) / float64(d.asc.Frequency) * float64(time.Second))
	frameDuration := time.Duration(float64(d.asc.FrameLength) / float64(d.asc.Frequency) * float64(time.Second))

	chunks := make([]types.EncodedChunk, 0, len(headers))
	offset := 0
	for i, h := range headers {
		if offset+int(h.size) > len(auData) {
			return nil, fmt.Errorf("aac packet too short for au %d of size %d", i, h.size)
		}
		data := make([]byte, h.size)
		copy(data, auData[offset:offset+int(h.size)])
		offset += int(h.size)

		chunks = append(chunks, types.EncodedChunk{
			Kind: types.AudioChunkKind(types.AudioCodecAAC),
			Data: data,
			PTS:  packetPTS + frameDuration*time.Duration(i),
		})
	}

	return chunks, nil
}
