package rtp

import "fmt"

// ASC is the subset of an AAC AudioSpecificConfig (MPEG-4 part 3, sections
// 1.6.2.1 & 4.4.1) the AAC depayloader needs: the sampling frequency (to
// convert RTP timestamps to a PTS) and the frame length (to advance PTS
// across the access units packed into one RTP packet).
type ASC struct {
	Profile      uint8
	Frequency    uint32
	Channel      uint8
	FrameLength  uint32
}

// freqIDToFreq maps the 4-bit sampling-frequency index to Hz, MPEG-4 part 3
// section 1.6.3.4.
func freqIDToFreq(id uint8) (uint32, error) {
	switch id {
	case 0x0:
		return 96000, nil
	case 0x1:
		return 88200, nil
	case 0x2:
		return 64000, nil
	case 0x3:
		return 48000, nil
	case 0x4:
		return 44100, nil
	case 0x5:
		return 32000, nil
	case 0x6:
		return 24000, nil
	case 0x7:
		return 22050, nil
	case 0x8:
		return 16000, nil
	case 0x9:
		return 12000, nil
	case 0xa:
		return 11025, nil
	case 0xb:
		return 8000, nil
	case 0xc:
		return 7350, nil
	default:
		return 0, fmt.Errorf("illegal sampling frequency index: %#x", id)
	}
}

// frameLengthFlagToFrameLength maps the ASC's 1-bit frame-length flag to a
// sample count, MPEG-4 part 3 section 4.5.1.1.
func frameLengthFlagToFrameLength(flag bool) uint32 {
	if flag {
		return 960
	}
	return 1024
}

// ParseASC parses an AudioSpecificConfig, handling both the 5-bit inline
// profile/frequency encoding and the escape paths (profile 31, frequency
// index 15) that extend either field past its normal range.
func ParseASC(asc []byte) (ASC, error) {
	if len(asc) < 2 {
		return ASC{}, fmt.Errorf("audio specific config too short: need at least 2 bytes, got %d", len(asc))
	}

	first, second := asc[0], asc[1]
	pos := 2

	profile := (0b11111000 & first) >> 3

	var frequency uint32
	var channel uint8
	var frameLength uint32

	if profile == 31 {
		profile = ((first & 0b00000111) << 3) + ((second & 0b11100000) >> 5) + 0b00100000
		frequencyID := (second & 0b00011110) >> 1

		var b1, b2 byte
		if frequencyID == 15 {
			if len(asc) < pos+4 {
				return ASC{}, fmt.Errorf("audio specific config too short for escape frequency")
			}
			rest := asc[pos : pos+4]
			pos += 4

			frequency = (uint32(second&0b00000001) << 23) |
				(uint32(rest[0]) << 15) |
				(uint32(rest[1]) << 7) |
				uint32((rest[2]&0b11111110)>>1)
			b1, b2 = rest[2], rest[3]
		} else {
			if len(asc) < pos+1 {
				return ASC{}, fmt.Errorf("audio specific config too short")
			}
			last := asc[pos]
			pos++

			b1, b2 = second, last
			var err error
			frequency, err = freqIDToFreq(frequencyID)
			if err != nil {
				return ASC{}, err
			}
		}

		channel = ((b1 & 0b00000001) << 3) | ((b2 & 0b11100000) >> 5)
		frameLengthFlag := b2&0b00010000 != 0
		frameLength = frameLengthFlagToFrameLength(frameLengthFlag)
	} else {
		frequencyID := ((first & 0b00000111) << 1) + ((second & 0b10000000) >> 7)

		var channelAndFrameLen byte
		if frequencyID == 15 {
			if len(asc) < pos+3 {
				return ASC{}, fmt.Errorf("audio specific config too short for escape frequency")
			}
			rest := asc[pos : pos+3]
			pos += 3

			frequency = (uint32(second&0b01111111) << 17) |
				(uint32(rest[0]) << 9) |
				(uint32(rest[1]) << 1) |
				uint32((rest[2]&0b10000000)>>7)
			channelAndFrameLen = rest[2]
		} else {
			var err error
			frequency, err = freqIDToFreq(frequencyID)
			if err != nil {
				return ASC{}, err
			}
			channelAndFrameLen = second
		}

		channel = (channelAndFrameLen & 0b01111000) >> 3
		frameLengthFlag := channelAndFrameLen&0b00000100 != 0
		frameLength = frameLengthFlagToFrameLength(frameLengthFlag)
	}

	return ASC{Profile: profile, Frequency: frequency, Channel: channel, FrameLength: frameLength}, nil
}
