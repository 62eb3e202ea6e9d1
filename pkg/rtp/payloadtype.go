package rtp

import "fmt"

// Fixed payload types used by the RTP listener transport. A WebRTC
// transport instead carries kind on the track itself and never consults
// these.
const (
	VideoPayloadType uint8 = 96
	AudioPayloadType uint8 = 97
)

// CheckPayloadType rejects the dynamic range RFC 5761 reserves for RTCP
// multiplexing (64-95), and anything other than the two fixed values this
// listener assigns.
func CheckPayloadType(pt uint8) error {
	if pt == VideoPayloadType || pt == AudioPayloadType {
		return nil
	}
	if pt >= 64 && pt <= 95 {
		return fmt.Errorf("payload type %d is reserved by RFC 5761 for RTCP multiplexing", pt)
	}
	return fmt.Errorf("unrecognised payload type %d, expected %d (video) or %d (audio)", pt, VideoPayloadType, AudioPayloadType)
}
