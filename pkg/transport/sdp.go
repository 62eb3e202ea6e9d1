package transport

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	psdp "github.com/pion/sdp/v3"

	"github.com/ethan/mediacompositor/pkg/config"
	"github.com/ethan/mediacompositor/pkg/types"
)

// MediaDescription is one media section of an out-of-band session
// description, reduced to what registration needs: which kind and codec the
// sender will put on the wire, at which payload type and clock rate, plus
// the raw fmtp parameters (AAC keeps its AudioSpecificConfig and AU-header
// mode there).
type MediaDescription struct {
	Kind        types.MediaKind
	PayloadType uint8
	CodecName   string // lowercased encoding name from rtpmap, e.g. "h264"
	ClockRate   uint32
	Channels    uint16
	FMTP        map[string]string
}

// ParseSessionDescription extracts the media sections of an SDP document.
// Sections whose media type is neither audio nor video (e.g. application)
// are skipped, not rejected; an RTP sender is free to describe more than we
// consume.
func ParseSessionDescription(raw string) ([]MediaDescription, error) {
	var sd psdp.SessionDescription
	if err := sd.Unmarshal([]byte(raw)); err != nil {
		return nil, fmt.Errorf("unmarshal sdp: %w", err)
	}

	var out []MediaDescription
	for _, media := range sd.MediaDescriptions {
		var kind types.MediaKind
		switch media.MediaName.Media {
		case "video":
			kind = types.MediaVideo
		case "audio":
			kind = types.MediaAudio
		default:
			continue
		}
		if len(media.MediaName.Formats) == 0 {
			return nil, fmt.Errorf("%s media section has no format", media.MediaName.Media)
		}
		pt, err := strconv.ParseUint(media.MediaName.Formats[0], 10, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid payload type %q: %w", media.MediaName.Formats[0], err)
		}

		md := MediaDescription{
			Kind:        kind,
			PayloadType: uint8(pt),
			FMTP:        map[string]string{},
		}
		if rtpmap, ok := media.Attribute("rtpmap"); ok {
			if err := md.parseRTPMap(rtpmap, uint8(pt)); err != nil {
				return nil, err
			}
		}
		if fmtp, ok := media.Attribute("fmtp"); ok {
			if err := md.parseFMTP(fmtp); err != nil {
				return nil, err
			}
		}
		out = append(out, md)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("sdp contains no audio or video media section")
	}
	return out, nil
}

// parseRTPMap handles "96 H264/90000" or "97 mpeg4-generic/44100/2".
func (m *MediaDescription) parseRTPMap(value string, wantPT uint8) error {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return fmt.Errorf("invalid rtpmap %q", value)
	}
	pt, err := strconv.ParseUint(fields[0], 10, 8)
	if err != nil || uint8(pt) != wantPT {
		// rtpmap for a secondary format; the first format is the one we take.
		return nil
	}
	parts := strings.Split(fields[1], "/")
	if len(parts) < 2 {
		return fmt.Errorf("invalid rtpmap encoding %q", fields[1])
	}
	m.CodecName = strings.ToLower(parts[0])
	rate, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid rtpmap clock rate %q: %w", parts[1], err)
	}
	m.ClockRate = uint32(rate)
	if len(parts) >= 3 {
		ch, err := strconv.ParseUint(parts[2], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid rtpmap channel count %q: %w", parts[2], err)
		}
		m.Channels = uint16(ch)
	}
	return nil
}

// parseFMTP handles "97 sizelength=13;indexlength=3;config=1210".
func (m *MediaDescription) parseFMTP(value string) error {
	fields := strings.SplitN(value, " ", 2)
	if len(fields) != 2 {
		return fmt.Errorf("invalid fmtp %q", value)
	}
	for _, kv := range strings.Split(fields[1], ";") {
		kv = strings.TrimSpace(kv)
		if kv == "" {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid fmtp parameter %q", kv)
		}
		m.FMTP[strings.ToLower(parts[0])] = parts[1]
	}
	return nil
}

// AACConfig hex-decodes the fmtp "config" parameter, the
// AudioSpecificConfig octet string spec'd by RFC 3640.
func (m MediaDescription) AACConfig() ([]byte, error) {
	raw, ok := m.FMTP["config"]
	if !ok {
		return nil, fmt.Errorf("fmtp has no config parameter")
	}
	asc, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("config is not a hexadecimal octet string: %w", err)
	}
	return asc, nil
}

// AACMode maps the fmtp sizelength/indexlength pair onto the two RFC 3640
// modes this pipeline supports; anything else is a registration error, not
// something to limp along with.
func (m MediaDescription) AACMode() (config.AACDepayloaderMode, error) {
	sizeLen := m.FMTP["sizelength"]
	indexLen := m.FMTP["indexlength"]
	switch {
	case sizeLen == "13" && indexLen == "3":
		return config.AACHighBitrate, nil
	case sizeLen == "6" && indexLen == "2":
		return config.AACLowBitrate, nil
	default:
		return 0, fmt.Errorf("unsupported AU-header layout sizelength=%s indexlength=%s, want 13/3 or 6/2", sizeLen, indexLen)
	}
}
