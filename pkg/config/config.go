// Package config holds the validated option structs the controller
// accepts at registration time. Parsing these out of a config file or HTTP
// request body is the external control plane's job (out of scope); this
// package only owns validation, since a badly-shaped option must become a
// pipelineerr.UserError before it reaches the queue or mixer.
package config

import (
	"context"
	"fmt"

	"github.com/ethan/mediacompositor/pkg/pipelineerr"
	"github.com/ethan/mediacompositor/pkg/types"
)

// TransportProtocol selects how an RTP input/output reaches the wire.
type TransportProtocol int

const (
	TransportUDP TransportProtocol = iota
	TransportTCPServer
	TransportWHIP
)

func (t TransportProtocol) String() string {
	switch t {
	case TransportUDP:
		return "udp"
	case TransportTCPServer:
		return "tcp_server"
	case TransportWHIP:
		return "whip"
	default:
		return "unknown"
	}
}

// Signaller exchanges SDP with the remote end of a WHIP session: it takes
// this peer's offer and returns the remote answer. The HTTP POST (or
// whatever carries the exchange) is the control plane's business; the
// transport only needs the answer back.
type Signaller func(ctx context.Context, offerSDP string) (answerSDP string, err error)

// Framerate is a rational output frame rate (num/den), avoiding the
// precision loss of a float for common values like 30000/1001.
type Framerate struct {
	Num, Den uint32
}

// Seconds returns the exact tick period as a float64 seconds value.
func (f Framerate) Seconds() float64 {
	if f.Num == 0 {
		return 0
	}
	return float64(f.Den) / float64(f.Num)
}

// PortOrRange is either a single port (Low == High) or an inclusive range to
// try in order, returning the first that binds.
type PortOrRange struct {
	Low, High uint16
}

func (p PortOrRange) Validate() error {
	if p.Low == 0 || p.High < p.Low {
		return fmt.Errorf("invalid port range [%d, %d]", p.Low, p.High)
	}
	return nil
}

// InputOptions is the per-input registration contract.
type InputOptions struct {
	Transport   TransportProtocol
	Port        PortOrRange // unused for WHIP
	Signaller   Signaller   // WHIP only
	VideoCodec  *types.VideoCodec
	AudioCodec  *types.AudioCodec
	AACDecoder  AACDecoderOptions
	Required    bool
	OffsetMS    *int64 // nil: auto-phase on first data
	BufferMS    *int64 // nil: use queue's default_buffer_duration
}

// AACDepayloaderMode selects the RFC 3640 AU-header bit widths.
type AACDepayloaderMode int

const (
	AACLowBitrate AACDepayloaderMode = iota
	AACHighBitrate
)

// AACDecoderOptions carries the out-of-band data an AAC depayloader/decoder
// needs and cannot discover from the RTP stream itself.
type AACDecoderOptions struct {
	Mode                 AACDepayloaderMode
	AudioSpecificConfig  []byte // hex-decoded ASC, see pkg/rtp.ParseASC
}

// Validate returns a UserError on the first violation so input
// registration can roll back cleanly.
func (o InputOptions) Validate() error {
	if o.Transport == TransportWHIP {
		if o.Signaller == nil {
			return pipelineerr.Userf("register_input", "whip input requires a signaller")
		}
	} else if err := o.Port.Validate(); err != nil {
		return pipelineerr.Userf("register_input", "%w", err)
	}
	if o.VideoCodec == nil && o.AudioCodec == nil {
		return pipelineerr.Userf("register_input", "input must carry video, audio, or both")
	}
	return nil
}

// OutputEndConditionKind selects one of the five end-condition rules.
type OutputEndConditionKind int

const (
	EndAnyOf OutputEndConditionKind = iota
	EndAllOf
	EndAnyInput
	EndAllInputs
	EndNever
)

// OutputEndCondition is the per-media-kind rule deciding when an output
// emits EOS.
type OutputEndCondition struct {
	Kind   OutputEndConditionKind
	Inputs []types.InputID // used by EndAnyOf/EndAllOf only
}

// OutputOptions is the per-output registration contract.
type OutputOptions struct {
	Transport      TransportProtocol
	Host           string      // UDP destination; defaults to loopback when empty
	Port           PortOrRange // unused for WHIP
	Signaller      Signaller   // WHIP only
	Resolution     types.Resolution
	EncoderPreset  string
	VideoEndCond   OutputEndCondition
	AudioEndCond   OutputEndCondition
	MixStrategy    types.MixStrategy
	Channels       types.AudioChannels
}

// Validate rejects odd width/height and malformed port ranges.
func (o OutputOptions) Validate() error {
	if o.Resolution.Width <= 0 || o.Resolution.Height <= 0 {
		return pipelineerr.Userf("register_output", "resolution must be positive, got %dx%d", o.Resolution.Width, o.Resolution.Height)
	}
	if o.Resolution.Width%2 != 0 || o.Resolution.Height%2 != 0 {
		return pipelineerr.Userf("register_output", "resolution must have even width and height, got %dx%d", o.Resolution.Width, o.Resolution.Height)
	}
	if o.Transport == TransportWHIP {
		if o.Signaller == nil {
			return pipelineerr.Userf("register_output", "whip output requires a signaller")
		}
	} else if err := o.Port.Validate(); err != nil {
		return pipelineerr.Userf("register_output", "%w", err)
	}
	return nil
}

// QueueOptions are the pipeline-wide synchronised-queue knobs.
type QueueOptions struct {
	NeverDropOutputFrames bool
	AheadOfTimeProcessing bool
	RunLateScheduledEvents bool
	DefaultBufferDuration  int64 // milliseconds, typically 100
	OutputFramerate        Framerate
}

// DefaultQueueOptions is the production default: 100ms postponement budget
// at 30fps.
func DefaultQueueOptions() QueueOptions {
	return QueueOptions{
		DefaultBufferDuration: 100,
		OutputFramerate:       Framerate{Num: 30, Den: 1},
	}
}
