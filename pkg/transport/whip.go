package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/ethan/mediacompositor/pkg/config"
	"github.com/ethan/mediacompositor/pkg/rtp"
)

// Signaller exchanges SDP with the remote end of a WHIP session; see
// config.Signaller. The HTTP POST (or whatever carries the exchange) is the
// control plane's business; this package only needs the answer back.
type Signaller = config.Signaller

// iceGatherTimeout bounds the wait for ICE candidate gathering before the
// offer is sent; trickle is not used, so the offer must be complete.
const iceGatherTimeout = 10 * time.Second

func newMediaEngine() (*webrtc.MediaEngine, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=1;profile-level-id=42e01f",
		},
		PayloadType: 96,
	}, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("register H264 codec: %w", err)
	}
	if err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus codec: %w", err)
	}
	return m, nil
}

func newPeerConnection() (*webrtc.PeerConnection, error) {
	m, err := newMediaEngine()
	if err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(m))
	return api.NewPeerConnection(webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
}

// WebRTCInput receives one remote WHIP session's media. Incoming tracks
// are demultiplexed by track kind (payload-type demux is only for the
// plain RTP listener) and surfaced as two raw packet streams via the
// KindDemuxed interface. It satisfies Receiver so the controller can hold
// any bound input transport uniformly; Packets returns nil and callers
// route through VideoPackets/AudioPackets instead.
type WebRTCInput struct {
	log *slog.Logger
	pc  *webrtc.PeerConnection

	videoPackets chan []byte
	audioPackets chan []byte
	received     atomic.Uint64

	connStateMu     sync.RWMutex
	cachedConnState webrtc.PeerConnectionState

	trackWG   sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// NewWebRTCInput builds the peer connection, negotiates via signal, and
// starts reading tracks as the remote end adds them.
func NewWebRTCInput(ctx context.Context, log *slog.Logger, signal Signaller) (*WebRTCInput, error) {
	pc, err := newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	in := &WebRTCInput{
		log:             log.With("transport", "webrtc"),
		pc:              pc,
		videoPackets:    make(chan []byte, receiverChannelCapacity),
		audioPackets:    make(chan []byte, receiverChannelCapacity),
		cachedConnState: webrtc.PeerConnectionStateNew,
		done:            make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		in.connStateMu.Lock()
		in.cachedConnState = state
		in.connStateMu.Unlock()
		in.log.Info("peer connection state changed", "state", state.String())
		// A dead session is this transport's end-of-stream: Close drains the
		// track readers and closes the packet channels so the ingest tasks
		// observe closure the same way they would a closed socket.
		if state == webrtc.PeerConnectionStateFailed || state == webrtc.PeerConnectionStateClosed {
			go in.Close()
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		in.log.Info("remote track started", "kind", track.Kind().String(), "codec", track.Codec().MimeType)
		var out chan []byte
		switch track.Kind() {
		case webrtc.RTPCodecTypeVideo:
			out = in.videoPackets
		case webrtc.RTPCodecTypeAudio:
			out = in.audioPackets
		default:
			return
		}
		in.trackWG.Add(1)
		go func() {
			defer in.trackWG.Done()
			in.readTrack(track, out)
		}()
	})

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add video transceiver: %w", err)
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio transceiver: %w", err)
	}

	if err := negotiate(ctx, pc, signal); err != nil {
		pc.Close()
		return nil, err
	}
	return in, nil
}

func negotiate(ctx context.Context, pc *webrtc.PeerConnection, signal Signaller) error {
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	gatherComplete := webrtc.GatheringCompletePromise(pc)
	select {
	case <-gatherComplete:
	case <-time.After(iceGatherTimeout):
		return fmt.Errorf("ICE gathering timeout")
	case <-ctx.Done():
		return ctx.Err()
	}

	answerSDP, err := signal(ctx, pc.LocalDescription().SDP)
	if err != nil {
		return fmt.Errorf("signal offer: %w", err)
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answerSDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

func (in *WebRTCInput) readTrack(track *webrtc.TrackRemote, out chan<- []byte) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			select {
			case <-in.done:
			default:
				if !errors.Is(err, io.EOF) {
					in.log.Warn("track read error", "kind", track.Kind().String(), "error", err)
				}
			}
			return
		}
		raw, err := pkt.Marshal()
		if err != nil {
			continue
		}
		in.received.Add(1)
		select {
		case out <- raw:
		case <-in.done:
			return
		}
	}
}

// VideoPackets and AudioPackets yield raw RTP packet bytes per media kind,
// closing when the session ends.
func (in *WebRTCInput) VideoPackets() <-chan []byte { return in.videoPackets }
func (in *WebRTCInput) AudioPackets() <-chan []byte { return in.audioPackets }

// Packets returns nil: this transport is already kind-demuxed, so callers
// must consume VideoPackets/AudioPackets via KindDemuxed instead of the
// single mixed stream a socket receiver exposes.
func (in *WebRTCInput) Packets() <-chan []byte { return nil }

// LocalPort returns 0; a WHIP session has no locally bound RTP port.
func (in *WebRTCInput) LocalPort() uint16 { return 0 }

func (in *WebRTCInput) PacketsReceived() uint64 { return in.received.Load() }

// ConnectionState returns the cached peer connection state, avoiding a
// blocking call into pion on the hot path.
func (in *WebRTCInput) ConnectionState() webrtc.PeerConnectionState {
	in.connStateMu.RLock()
	defer in.connStateMu.RUnlock()
	return in.cachedConnState
}

// Close tears the session down. Track read goroutines observe the closed
// peer connection and exit; once the last one has, the packet channels are
// closed so downstream consumers see end-of-stream.
func (in *WebRTCInput) Close() error {
	var err error
	in.closeOnce.Do(func() {
		close(in.done)
		err = in.pc.Close()
		in.trackWG.Wait()
		close(in.videoPackets)
		close(in.audioPackets)
	})
	return err
}

// WebRTCOutput publishes one output's media as a WHIP session with a local
// H.264 track and a local Opus track. WritePacket routes pre-payloaded RTP
// to the right track; RTCP feedback from the consumer is drained and
// logged so keyframe requests are at least visible to the operator.
type WebRTCOutput struct {
	log *slog.Logger
	pc  *webrtc.PeerConnection

	videoTrack *webrtc.TrackLocalStaticRTP
	audioTrack *webrtc.TrackLocalStaticRTP

	connStateMu     sync.RWMutex
	cachedConnState webrtc.PeerConnectionState

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// NewWebRTCOutput builds the peer connection with both local tracks,
// negotiates via signal, and starts the RTCP readers. name scopes the track
// ids so a consumer receiving several outputs can tell them apart.
func NewWebRTCOutput(ctx context.Context, log *slog.Logger, name string, signal Signaller) (*WebRTCOutput, error) {
	pc, err := newPeerConnection()
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	out := &WebRTCOutput{
		log:             log.With("transport", "webrtc", "output", name),
		pc:              pc,
		cachedConnState: webrtc.PeerConnectionStateNew,
		done:            make(chan struct{}),
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		out.connStateMu.Lock()
		out.cachedConnState = state
		out.connStateMu.Unlock()
		out.log.Info("peer connection state changed", "state", state.String())
	})

	videoTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264, ClockRate: 90000},
		fmt.Sprintf("%s-video", name), name)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create video track: %w", err)
	}
	out.videoTrack = videoTrack
	videoSender, err := pc.AddTrack(videoTrack)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("add video track: %w", err)
	}

	audioTrack, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		fmt.Sprintf("%s-audio", name), name)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create audio track: %w", err)
	}
	out.audioTrack = audioTrack
	audioSender, err := pc.AddTrack(audioTrack)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("add audio track: %w", err)
	}

	if err := negotiate(ctx, pc, signal); err != nil {
		pc.Close()
		return nil, err
	}

	out.wg.Add(2)
	go func() { defer out.wg.Done(); out.readRTCP(videoSender, "video") }()
	go func() { defer out.wg.Done(); out.readRTCP(audioSender, "audio") }()

	return out, nil
}

// WriteVideoPacket forwards one marshaled RTP packet onto the video track.
func (out *WebRTCOutput) WriteVideoPacket(raw []byte) error {
	if _, err := out.videoTrack.Write(raw); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

// WriteAudioPacket forwards one marshaled RTP packet onto the audio track.
func (out *WebRTCOutput) WriteAudioPacket(raw []byte) error {
	if _, err := out.audioTrack.Write(raw); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}

func (out *WebRTCOutput) ConnectionState() webrtc.PeerConnectionState {
	out.connStateMu.RLock()
	defer out.connStateMu.RUnlock()
	return out.cachedConnState
}

func (out *WebRTCOutput) readRTCP(sender *webrtc.RTPSender, trackType string) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			select {
			case <-out.done:
			default:
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
					out.log.Warn("rtcp read error", "track", trackType, "error", err)
				}
			}
			return
		}
		for _, packet := range packets {
			switch pkt := packet.(type) {
			case *rtcp.PictureLossIndication:
				out.log.Warn("RTCP PLI received, consumer wants a keyframe", "track", trackType, "media_ssrc", pkt.MediaSSRC)
			case *rtcp.FullIntraRequest:
				out.log.Warn("RTCP FIR received, consumer wants a keyframe", "track", trackType, "media_ssrc", pkt.MediaSSRC)
			case *rtcp.ReceiverReport:
				out.log.Debug("RTCP receiver report", "track", trackType, "reports", len(pkt.Reports))
			}
		}
	}
}

// Close tears the session down after the RTCP readers exit.
func (out *WebRTCOutput) Close() error {
	var err error
	out.closeOnce.Do(func() {
		close(out.done)
		err = out.pc.Close()
		out.wg.Wait()
	})
	return err
}

// whipSender adapts a WebRTCOutput to the Sender contract so the egress
// path is transport-agnostic. Marshaled packets are routed to the right
// track by the payload type this pipeline's payloaders stamp (96 video,
// 97 audio); pion rewrites the header to the negotiated payload type and
// SSRC on the way out.
type whipSender struct {
	out *WebRTCOutput
}

func (s *whipSender) WritePacket(pkt []byte) error {
	if len(pkt) < 2 {
		return fmt.Errorf("packet too short for an RTP header")
	}
	if pkt[1]&0x7F == rtp.VideoPayloadType {
		return s.out.WriteVideoPacket(pkt)
	}
	return s.out.WriteAudioPacket(pkt)
}

// Goodbye is a no-op beyond logging: a WHIP consumer learns end-of-stream
// from the peer connection teardown, which Close performs; there is no raw
// RTCP socket to put a BYE on.
func (s *whipSender) Goodbye(ssrc uint32, reason string) error {
	s.out.log.Info("whip output ending", "ssrc", ssrc, "reason", reason)
	return nil
}

func (s *whipSender) Close() error { return s.out.Close() }

var (
	_ Receiver    = (*WebRTCInput)(nil)
	_ KindDemuxed = (*WebRTCInput)(nil)
	_ Sender      = (*whipSender)(nil)
)
