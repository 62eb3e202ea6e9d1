package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/pion/rtcp"

	"github.com/ethan/mediacompositor/pkg/config"
	"github.com/ethan/mediacompositor/pkg/pipelineerr"
)

// Sender is an egress RTP byte sink for one output. WritePacket takes one
// marshaled RTP packet; Goodbye emits the RTCP BYE that signals
// end-of-stream to the receiver before the socket closes.
type Sender interface {
	WritePacket(pkt []byte) error
	Goodbye(ssrc uint32, reason string) error
	Close() error
}

// UDPSender writes RTP packets as UDP datagrams to a fixed destination.
type UDPSender struct {
	log  *slog.Logger
	conn *net.UDPConn

	mu     sync.Mutex
	closed bool
}

// NewUDPSender dials host:port once; UDP "connect" only pins the
// destination, so this cannot block on the peer.
func NewUDPSender(log *slog.Logger, host string, port uint16) (*UDPSender, error) {
	ip := net.ParseIP(host)
	if ip == nil {
		addrs, err := net.LookupIP(host)
		if err != nil || len(addrs) == 0 {
			return nil, pipelineerr.Userf("udp_sender", "cannot resolve output host %q", host)
		}
		ip = addrs[0]
	}
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: ip, Port: int(port)})
	if err != nil {
		return nil, pipelineerr.Serverf("udp_sender", "dial %s:%d: %w", host, port, err)
	}
	return &UDPSender{log: log.With("transport", "udp", "dest", fmt.Sprintf("%s:%d", host, port)), conn: conn}, nil
}

func (s *UDPSender) WritePacket(pkt []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sender closed")
	}
	_, err := s.conn.Write(pkt)
	return err
}

// Goodbye sends an RTCP BYE for ssrc on the same socket. RTP and RTCP
// share the port here (RFC 5761 multiplexing); the fixed payload types this
// pipeline assigns stay outside the reserved 64-95 range so the receiver
// can demultiplex.
func (s *UDPSender) Goodbye(ssrc uint32, reason string) error {
	bye := rtcp.Goodbye{Sources: []uint32{ssrc}, Reason: reason}
	raw, err := bye.Marshal()
	if err != nil {
		return fmt.Errorf("marshal goodbye: %w", err)
	}
	s.log.Info("sending RTCP goodbye", "ssrc", ssrc, "reason", reason)
	return s.WritePacket(raw)
}

func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// TCPServerSender listens on a port and writes RFC 4571 framed RTP to the
// most recently connected client. Packets written while no client is
// connected are dropped, matching the "a failing output does not affect
// others" policy: egress never applies backpressure upstream of the
// encoder channel.
type TCPServerSender struct {
	log      *slog.Logger
	listener net.Listener
	port     uint16

	mu     sync.Mutex
	client net.Conn
	closed bool

	done chan struct{}
}

// BindTCPSender tries each port in pr in order and returns a sender
// listening on the first that binds.
func BindTCPSender(log *slog.Logger, pr config.PortOrRange) (*TCPServerSender, error) {
	listener, port, err := bindTCP(pr)
	if err != nil {
		return nil, err
	}
	s := &TCPServerSender{
		log:      log.With("transport", "tcp_server", "port", port),
		listener: listener,
		port:     port,
		done:     make(chan struct{}),
	}
	go s.acceptLoop()
	return s, nil
}

// LocalPort reports the port the sender actually bound within its range.
func (s *TCPServerSender) LocalPort() uint16 { return s.port }

func (s *TCPServerSender) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warn("tcp sender accept error, exiting", "error", err)
			}
			return
		}
		s.log.Info("tcp output client connected", "remote", conn.RemoteAddr())
		s.mu.Lock()
		if s.client != nil {
			s.client.Close()
		}
		s.client = conn
		s.mu.Unlock()
	}
}

func (s *TCPServerSender) WritePacket(pkt []byte) error {
	if len(pkt) > maxPacketSize {
		return fmt.Errorf("packet of %d bytes exceeds 16-bit frame length", len(pkt))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("sender closed")
	}
	if s.client == nil {
		return nil
	}
	header := make([]byte, 2, 2+len(pkt))
	binary.BigEndian.PutUint16(header, uint16(len(pkt)))
	if _, err := s.client.Write(append(header, pkt...)); err != nil {
		s.log.Warn("tcp output write failed, dropping client", "error", err)
		s.client.Close()
		s.client = nil
	}
	return nil
}

func (s *TCPServerSender) Goodbye(ssrc uint32, reason string) error {
	bye := rtcp.Goodbye{Sources: []uint32{ssrc}, Reason: reason}
	raw, err := bye.Marshal()
	if err != nil {
		return fmt.Errorf("marshal goodbye: %w", err)
	}
	s.log.Info("sending RTCP goodbye", "ssrc", ssrc, "reason", reason)
	return s.WritePacket(raw)
}

func (s *TCPServerSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	if s.client != nil {
		s.client.Close()
		s.client = nil
	}
	return s.listener.Close()
}

// BindSender constructs the egress kind selected by proto. UDP sends to
// host (127.0.0.1 when host is empty) at port pr.Low; TCP-server outputs wait for the consumer to connect;
// WHIP outputs negotiate a session via signal, with name scoping the
// published track ids.
func BindSender(ctx context.Context, log *slog.Logger, proto config.TransportProtocol, host string, pr config.PortOrRange, name string, signal config.Signaller) (Sender, error) {
	switch proto {
	case config.TransportUDP:
		if host == "" {
			host = "127.0.0.1"
		}
		return NewUDPSender(log, host, pr.Low)
	case config.TransportTCPServer:
		return BindTCPSender(log, pr)
	case config.TransportWHIP:
		if signal == nil {
			return nil, pipelineerr.Userf("bind_sender", "whip output requires a signaller")
		}
		out, err := NewWebRTCOutput(ctx, log, name, signal)
		if err != nil {
			return nil, pipelineerr.Serverf("bind_sender", "whip session: %w", err)
		}
		return &whipSender{out: out}, nil
	default:
		return nil, pipelineerr.Userf("bind_sender", "unsupported transport protocol %v", proto)
	}
}
