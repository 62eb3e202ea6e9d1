// Package transport implements the RTP wire boundary of the pipeline: UDP
// and TCP-server receivers and senders for raw RTP packet bytes, plus a
// WebRTC variant for WHIP-style sessions. Everything above this package
// speaks EncodedChunk; everything below it is sockets.
package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethan/mediacompositor/pkg/config"
	"github.com/ethan/mediacompositor/pkg/pipelineerr"
)

// readTimeout keeps socket reads short so shutdown is prompt; a blocked
// Read would otherwise hold the goroutine until the peer next transmits.
const readTimeout = 50 * time.Millisecond

// maxPacketSize covers any RTP packet this pipeline will see; UDP datagrams
// larger than the path MTU never arrive anyway.
const maxPacketSize = 65535

// receiverChannelCapacity absorbs short ingest stalls without dropping; the
// depayloader drains far faster than wire rate in the steady state.
const receiverChannelCapacity = 256

// Receiver is a bound RTP packet source. Packets yields raw packet bytes
// (one slice per RTP packet); the channel closes when the receiver is
// closed or its read loop exits. A kind-demuxed transport (WebRTC) returns
// nil from Packets and additionally implements KindDemuxed; callers must
// check for that before consuming the mixed stream.
type Receiver interface {
	Packets() <-chan []byte
	LocalPort() uint16
	PacketsReceived() uint64
	Close() error
}

// KindDemuxed is implemented by transports that already split media by
// track kind, where payload-type demux does not apply. Both channels close
// when the session ends.
type KindDemuxed interface {
	VideoPackets() <-chan []byte
	AudioPackets() <-chan []byte
}

// UDPReceiver reads RTP packets from a bound UDP socket, one datagram per
// packet.
type UDPReceiver struct {
	log  *slog.Logger
	conn *net.UDPConn
	port uint16

	packets  chan []byte
	received atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// BindUDPReceiver tries each port in pr in order and returns a receiver on
// the first that binds, already reading. A fully-occupied range is a
// UserError per the controller's registration contract.
func BindUDPReceiver(log *slog.Logger, pr config.PortOrRange) (*UDPReceiver, error) {
	conn, port, err := bindUDP(pr)
	if err != nil {
		return nil, err
	}
	r := &UDPReceiver{
		log:     log.With("transport", "udp", "port", port),
		conn:    conn,
		port:    port,
		packets: make(chan []byte, receiverChannelCapacity),
		done:    make(chan struct{}),
	}
	go r.readLoop()
	return r, nil
}

func bindUDP(pr config.PortOrRange) (*net.UDPConn, uint16, error) {
	for port := pr.Low; ; port++ {
		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
		if err == nil {
			return conn, port, nil
		}
		if port == pr.High {
			return nil, 0, pipelineerr.Userf("bind_udp", "no free port in range [%d, %d]: %w", pr.Low, pr.High, err)
		}
	}
}

func (r *UDPReceiver) Packets() <-chan []byte   { return r.packets }
func (r *UDPReceiver) LocalPort() uint16        { return r.port }
func (r *UDPReceiver) PacketsReceived() uint64  { return r.received.Load() }

func (r *UDPReceiver) readLoop() {
	defer close(r.packets)
	buf := make([]byte, maxPacketSize)
	for {
		select {
		case <-r.done:
			return
		default:
		}
		r.conn.SetReadDeadline(time.Now().Add(readTimeout))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-r.done:
			default:
				r.log.Warn("udp read error, receiver exiting", "error", err)
			}
			return
		}
		if n == 0 {
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		r.received.Add(1)
		select {
		case r.packets <- pkt:
		case <-r.done:
			return
		}
	}
}

// Close stops the read loop and releases the port.
func (r *UDPReceiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.conn.Close()
	})
	return err
}

// TCPServerReceiver accepts one client at a time on a listening TCP socket
// and reads RFC 4571 framed RTP: each packet prefixed by a 16-bit
// big-endian length. A disconnecting client does not end the stream; the
// receiver goes back to accepting.
type TCPServerReceiver struct {
	log      *slog.Logger
	listener net.Listener
	port     uint16

	packets  chan []byte
	received atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
}

// BindTCPReceiver tries each port in pr in order and returns a receiver on
// the first that binds, already accepting.
func BindTCPReceiver(log *slog.Logger, pr config.PortOrRange) (*TCPServerReceiver, error) {
	listener, port, err := bindTCP(pr)
	if err != nil {
		return nil, err
	}
	r := &TCPServerReceiver{
		log:      log.With("transport", "tcp_server", "port", port),
		listener: listener,
		port:     port,
		packets:  make(chan []byte, receiverChannelCapacity),
		done:     make(chan struct{}),
	}
	go r.acceptLoop()
	return r, nil
}

func bindTCP(pr config.PortOrRange) (net.Listener, uint16, error) {
	for port := pr.Low; ; port++ {
		listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			return listener, port, nil
		}
		if port == pr.High {
			return nil, 0, pipelineerr.Userf("bind_tcp", "no free port in range [%d, %d]: %w", pr.Low, pr.High, err)
		}
	}
}

func (r *TCPServerReceiver) Packets() <-chan []byte  { return r.packets }
func (r *TCPServerReceiver) LocalPort() uint16       { return r.port }
func (r *TCPServerReceiver) PacketsReceived() uint64 { return r.received.Load() }

func (r *TCPServerReceiver) acceptLoop() {
	defer close(r.packets)
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.done:
			default:
				r.log.Warn("tcp accept error, receiver exiting", "error", err)
			}
			return
		}
		r.log.Info("tcp client connected", "remote", conn.RemoteAddr())
		r.readConn(conn)
		conn.Close()
		select {
		case <-r.done:
			return
		default:
			r.log.Info("tcp client disconnected, accepting again")
		}
	}
}

// readConn drains framed packets from one connection until it errors or the
// receiver is closed.
func (r *TCPServerReceiver) readConn(conn net.Conn) {
	header := make([]byte, 2)
	for {
		select {
		case <-r.done:
			return
		default:
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		if _, err := io.ReadFull(conn, header); err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if !errors.Is(err, io.EOF) {
				r.log.Warn("tcp framing read error", "error", err)
			}
			return
		}
		length := binary.BigEndian.Uint16(header)
		if length == 0 {
			continue
		}
		pkt := make([]byte, length)
		// The length prefix promises a full packet; give the body a fresh
		// deadline rather than inheriting whatever is left of the header's.
		conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		if _, err := io.ReadFull(conn, pkt); err != nil {
			r.log.Warn("tcp packet body read error", "error", err)
			return
		}
		r.received.Add(1)
		select {
		case r.packets <- pkt:
		case <-r.done:
			return
		}
	}
}

// Close stops accepting and releases the port. An in-flight connection read
// ends at its next deadline.
func (r *TCPServerReceiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.listener.Close()
	})
	return err
}

// Bind constructs the receiver kind selected by proto, the single entry
// point the controller uses at register_input time. ctx and signal are
// consulted only by the WHIP variant, which negotiates a session instead
// of binding a port.
func Bind(ctx context.Context, log *slog.Logger, proto config.TransportProtocol, pr config.PortOrRange, signal config.Signaller) (Receiver, error) {
	switch proto {
	case config.TransportUDP:
		return BindUDPReceiver(log, pr)
	case config.TransportTCPServer:
		return BindTCPReceiver(log, pr)
	case config.TransportWHIP:
		if signal == nil {
			return nil, pipelineerr.Userf("bind", "whip input requires a signaller")
		}
		in, err := NewWebRTCInput(ctx, log, signal)
		if err != nil {
			return nil, pipelineerr.Serverf("bind", "whip session: %w", err)
		}
		return in, nil
	default:
		return nil, pipelineerr.Userf("bind", "unsupported transport protocol %v", proto)
	}
}
