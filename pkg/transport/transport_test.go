package transport

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ethan/mediacompositor/pkg/config"
	"github.com/ethan/mediacompositor/pkg/pipelineerr"
	"github.com/ethan/mediacompositor/pkg/types"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func TestBindUDPReceiverTriesRangeInOrder(t *testing.T) {
	pr := config.PortOrRange{Low: 40100, High: 40110}

	first, err := BindUDPReceiver(testLogger(), pr)
	require.NoError(t, err)
	defer first.Close()
	require.Equal(t, uint16(40100), first.LocalPort())

	second, err := BindUDPReceiver(testLogger(), pr)
	require.NoError(t, err)
	defer second.Close()
	require.Equal(t, uint16(40101), second.LocalPort())
}

func TestBindUDPReceiverExhaustedRangeIsError(t *testing.T) {
	pr := config.PortOrRange{Low: 40120, High: 40120}

	first, err := BindUDPReceiver(testLogger(), pr)
	require.NoError(t, err)
	defer first.Close()

	_, err = BindUDPReceiver(testLogger(), pr)
	require.Error(t, err)
}

func TestUDPReceiverDeliversDatagrams(t *testing.T) {
	r, err := BindUDPReceiver(testLogger(), config.PortOrRange{Low: 40130, High: 40140})
	require.NoError(t, err)
	defer r.Close()

	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(r.LocalPort())})
	require.NoError(t, err)
	defer conn.Close()

	payload := []byte{0x80, 0x60, 0x00, 0x01, 0xde, 0xad, 0xbe, 0xef}
	_, err = conn.Write(payload)
	require.NoError(t, err)

	select {
	case got := <-r.Packets():
		require.Equal(t, payload, got)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestTCPServerReceiverReadsFramedPackets(t *testing.T) {
	r, err := BindTCPReceiver(testLogger(), config.PortOrRange{Low: 40150, High: 40160})
	require.NoError(t, err)
	defer r.Close()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", itoa(r.LocalPort())))
	require.NoError(t, err)
	defer conn.Close()

	packets := [][]byte{
		{0x80, 0x60, 0x00, 0x01, 0x01},
		{0x80, 0x60, 0x00, 0x02, 0x02, 0x03},
	}
	for _, pkt := range packets {
		framed := make([]byte, 2+len(pkt))
		binary.BigEndian.PutUint16(framed, uint16(len(pkt)))
		copy(framed[2:], pkt)
		_, err = conn.Write(framed)
		require.NoError(t, err)
	}

	for _, want := range packets {
		select {
		case got := <-r.Packets():
			require.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for framed packet")
		}
	}
}

func TestTCPSenderToReceiverRoundtrip(t *testing.T) {
	s, err := BindTCPSender(testLogger(), config.PortOrRange{Low: 40170, High: 40180})
	require.NoError(t, err)
	defer s.Close()

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", itoa(s.LocalPort())))
	require.NoError(t, err)
	defer conn.Close()

	// Writes race the accept loop installing the client; retry until the
	// sender has someone to write to.
	payload := []byte{0x80, 0x60, 0x00, 0x03, 0xaa}
	require.Eventually(t, func() bool {
		require.NoError(t, s.WritePacket(payload))
		conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
		header := make([]byte, 2)
		if _, err := conn.Read(header); err != nil {
			return false
		}
		return binary.BigEndian.Uint16(header) == uint16(len(payload))
	}, 2*time.Second, 50*time.Millisecond)
}

func itoa(port uint16) string {
	return strconv.Itoa(int(port))
}

const h264SDP = `v=0
o=- 0 0 IN IP4 127.0.0.1
s=compositor
c=IN IP4 127.0.0.1
t=0 0
m=video 5004 RTP/AVP 96
a=rtpmap:96 H264/90000
a=fmtp:96 packetization-mode=1
m=audio 5006 RTP/AVP 97
a=rtpmap:97 mpeg4-generic/44100/2
a=fmtp:97 streamtype=5;mode=AAC-hbr;sizelength=13;indexlength=3;config=1210
`

func TestParseSessionDescription(t *testing.T) {
	media, err := ParseSessionDescription(h264SDP)
	require.NoError(t, err)
	require.Len(t, media, 2)

	video := media[0]
	require.Equal(t, types.MediaVideo, video.Kind)
	require.Equal(t, uint8(96), video.PayloadType)
	require.Equal(t, "h264", video.CodecName)
	require.Equal(t, uint32(90000), video.ClockRate)

	audio := media[1]
	require.Equal(t, types.MediaAudio, audio.Kind)
	require.Equal(t, uint8(97), audio.PayloadType)
	require.Equal(t, "mpeg4-generic", audio.CodecName)
	require.Equal(t, uint32(44100), audio.ClockRate)
	require.Equal(t, uint16(2), audio.Channels)

	asc, err := audio.AACConfig()
	require.NoError(t, err)
	require.Equal(t, []byte{0x12, 0x10}, asc)

	mode, err := audio.AACMode()
	require.NoError(t, err)
	require.Equal(t, config.AACHighBitrate, mode)
}

func TestParseSessionDescriptionRejectsEmpty(t *testing.T) {
	_, err := ParseSessionDescription("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=x\r\nt=0 0\r\n")
	require.Error(t, err)
}

func TestAACModeRejectsUnknownLayout(t *testing.T) {
	m := MediaDescription{FMTP: map[string]string{"sizelength": "8", "indexlength": "8"}}
	_, err := m.AACMode()
	require.Error(t, err)
}

func TestBindWHIPWithoutSignallerIsUserError(t *testing.T) {
	_, err := Bind(context.Background(), testLogger(), config.TransportWHIP, config.PortOrRange{}, nil)
	require.Error(t, err)
	var perr *pipelineerr.Error
	require.True(t, errors.As(err, &perr))
	require.Equal(t, pipelineerr.UserError, perr.Kind)

	_, err = BindSender(context.Background(), testLogger(), config.TransportWHIP, "", config.PortOrRange{}, "out-1", nil)
	require.Error(t, err)
	require.True(t, errors.As(err, &perr))
	require.Equal(t, pipelineerr.UserError, perr.Kind)
}
