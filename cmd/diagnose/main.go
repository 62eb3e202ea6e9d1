// Command diagnose inspects a live RTP stream before it is wired into a
// pipeline: it binds a receiver, depayloads whatever arrives, and reports
// NAL unit mix, access-unit cadence, timestamp behaviour (including 32-bit
// rollover) and malformed-packet counts. Useful to answer "is this sender
// producing something the compositor can ingest" without starting a
// pipeline.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	pionrtp "github.com/pion/rtp"

	"github.com/ethan/mediacompositor/pkg/config"
	"github.com/ethan/mediacompositor/pkg/logger"
	compositorrtp "github.com/ethan/mediacompositor/pkg/rtp"
	"github.com/ethan/mediacompositor/pkg/transport"
	"github.com/ethan/mediacompositor/pkg/types"
)

const (
	naluTypePFrame = 1
	naluTypeIDR    = 5
	naluTypeSEI    = 6
	naluTypeSPS    = 7
	naluTypePPS    = 8
	naluTypeAUD    = 9
)

type diagnostics struct {
	packets   atomic.Uint64
	malformed atomic.Uint64

	videoAUs       atomic.Uint64
	spsReceived    atomic.Uint64
	ppsReceived    atomic.Uint64
	idrReceived    atomic.Uint64
	pframeReceived atomic.Uint64

	audioChunks atomic.Uint64

	tsBackwards atomic.Uint64
	lastVideoTS atomic.Uint64 // extended PTS in nanos, +1 so 0 means unset

	startTime    time.Time
	firstIDRTime atomic.Int64 // unix nanos, 0 until seen
}

func main() {
	fs := flag.NewFlagSet("diagnose", flag.ExitOnError)
	logFlags := logger.RegisterFlags(fs)

	port := fs.Int("port", 5004, "port to listen for RTP on")
	portHigh := fs.Int("port-high", 0, "upper bound of a port range to try (0: single port)")
	proto := fs.String("protocol", "udp", "transport protocol: udp or tcp_server")
	audioCodec := fs.String("audio-codec", "opus", "codec expected on audio payload type 97: opus or aac")
	aacConfig := fs.String("aac-config", "", "AAC AudioSpecificConfig as a hexadecimal octet string (e.g. 1210)")
	aacMode := fs.String("aac-mode", "high_bitrate", "AAC RTP mode: low_bitrate or high_bitrate")
	duration := fs.Duration("duration", 0, "how long to run (0: until interrupted)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "RTP stream inspector\n\n")
		fmt.Fprintf(os.Stderr, "Listens for RTP, depayloads video (PT 96, H.264) and audio (PT 97),\n")
		fmt.Fprintf(os.Stderr, "and reports NAL unit mix, timestamp behaviour and malformed packets.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		logger.PrintUsageExamples()
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error parsing flags: %v\n", err)
		os.Exit(1)
	}

	logConfig, err := logFlags.ToConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error configuring logger: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(logConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()
	logger.SetDefault(log)

	transportProto := config.TransportUDP
	if *proto == "tcp_server" {
		transportProto = config.TransportTCPServer
	}
	high := uint16(*port)
	if *portHigh > *port {
		high = uint16(*portHigh)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	receiver, err := transport.Bind(ctx, log.Logger, transportProto, config.PortOrRange{Low: uint16(*port), High: high}, nil)
	if err != nil {
		log.Error("failed to bind receiver", "error", err)
		os.Exit(1)
	}
	defer receiver.Close()

	videoDep := compositorrtp.NewH264Depayloader()
	audioDep, err := buildAudioDepayloader(*audioCodec, *aacMode, *aacConfig)
	if err != nil {
		log.Error("failed to build audio depayloader", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	diag := &diagnostics{startTime: time.Now()}
	log.Info("inspecting RTP stream", "protocol", transportProto, "port", receiver.LocalPort())

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case raw, ok := <-receiver.Packets():
			if !ok {
				break loop
			}
			diag.inspect(log, raw, videoDep, audioDep)
		case <-ticker.C:
			diag.report(log)
		case <-ctx.Done():
			break loop
		}
	}

	diag.report(log)
	log.Info("inspection finished", "duration", time.Since(diag.startTime).Round(time.Second))
}

type audioDepayloader interface {
	Depayload(pkt *pionrtp.Packet) ([]types.EncodedChunk, error)
}

func buildAudioDepayloader(codec, mode, ascHex string) (audioDepayloader, error) {
	switch codec {
	case "opus":
		return compositorrtp.NewOpusDepayloader(), nil
	case "aac":
		if ascHex == "" {
			return nil, fmt.Errorf("aac requires -aac-config")
		}
		asc, err := hex.DecodeString(ascHex)
		if err != nil {
			return nil, fmt.Errorf("invalid -aac-config: %w", err)
		}
		m := compositorrtp.AACHighBitrate
		if mode == "low_bitrate" {
			m = compositorrtp.AACLowBitrate
		}
		return compositorrtp.NewAACDepayloader(m, asc)
	default:
		return nil, fmt.Errorf("unsupported audio codec %q", codec)
	}
}

func (d *diagnostics) inspect(log *logger.Logger, raw []byte, videoDep *compositorrtp.H264Depayloader, audioDep audioDepayloader) {
	d.packets.Add(1)

	var pkt pionrtp.Packet
	if err := pkt.Unmarshal(raw); err != nil {
		d.malformed.Add(1)
		return
	}
	if err := compositorrtp.CheckPayloadType(pkt.PayloadType); err != nil {
		d.malformed.Add(1)
		return
	}

	switch pkt.PayloadType {
	case compositorrtp.VideoPayloadType:
		chunks, err := videoDep.Depayload(&pkt)
		if err != nil {
			d.malformed.Add(1)
			return
		}
		for _, chunk := range chunks {
			d.videoAUs.Add(1)
			d.classifyNALUs(log, chunk)
			d.trackTimestamp(log, chunk.PTS)
		}
	case compositorrtp.AudioPayloadType:
		chunks, err := audioDep.Depayload(&pkt)
		if err != nil {
			d.malformed.Add(1)
			return
		}
		d.audioChunks.Add(uint64(len(chunks)))
	}
}

// classifyNALUs walks the Annex-B access unit counting the NAL types that
// matter for "can a decoder join this stream": parameter sets and IDR
// cadence.
func (d *diagnostics) classifyNALUs(log *logger.Logger, chunk types.EncodedChunk) {
	data := chunk.Data
	for i := 0; i+3 < len(data); i++ {
		var headerIdx int
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			headerIdx = i + 3
		} else if i+4 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
			headerIdx = i + 4
		} else {
			continue
		}
		if headerIdx >= len(data) {
			break
		}
		switch data[headerIdx] & 0x1F {
		case naluTypeSPS:
			d.spsReceived.Add(1)
		case naluTypePPS:
			d.ppsReceived.Add(1)
		case naluTypeIDR:
			d.idrReceived.Add(1)
			if d.firstIDRTime.CompareAndSwap(0, time.Now().UnixNano()) {
				log.Info("first IDR frame seen", "since_start", time.Since(d.startTime).Round(time.Millisecond))
			}
		case naluTypePFrame:
			d.pframeReceived.Add(1)
		case naluTypeSEI, naluTypeAUD:
			// common, not interesting on their own
		}
		i = headerIdx
	}
}

// trackTimestamp flags a PTS that moved backwards even after rollover
// extension, the classic sign of an interleaved or re-muxed source.
func (d *diagnostics) trackTimestamp(log *logger.Logger, pts time.Duration) {
	curr := uint64(pts) + 1
	prev := d.lastVideoTS.Swap(curr)
	if prev != 0 && curr < prev {
		d.tsBackwards.Add(1)
		log.Warn("video timestamp went backwards",
			"prev", time.Duration(prev-1), "curr", pts,
			"occurrences", d.tsBackwards.Load())
	}
}

func (d *diagnostics) report(log *logger.Logger) {
	log.Info("stream statistics",
		"uptime", time.Since(d.startTime).Round(time.Second),
		"packets", d.packets.Load(),
		"malformed", d.malformed.Load(),
		"video_access_units", d.videoAUs.Load(),
		"sps", d.spsReceived.Load(),
		"pps", d.ppsReceived.Load(),
		"idr", d.idrReceived.Load(),
		"p_frames", d.pframeReceived.Load(),
		"audio_chunks", d.audioChunks.Load(),
		"timestamp_backwards", d.tsBackwards.Load())
}
