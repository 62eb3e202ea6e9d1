// Package api exposes the pipeline controller over HTTP: registration,
// scene/mix updates, unregistration and start, with the pipelineerr
// taxonomy mapped onto status codes (UserError 400, EntityNotFound 404,
// ServerError 500). The media plane never flows through here; this is the
// control plane only.
package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethan/mediacompositor/pkg/config"
	"github.com/ethan/mediacompositor/pkg/pipeline"
	"github.com/ethan/mediacompositor/pkg/pipelineerr"
	"github.com/ethan/mediacompositor/pkg/types"
)

// Server provides the HTTP control plane for one running pipeline.
type Server struct {
	pipeline   *pipeline.Pipeline
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates a control-plane server around pl.
func NewServer(pl *pipeline.Pipeline, logger *slog.Logger) *Server {
	return &Server{
		pipeline: pl,
		logger:   logger,
	}
}

// RegisterInputRequest is the JSON body of POST /api/inputs.
type RegisterInputRequest struct {
	ID         string `json:"id"`
	Transport  string `json:"transport"` // "udp" | "tcp_server"
	PortLow    uint16 `json:"port"`
	PortHigh   uint16 `json:"port_high,omitempty"` // 0: single port
	VideoCodec string `json:"video_codec,omitempty"`
	AudioCodec string `json:"audio_codec,omitempty"`
	Required   bool   `json:"required,omitempty"`
	OffsetMS   *int64 `json:"offset_ms,omitempty"`
	BufferMS   *int64 `json:"buffer_duration_ms,omitempty"`

	// AAC only, per RFC 3640.
	AACMode                string `json:"aac_rtp_mode,omitempty"` // "low_bitrate" | "high_bitrate"
	AACAudioSpecificConfig string `json:"audio_specific_config,omitempty"`
}

// RegisterOutputRequest is the JSON body of POST /api/outputs.
type RegisterOutputRequest struct {
	ID            string           `json:"id"`
	Transport     string           `json:"transport"`
	Host          string           `json:"host,omitempty"`
	PortLow       uint16           `json:"port"`
	PortHigh      uint16           `json:"port_high,omitempty"`
	Width         int              `json:"width"`
	Height        int              `json:"height"`
	EncoderPreset string           `json:"encoder_preset,omitempty"`
	VideoEndCond  EndConditionSpec `json:"video_send_eos_when"`
	AudioEndCond  EndConditionSpec `json:"audio_send_eos_when"`
	MixStrategy   string           `json:"mixing_strategy,omitempty"` // "sum_clip" | "sum_scale"
	Channels      string           `json:"channels,omitempty"`        // "mono" | "stereo"
	Scene         json.RawMessage  `json:"scene,omitempty"`
	Mix           []MixInputSpec   `json:"mix,omitempty"`
}

// EndConditionSpec selects one of the five end-condition rules.
type EndConditionSpec struct {
	Kind   string   `json:"kind"` // "any_of" | "all_of" | "any_input" | "all_inputs" | "never"
	Inputs []string `json:"inputs,omitempty"`
}

// MixInputSpec is one input's contribution to an output's audio mix.
type MixInputSpec struct {
	InputID string  `json:"input_id"`
	Volume  float64 `json:"volume"`
}

// UpdateSceneRequest is the JSON body of POST /api/outputs/{id}/scene.
type UpdateSceneRequest struct {
	Scene          json.RawMessage `json:"scene"`
	ScheduleTimeMS *int64          `json:"schedule_time_ms,omitempty"`
}

// UpdateMixRequest is the JSON body of POST /api/outputs/{id}/mix.
type UpdateMixRequest struct {
	Mix            []MixInputSpec `json:"mix"`
	Strategy       string         `json:"mixing_strategy,omitempty"`
	Channels       string         `json:"channels,omitempty"`
	ScheduleTimeMS *int64         `json:"schedule_time_ms,omitempty"`
}

// Start starts the HTTP server on addr.
func (s *Server) Start(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/inputs", s.handleInputs)
	mux.HandleFunc("/api/inputs/", s.handleInputOperation)
	mux.HandleFunc("/api/outputs", s.handleOutputs)
	mux.HandleFunc("/api/outputs/", s.handleOutputOperation)
	mux.HandleFunc("/api/start", s.handleStart)
	mux.HandleFunc("/api/stats", s.handleStats)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.withLogging(mux),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting control-plane server", "address", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("control-plane server error", "error", err)
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Info("stopping control-plane server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start))
	})
}

// writeError maps a pipeline error onto its HTTP status. Errors that carry
// no taxonomy tag fail closed as 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var perr *pipelineerr.Error
	if errors.As(err, &perr) {
		status = perr.Kind.HTTPStatus()
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleInputs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RegisterInputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, pipelineerr.Userf("register_input", "invalid request body: %w", err))
		return
	}
	id := types.InputID(req.ID)
	if id == "" {
		id = types.NewInputID()
	}

	opts, err := req.toOptions()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.pipeline.RegisterInput(id, opts); err != nil {
		s.writeError(w, err)
		return
	}
	port, _ := s.pipeline.InputPort(id)
	writeJSON(w, http.StatusCreated, map[string]any{"id": string(id), "port": port})
}

func (s *Server) handleInputOperation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/inputs/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.pipeline.UnregisterInput(types.InputID(id), scheduleTimeOf(r)); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (s *Server) handleOutputs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req RegisterOutputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, pipelineerr.Userf("register_output", "invalid request body: %w", err))
		return
	}
	id := types.OutputID(req.ID)
	if id == "" {
		id = types.NewOutputID()
	}

	opts, scene, mix, err := req.toOptions()
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.pipeline.RegisterOutput(id, opts, scene, mix); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": string(id)})
}

func (s *Server) handleOutputOperation(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/outputs/")
	parts := strings.SplitN(rest, "/", 2)
	if parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	id := types.OutputID(parts[0])

	if len(parts) == 1 {
		if r.Method != http.MethodDelete {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := s.pipeline.UnregisterOutput(id, scheduleTimeOf(r)); err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": string(id)})
		return
	}

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	switch parts[1] {
	case "scene":
		s.handleUpdateScene(w, r, id)
	case "mix":
		s.handleUpdateMix(w, r, id)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleUpdateScene(w http.ResponseWriter, r *http.Request, id types.OutputID) {
	var req UpdateSceneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, pipelineerr.Userf("update_scene", "invalid request body: %w", err))
		return
	}
	scene := types.Scene{Definition: req.Scene}
	if err := s.pipeline.UpdateScene(id, scene, msPtrToDuration(req.ScheduleTimeMS)); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": string(id)})
}

func (s *Server) handleUpdateMix(w http.ResponseWriter, r *http.Request, id types.OutputID) {
	var req UpdateMixRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, pipelineerr.Userf("update_mix", "invalid request body: %w", err))
		return
	}
	spec, err := toMixSpec(req.Mix, req.Strategy, req.Channels)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.pipeline.UpdateMix(id, spec, msPtrToDuration(req.ScheduleTimeMS)); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": string(id)})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.pipeline.Start()
	writeJSON(w, http.StatusOK, map[string]string{"state": "running"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	stats := s.pipeline.Stats()
	inputs := make(map[string]map[string]any, len(stats.Inputs))
	for id, is := range stats.Inputs {
		inputs[string(id)] = map[string]any{
			"port":             is.Port,
			"packets_received": is.PacketsReceived,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds":    stats.Uptime.Seconds(),
		"packets_in":        stats.PacketsIn,
		"malformed_packets": stats.MalformedPackets,
		"video_frames_in":   stats.VideoFramesIn,
		"audio_batches_in":  stats.AudioBatchesIn,
		"inputs":            inputs,
		"outputs":           stats.Outputs,
	})
}

func scheduleTimeOf(r *http.Request) *time.Duration {
	raw := r.URL.Query().Get("schedule_time_ms")
	if raw == "" {
		return nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	d := time.Duration(ms) * time.Millisecond
	return &d
}

func msPtrToDuration(ms *int64) *time.Duration {
	if ms == nil {
		return nil
	}
	d := time.Duration(*ms) * time.Millisecond
	return &d
}

func (req RegisterInputRequest) toOptions() (config.InputOptions, error) {
	opts := config.InputOptions{
		Required: req.Required,
		OffsetMS: req.OffsetMS,
		BufferMS: req.BufferMS,
		Port:     portRange(req.PortLow, req.PortHigh),
	}
	proto, err := parseTransport(req.Transport, "register_input")
	if err != nil {
		return opts, err
	}
	opts.Transport = proto

	switch req.VideoCodec {
	case "":
	case "h264":
		v := types.VideoCodecH264
		opts.VideoCodec = &v
	default:
		return opts, pipelineerr.Userf("register_input", "unsupported video codec %q", req.VideoCodec)
	}

	switch req.AudioCodec {
	case "":
	case "opus":
		a := types.AudioCodecOpus
		opts.AudioCodec = &a
	case "aac":
		a := types.AudioCodecAAC
		opts.AudioCodec = &a
		switch req.AACMode {
		case "", "low_bitrate":
			opts.AACDecoder.Mode = config.AACLowBitrate
		case "high_bitrate":
			opts.AACDecoder.Mode = config.AACHighBitrate
		default:
			return opts, pipelineerr.Userf("register_input", "unsupported aac_rtp_mode %q", req.AACMode)
		}
		asc, err := hex.DecodeString(req.AACAudioSpecificConfig)
		if err != nil || len(asc) == 0 {
			return opts, pipelineerr.Userf("register_input", "audio_specific_config must be a hexadecimal octet string")
		}
		opts.AACDecoder.AudioSpecificConfig = asc
	default:
		return opts, pipelineerr.Userf("register_input", "unsupported audio codec %q", req.AudioCodec)
	}
	return opts, nil
}

func (req RegisterOutputRequest) toOptions() (config.OutputOptions, types.Scene, types.MixSpec, error) {
	opts := config.OutputOptions{
		Host:          req.Host,
		Port:          portRange(req.PortLow, req.PortHigh),
		Resolution:    types.Resolution{Width: req.Width, Height: req.Height},
		EncoderPreset: req.EncoderPreset,
	}
	proto, err := parseTransport(req.Transport, "register_output")
	if err != nil {
		return opts, types.Scene{}, types.MixSpec{}, err
	}
	opts.Transport = proto

	if opts.VideoEndCond, err = toEndCondition(req.VideoEndCond, "register_output"); err != nil {
		return opts, types.Scene{}, types.MixSpec{}, err
	}
	if opts.AudioEndCond, err = toEndCondition(req.AudioEndCond, "register_output"); err != nil {
		return opts, types.Scene{}, types.MixSpec{}, err
	}

	mix, err := toMixSpec(req.Mix, req.MixStrategy, req.Channels)
	if err != nil {
		return opts, types.Scene{}, types.MixSpec{}, err
	}
	opts.MixStrategy = mix.Strategy
	opts.Channels = mix.Channels

	return opts, types.Scene{Definition: req.Scene}, mix, nil
}

func toEndCondition(spec EndConditionSpec, op string) (config.OutputEndCondition, error) {
	inputs := make([]types.InputID, len(spec.Inputs))
	for i, raw := range spec.Inputs {
		inputs[i] = types.InputID(raw)
	}
	switch spec.Kind {
	case "", "never":
		return config.OutputEndCondition{Kind: config.EndNever}, nil
	case "any_of":
		return config.OutputEndCondition{Kind: config.EndAnyOf, Inputs: inputs}, nil
	case "all_of":
		return config.OutputEndCondition{Kind: config.EndAllOf, Inputs: inputs}, nil
	case "any_input":
		return config.OutputEndCondition{Kind: config.EndAnyInput}, nil
	case "all_inputs":
		return config.OutputEndCondition{Kind: config.EndAllInputs}, nil
	default:
		return config.OutputEndCondition{}, pipelineerr.Userf(op, "unsupported end condition %q", spec.Kind)
	}
}

func toMixSpec(inputs []MixInputSpec, strategy, channels string) (types.MixSpec, error) {
	spec := types.MixSpec{}
	for _, mi := range inputs {
		spec.Inputs = append(spec.Inputs, types.MixInput{Input: types.InputID(mi.InputID), Volume: mi.Volume})
	}
	switch strategy {
	case "", "sum_clip":
		spec.Strategy = types.SumClip
	case "sum_scale":
		spec.Strategy = types.SumScale
	default:
		return spec, pipelineerr.Userf("update_mix", "unsupported mixing strategy %q", strategy)
	}
	switch channels {
	case "", "stereo":
		spec.Channels = types.ChannelsStereo
	case "mono":
		spec.Channels = types.ChannelsMono
	default:
		return spec, pipelineerr.Userf("update_mix", "unsupported channel layout %q", channels)
	}
	return spec, nil
}

func parseTransport(raw, op string) (config.TransportProtocol, error) {
	switch raw {
	case "", "udp":
		return config.TransportUDP, nil
	case "tcp_server":
		return config.TransportTCPServer, nil
	case "whip":
		// The SDP offer/answer exchange cannot ride in this request body;
		// WHIP registration happens programmatically with a Signaller.
		return 0, pipelineerr.Userf(op, "whip transport requires programmatic registration with a signaller")
	default:
		return 0, pipelineerr.Userf(op, "unsupported transport %q", raw)
	}
}

func portRange(low, high uint16) config.PortOrRange {
	if high == 0 {
		high = low
	}
	return config.PortOrRange{Low: low, High: high}
}
