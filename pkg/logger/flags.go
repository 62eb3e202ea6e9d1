package logger

import (
	"flag"
	"fmt"
	"strings"
)

// Flags holds all logging-related command-line flags
type Flags struct {
	LogLevel        string
	LogFormat       string
	LogFile         string
	DebugRTP        bool
	DebugDecoder    bool
	DebugResampler  bool
	DebugQueue      bool
	DebugMixer      bool
	DebugRenderer   bool
	DebugController bool
	DebugAll        bool
}

// RegisterFlags registers logging flags with the given FlagSet
func RegisterFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}

	fs.StringVar(&f.LogLevel, "log-level", "info",
		"Log level: debug, info, warn, error")
	fs.StringVar(&f.LogLevel, "l", "info",
		"Log level (shorthand)")

	fs.StringVar(&f.LogFormat, "log-format", "text",
		"Log output format: text, json")

	fs.StringVar(&f.LogFile, "log-file", "",
		"Log output file path (default: stdout)")
	fs.StringVar(&f.LogFile, "o", "",
		"Log output file path (shorthand)")

	// Debug category flags, one per dataflow stage
	fs.BoolVar(&f.DebugRTP, "debug-rtp", false,
		"Enable RTP depayload/payload debugging (sequence, timestamp, AU framing)")
	fs.BoolVar(&f.DebugDecoder, "debug-decoder", false,
		"Enable decoder adapter debugging (per-chunk errors, init)")
	fs.BoolVar(&f.DebugResampler, "debug-resampler", false,
		"Enable resampler debugging (gaps, overlaps, batch sizes)")
	fs.BoolVar(&f.DebugQueue, "debug-queue", false,
		"Enable synchronised queue debugging (tick scheduling, PTS normalisation)")
	fs.BoolVar(&f.DebugMixer, "debug-mixer", false,
		"Enable audio mixer debugging (per-tick sample accounting)")
	fs.BoolVar(&f.DebugRenderer, "debug-renderer", false,
		"Enable frame-flow debugging (renderer calls, backpressure)")
	fs.BoolVar(&f.DebugController, "debug-controller", false,
		"Enable pipeline controller debugging (registration, scheduled updates)")
	fs.BoolVar(&f.DebugAll, "debug-all", false,
		"Enable all debug categories")

	return f
}

// ToConfig converts Flags to a logger Config
func (f *Flags) ToConfig() (*Config, error) {
	cfg := NewConfig()

	// Parse log level
	level, err := ParseLevel(f.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Level = level

	// Parse format
	format, err := ParseFormat(f.LogFormat)
	if err != nil {
		return nil, err
	}
	cfg.Format = format

	// Set output file
	cfg.OutputFile = f.LogFile

	// Enable debug categories
	if f.DebugAll {
		cfg.EnableCategory(DebugAll)
		// Force debug level when any debug category is enabled
		cfg.Level = LevelDebug
	} else {
		for _, enabled := range []struct {
			on  bool
			cat DebugCategory
		}{
			{f.DebugRTP, DebugRTP},
			{f.DebugDecoder, DebugDecoder},
			{f.DebugResampler, DebugResampler},
			{f.DebugQueue, DebugQueue},
			{f.DebugMixer, DebugMixer},
			{f.DebugRenderer, DebugRenderer},
			{f.DebugController, DebugController},
		} {
			if enabled.on {
				cfg.EnableCategory(enabled.cat)
				cfg.Level = LevelDebug
			}
		}
	}

	return cfg, nil
}

// PrintUsageExamples prints usage examples for logging flags
func PrintUsageExamples() {
	examples := `
Logging Examples:

  Basic usage (INFO level, text format to stdout):
    ./compositor

  Enable DEBUG level:
    ./compositor --log-level debug
    ./compositor -l debug

  Log to file:
    ./compositor --log-file compositor.log
    ./compositor -o compositor.log

  JSON format for structured logging:
    ./compositor --log-format json -o compositor.json

  Debug the synchronised queue only:
    ./compositor --debug-queue

  Debug the mixer and resampler:
    ./compositor --debug-mixer --debug-resampler

  Debug everything:
    ./compositor --debug-all -o debug.log

  Production logging (WARN level, JSON to file):
    ./compositor -l warn --log-format json -o production.log
`
	fmt.Println(examples)
}

// String returns a string representation of enabled flags
func (f *Flags) String() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("level=%s", f.LogLevel))
	parts = append(parts, fmt.Sprintf("format=%s", f.LogFormat))

	if f.LogFile != "" {
		parts = append(parts, fmt.Sprintf("output=%s", f.LogFile))
	} else {
		parts = append(parts, "output=stdout")
	}

	var debugCategories []string
	if f.DebugAll {
		debugCategories = append(debugCategories, "all")
	} else {
		for _, enabled := range []struct {
			on   bool
			name string
		}{
			{f.DebugRTP, "rtp"},
			{f.DebugDecoder, "decoder"},
			{f.DebugResampler, "resampler"},
			{f.DebugQueue, "queue"},
			{f.DebugMixer, "mixer"},
			{f.DebugRenderer, "renderer"},
			{f.DebugController, "controller"},
		} {
			if enabled.on {
				debugCategories = append(debugCategories, enabled.name)
			}
		}
	}

	if len(debugCategories) > 0 {
		parts = append(parts, fmt.Sprintf("debug=[%s]", strings.Join(debugCategories, ",")))
	}

	return strings.Join(parts, " ")
}
