package logger_test

import (
	"fmt"
	"os"

	"github.com/ethan/mediacompositor/pkg/logger"
)

// Example showing basic logger usage
func ExampleLogger_basic() {
	// Create logger with default config
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatText

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// Basic logging
	log.Info("pipeline started", "inputs", 2, "outputs", 1)
	log.Warn("deprecated option used", "option", "offset_ms=auto")
	log.Error("failed to register output", "error", "duplicate id")
}

// Example showing debug category usage
func ExampleLogger_categories() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelDebug
	cfg.EnableCategory(logger.DebugRTP)
	cfg.EnableCategory(logger.DebugQueue)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	// RTP debugging (only logged if DebugRTP enabled)
	log.DebugRTPPacket(12345, 90000, 96, 1200)

	// Queue debugging (only logged if DebugQueue enabled)
	log.DebugQueueCat("tick postponed", "input_id", "cam-1", "deadline_ms", 100)

	// Generic category logging
	log.DebugRTP("packet received", "seq", 12345)
	log.DebugMixerCat("mix spec updated", "output_id", "out-1")
}

// Example showing command-line flags integration
func ExampleFlags() {
	// In main.go:
	// import (
	//     "flag"
	//     "github.com/ethan/mediacompositor/pkg/logger"
	// )
	//
	// fs := flag.NewFlagSet("compositor", flag.ExitOnError)
	// logFlags := logger.RegisterFlags(fs)
	// fs.Parse(os.Args[1:])
	//
	// logConfig, _ := logFlags.ToConfig()
	// log, _ := logger.New(logConfig)
	// defer log.Close()

	fmt.Println("See cmd/compositor/main.go for complete example")
}

// Example showing JSON format output
func ExampleLogger_json() {
	cfg := logger.NewConfig()
	cfg.Level = logger.LevelInfo
	cfg.Format = logger.FormatJSON
	cfg.OutputFile = "app.json"

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()
	defer os.Remove("app.json") // Cleanup

	log.Info("output registered",
		"output_id", "out-1",
		"resolution", "1920x1080")

	// Output will be in JSON format:
	// {"time":"...","level":"INFO","msg":"output registered","output_id":"out-1","resolution":"1920x1080"}
}

// Example showing conditional debug logging
func ExampleLogger_conditional() {
	cfg := logger.NewConfig()
	cfg.EnableCategory(logger.DebugRTP)

	log, err := logger.New(cfg)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	payload := make([]byte, 1024)
	log.DebugRTPPayload(7, payload) // Only logs first 32 bytes

	// Category methods automatically check if enabled
	// No manual check needed - zero cost if disabled
	log.DebugRTP("packet received", "seq", 12345)
}
