package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	diagName       = "diagnostics_log.txt"
	transcriptName = "transcribe_log.txt"
)

var (
	diagLog        zerolog.Logger
	diagFile       *lumberjack.Logger
	transcribeFile *os.File
	logMu          sync.Mutex
	logReady       bool
	pid            int
	dir            string
)

// Metrics describes one completed transcription request.
type Metrics struct {
	SessionID     string
	Model         string
	Device        string
	ComputeType   string
	AudioLengthS  float64
	UploadKB      float64
	EncodeTimeMs  float64
	DNSTimeMs     float64
	TLSTimeMs     float64
	TTFBMs        float64
	NetworkTimeMs float64
	TotalTimeMs   float64
	ConnReused    bool
	RetriedOnCPU  bool
	MemoryAllocMB float64
	Dropped       int
}

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: --logpath flag
	if flagPath != "" {
		return absolute(flagPath)
	}

	// Priority 2: WHISPERKEY_LOG_PATH environment variable
	if envPath := os.Getenv("WHISPERKEY_LOG_PATH"); envPath != "" {
		return absolute(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absolute(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	var err error
	transcribeFile, err = os.OpenFile(filepath.Join(dir, transcriptName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	diagFile = &lumberjack.Logger{
		Filename:   filepath.Join(dir, diagName),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     30,
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).With().Timestamp().Int("pid", pid).Logger()
	diagLog.Info().Str("dir", dir).Msg("log_open")

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	if transcribeFile != nil {
		transcribeFile.Close()
		transcribeFile = nil
	}
	logReady = false
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func SessionStart(id, model, intent, resolved string) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("session", id).
		Str("model", model).
		Str("intent", intent).
		Str("device", resolved).
		Msg("session_start")
}

func SessionEnd(id, state string, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Error().Err(err)
	}
	ev.Str("session", id).Str("state", state).Msg("session_end")
}

// DeviceFallback records a GPU to CPU downgrade and the reason for it.
func DeviceFallback(stage, reason string) {
	if !logReady {
		return
	}
	diagLog.Warn().
		Str("stage", stage).
		Str("reason", reason).
		Msg("device_fallback")
}

func ModelLoad(model, device, computeType string, elapsed time.Duration, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Info()
	if err != nil {
		ev = diagLog.Warn().Err(err)
	}
	ev.Str("model", model).
		Str("device", device).
		Str("compute_type", computeType).
		Float64("load_ms", float64(elapsed.Microseconds())/1000).
		Msg("model_load")
}

func TranscriptionMetrics(m Metrics) {
	if !logReady {
		return
	}

	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}

	diagLog.Info().
		Str("session", m.SessionID).
		Str("model", m.Model).
		Str("device", m.Device).
		Str("compute_type", m.ComputeType).
		Str("conn", connStatus).
		Bool("cpu_retry", m.RetriedOnCPU).
		Float64("audio_s", m.AudioLengthS).
		Float64("upload_kb", m.UploadKB).
		Float64("encode_ms", m.EncodeTimeMs).
		Float64("dns_ms", m.DNSTimeMs).
		Float64("tls_ms", m.TLSTimeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("network_ms", m.NetworkTimeMs).
		Float64("total_ms", m.TotalTimeMs).
		Int("dropped_segments", m.Dropped).
		Float64("mem_mb", m.MemoryAllocMB).
		Msg("transcription")
}

func TranscriptionText(text string) {
	if !logReady {
		return
	}
	logMu.Lock()
	defer logMu.Unlock()
	line := fmt.Sprintf("%s\t[%d]\t%s\n", time.Now().Format("2006-01-02 15:04:05"), pid, text)
	transcribeFile.WriteString(line)
}

func Request(method, path string, status int, latency time.Duration, err error) {
	if !logReady {
		return
	}
	ev := diagLog.Debug()
	if err != nil {
		ev = diagLog.Warn().Err(err)
	}
	ev.Str("method", method).
		Str("path", path).
		Int("status", status).
		Dur("latency", latency).
		Msg("http_request")
}
