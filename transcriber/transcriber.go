// Package transcriber turns a finished recording into text.
//
// A Loader brings a Whisper model up on a device at a given compute type.
// Service owns at most one loaded Model at a time, reloads it when the
// size or device changes, and retries an Auto session on CPU when the GPU
// fails.
package transcriber

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"whisperkey/audio"
	"whisperkey/device"
)

// ModelSizes lists the accepted model sizes, smallest first.
var ModelSizes = []string{"tiny", "base", "small", "medium", "large-v2", "large-v3", "large-v3-turbo"}

const DefaultModelSize = "small"

// ValidateModelSize rejects sizes the backend cannot load.
func ValidateModelSize(size string) error {
	if slices.Contains(ModelSizes, size) {
		return nil
	}
	return fmt.Errorf("invalid model size %q (valid: %s)", size, strings.Join(ModelSizes, ", "))
}

// LoadSpec names one load attempt.
type LoadSpec struct {
	ModelSize   string
	Device      device.Kind
	ComputeType string
}

type Loader interface {
	Load(ctx context.Context, opts LoadSpec) (Model, error)
}

// Model is a loaded model. It is used by one goroutine at a time.
type Model interface {
	Transcribe(ctx context.Context, buf audio.Buffer, language string) (Result, error)
	Close() error
}

type Segment struct {
	Text         string
	Start        float64
	End          float64
	NoSpeechProb float64
	AvgLogProb   float64
}

// Segments the model scores above noSpeechProb and below minAvgLogProb are
// treated as text made up over silence.
const (
	noSpeechProb  = 0.6
	minAvgLogProb = -1.0
)

func (s Segment) hallucinated() bool {
	return s.NoSpeechProb > noSpeechProb && s.AvgLogProb < minAvgLogProb
}

// Result is what a Model returns for one recording.
type Result struct {
	Text       string
	Language   string
	Segments   []Segment
	Metrics    *NetworkMetrics
	UploadSize int
	EncodeTime time.Duration
}

// SpeechText returns the text without hallucinated segments, and how many
// were dropped. Without segments Text is returned as is.
func (r Result) SpeechText() (string, int) {
	var kept []string
	dropped := 0
	for _, s := range r.Segments {
		if s.hallucinated() {
			dropped++
			continue
		}
		if s.Text != "" {
			kept = append(kept, s.Text)
		}
	}
	if dropped == 0 {
		return r.Text, 0
	}
	return strings.Join(kept, " "), dropped
}

// Request carries the per-session parameters for Service.Transcribe.
type Request struct {
	SessionID  string
	ModelSize  string
	Language   string
	Resolution device.Resolution
}

// Transcript is the outcome of a transcription.
type Transcript struct {
	Text          string
	Language      string
	Device        device.Kind
	ComputeType   string
	AudioDuration time.Duration
	Elapsed       time.Duration
	// Skipped is set when the recording was too short to send to the model.
	Skipped bool
	// Quiet is set when the recording's peak stayed under audio.QuietThreshold.
	Quiet        bool
	RetriedOnCPU bool
}
