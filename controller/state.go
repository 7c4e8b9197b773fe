package controller

import (
	"errors"
	"time"

	"whisperkey/device"
)

type State int32

const (
	Idle State = iota
	Recording
	Transcribing
	Injecting
	// Canceled and Failed are reported to the sink and then left for Idle.
	Canceled
	Failed
)

func (s State) String() string {
	switch s {
	case Recording:
		return "recording"
	case Transcribing:
		return "transcribing"
	case Injecting:
		return "injecting"
	case Canceled:
		return "canceled"
	case Failed:
		return "failed"
	}
	return "idle"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Stage is the furthest point a session reached. With Outcome.Err set it
// is where the session failed.
type Stage int

const (
	StageCapture Stage = iota + 1
	StageTranscribe
	StageInject
)

func (s Stage) String() string {
	switch s {
	case StageCapture:
		return "capture"
	case StageTranscribe:
		return "transcribe"
	case StageInject:
		return "inject"
	}
	return "none"
}

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
	ErrInvalidOptions   = errors.New("invalid session options")
	ErrStopped          = errors.New("controller stopped")
)

// Options are the per-session parameters. The zero Options takes every
// default; otherwise only an empty ModelSize or Language is filled in, and
// Device and MicIndex are used as given.
type Options struct {
	ModelSize string
	Device    device.Intent
	Language  string
	MicIndex  int
}

type Started struct {
	SessionID  string
	ModelSize  string
	Language   string
	Resolution device.Resolution
}

// Outcome is the result of one finished session.
type Outcome struct {
	SessionID         string
	Text              string
	Language          string
	Duration          time.Duration
	TranscriptionTime time.Duration
	Device            device.Kind
	Model             string
	Stage             Stage
	Err               error

	Canceled     bool
	Skipped      bool
	Quiet        bool
	RetriedOnCPU bool
}

// Level is a snapshot of the microphone meter.
type Level struct {
	Level     float64 `json:"level"`
	Recording bool    `json:"recording"`
	Pending   int     `json:"pending"`
}

// Sink receives controller events on the control goroutine. Implementations
// must not block.
type Sink interface {
	StateChanged(s State)
	SessionFinished(o Outcome)
	Warning(msg string)
}

// Sinks fans events out to several sinks.
type Sinks []Sink

func (m Sinks) StateChanged(s State) {
	for _, k := range m {
		k.StateChanged(s)
	}
}

func (m Sinks) SessionFinished(o Outcome) {
	for _, k := range m {
		k.SessionFinished(o)
	}
}

func (m Sinks) Warning(msg string) {
	for _, k := range m {
		k.Warning(msg)
	}
}

type nopSink struct{}

func (nopSink) StateChanged(State)      {}
func (nopSink) SessionFinished(Outcome) {}
func (nopSink) Warning(string)          {}
