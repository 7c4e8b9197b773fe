package transcriber

import (
	"errors"
	"fmt"
	"strings"

	"whisperkey/device"
)

type LoadErrorKind int

const (
	LibraryMissing LoadErrorKind = iota + 1
	OutOfMemory
	LoadUnknown
)

func (k LoadErrorKind) String() string {
	switch k {
	case LibraryMissing:
		return "library missing"
	case OutOfMemory:
		return "out of memory"
	}
	return "unknown"
}

// LoadError reports a model that could not be brought up on a device.
type LoadError struct {
	Kind      LoadErrorKind
	ModelSize string
	Device    device.Kind
	Err       error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s on %s: %s: %v", e.ModelSize, e.Device, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

type TranscribeErrorKind int

const (
	DeviceFault TranscribeErrorKind = iota + 1
	Fatal
	EmptyAudio
)

func (k TranscribeErrorKind) String() string {
	switch k {
	case DeviceFault:
		return "device fault"
	case EmptyAudio:
		return "empty audio"
	}
	return "fatal"
}

type TranscribeError struct {
	Kind TranscribeErrorKind
	Err  error
}

func (e *TranscribeError) Error() string {
	if e.Err == nil {
		return "transcribe: " + e.Kind.String()
	}
	return fmt.Sprintf("transcribe: %s: %v", e.Kind, e.Err)
}

func (e *TranscribeError) Unwrap() error { return e.Err }

// Substrings that identify a failure of the CUDA stack rather than of the
// model or the request.
var gpuMarkers = []string{"cuda", "cublas", "cudnn", "nvrtc", "device-side", "gpu"}

func mentionsGPU(msg string) bool {
	msg = strings.ToLower(msg)
	for _, m := range gpuMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func mentionsCUDALibrary(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "cuda") || strings.Contains(msg, "cublas") || strings.Contains(msg, "cudnn")
}

func mentionsOOM(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "out of memory") || strings.Contains(msg, "outofmemory")
}

func asLoadError(err error, size string, kind device.Kind) *LoadError {
	var le *LoadError
	if errors.As(err, &le) {
		return le
	}
	k := LoadUnknown
	msg := strings.ToLower(err.Error())
	switch {
	case mentionsOOM(msg):
		k = OutOfMemory
	case strings.Contains(msg, "library") || strings.Contains(msg, "cannot load") ||
		strings.Contains(msg, "no such file") || strings.Contains(msg, "not installed"):
		k = LibraryMissing
	}
	return &LoadError{Kind: k, ModelSize: size, Device: kind, Err: err}
}

func asTranscribeError(err error, kind device.Kind) *TranscribeError {
	var te *TranscribeError
	if errors.As(err, &te) {
		return te
	}
	if kind == device.KindGPU && (mentionsGPU(err.Error()) || mentionsOOM(err.Error())) {
		return &TranscribeError{Kind: DeviceFault, Err: err}
	}
	return &TranscribeError{Kind: Fatal, Err: err}
}
