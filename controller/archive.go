package controller

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/natefinch/atomic"

	"whisperkey/audio"
	"whisperkey/encoder"
)

// SaveRecording writes buf as FLAC into dir and returns the file path.
// The file appears atomically so a reader never sees a partial recording.
func SaveRecording(dir, sessionID string, at time.Time, buf audio.Buffer) (string, error) {
	if buf.Empty() {
		return "", fmt.Errorf("empty recording")
	}
	data, err := encoder.EncodeFlac(buf.PCM16())
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, archiveName(sessionID, at))
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return "", err
	}
	return path, nil
}

func archiveName(sessionID string, at time.Time) string {
	id := sessionID
	if len(id) > 8 {
		id = id[:8]
	}
	return at.Format("20060102-150405") + "-" + id + ".flac"
}
