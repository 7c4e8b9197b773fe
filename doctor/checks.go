package doctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"whisperkey/audio"
	"whisperkey/clipboard"
	"whisperkey/device"
	"whisperkey/hotkey"
	"whisperkey/transcriber"
)

func HotkeyCheck() Check {
	return Check{Name: "Global hotkeys", Run: func(context.Context) (string, error) {
		return hotkey.Diagnose()
	}}
}

func MicrophoneCheck(newContext func() (audio.Context, error)) Check {
	return Check{Name: "Microphone", Run: func(context.Context) (string, error) {
		ctx, err := newContext()
		if err != nil {
			return "", fmt.Errorf("cannot connect to audio: %w", err)
		}
		defer ctx.Close()
		devices, err := ctx.Devices()
		if err != nil {
			return "", fmt.Errorf("cannot list devices: %w", err)
		}
		if len(devices) == 0 {
			return "", errors.New("no capture devices found")
		}
		return fmt.Sprintf("%d input device(s), first: %s", len(devices), devices[0].Name), nil
	}}
}

// ClipboardCheck writes a marker and reads it back, then puts the old
// contents back.
func ClipboardCheck(clip clipboard.Clipboard) Check {
	return Check{Name: "Clipboard", Timeout: 3 * time.Second, Run: func(context.Context) (string, error) {
		prev, _ := clip.Read()
		marker := fmt.Sprintf("whisperkey-doctor-%d", time.Now().UnixNano())
		if err := clip.Write(marker); err != nil {
			return "", fmt.Errorf("write failed: %w", err)
		}
		got, err := clip.Read()
		if err != nil {
			return "", fmt.Errorf("read failed: %w", err)
		}
		clip.Write(prev)
		if got != marker {
			return "", fmt.Errorf("mismatch: wrote %q, got %q", marker, got)
		}
		return "write/read verified", nil
	}}
}

type verifier interface {
	Verify() (string, error)
}

func PasteCheck(v verifier) Check {
	return Check{Name: "Paste keystroke", Timeout: 5 * time.Second, Run: func(context.Context) (string, error) {
		msg, err := v.Verify()
		if err != nil {
			return "", fmt.Errorf("%w (on Linux: sudo chmod 660 /dev/uinput && sudo chgrp input /dev/uinput)", err)
		}
		return msg, nil
	}}
}

// GPUCheck never fails the run; CPU inference always works.
func GPUCheck(sel *device.Selector) Check {
	return Check{Name: "GPU", Severity: Warn, Run: func(context.Context) (string, error) {
		p := sel.Reprobe()
		if p.GPUUsable {
			return "CUDA available", nil
		}
		if p.LastError != "" {
			return "", errors.New(p.LastError)
		}
		return "", errors.New("no NVIDIA GPU detected, using CPU")
	}}
}

func BackendCheck(l transcriber.Loader, size string) Check {
	return Check{Name: "Transcription backend", Timeout: 30 * time.Second, Run: func(ctx context.Context) (string, error) {
		m, err := l.Load(ctx, transcriber.LoadSpec{ModelSize: size, Device: device.KindCPU, ComputeType: "int8"})
		if err != nil {
			return "", err
		}
		m.Close()
		return "model " + size + " available", nil
	}}
}

// SelfTest pushes a synthetic tone through svc without a microphone. It
// passes when the backend answers, whatever text it returns.
func SelfTest(ctx context.Context, svc *transcriber.Service, sel *device.Selector, intent device.Intent, size, language string) (transcriber.Transcript, error) {
	res, err := sel.Resolve(intent)
	if err != nil {
		return transcriber.Transcript{}, err
	}
	buf := audio.BufferFromPCM(audio.Tone(440, 2*time.Second, 0.3))
	return svc.Transcribe(ctx, buf, transcriber.Request{
		SessionID:  "selftest",
		ModelSize:  size,
		Language:   language,
		Resolution: res,
	})
}
