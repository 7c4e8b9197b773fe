//go:build !linux && !darwin && !windows

package hotkey

import (
	"errors"
	"runtime"
)

func newSystem(Shortcut) (Hotkey, error) {
	return nil, errors.New("global hotkeys are not supported on " + runtime.GOOS)
}

func Diagnose() (string, error) {
	return "", errors.New("global hotkeys are not supported on " + runtime.GOOS)
}
