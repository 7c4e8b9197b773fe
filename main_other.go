//go:build !linux

package main

import (
	"os"
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

// The hotkey backend must own the main thread on macOS.
func init() {
	runtime.LockOSThread()
}

func main() {
	code := 0
	mainthread.Init(func() { code = run() })
	os.Exit(code)
}
