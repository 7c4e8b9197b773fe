package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"whisperkey/controller"
)

// consoleSink prints one line per finished session when the TUI is off.
type consoleSink struct {
	mu  sync.Mutex
	out io.Writer
}

func newConsoleSink(out io.Writer) *consoleSink {
	return &consoleSink{out: out}
}

func (c *consoleSink) StateChanged(s controller.State) {
	if s == controller.Recording {
		c.printf("● recording")
	}
}

func (c *consoleSink) SessionFinished(o controller.Outcome) {
	c.printf("%s", outcomeLine(o))
}

func (c *consoleSink) Warning(msg string) {
	c.printf("⚠ %s", msg)
}

func (c *consoleSink) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func outcomeLine(o controller.Outcome) string {
	switch {
	case o.Canceled:
		return "○ canceled"
	case o.Err != nil && o.Text != "":
		return fmt.Sprintf("✗ %q not pasted: %v", o.Text, o.Err)
	case o.Err != nil:
		return fmt.Sprintf("✗ %s failed: %v", o.Stage, o.Err)
	case o.Skipped:
		return "○ too short, skipped"
	case o.Text == "":
		return "○ no speech detected"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✓ %q", o.Text)
	fmt.Fprintf(&b, " (%.1fs audio, %dms on %s", o.Duration.Seconds(), o.TranscriptionTime.Milliseconds(), o.Device)
	if o.RetriedOnCPU {
		b.WriteString(" after GPU failure")
	}
	b.WriteString(")")
	return b.String()
}
