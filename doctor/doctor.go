// Package doctor runs system diagnostics: hotkeys, microphone, clipboard,
// paste, GPU and the transcription backend.
package doctor

import (
	"context"
	"fmt"
	"io"
	"time"
)

type Status int

const (
	Pass Status = iota
	Warn
	Fail
)

func (s Status) String() string {
	switch s {
	case Pass:
		return "PASS"
	case Warn:
		return "WARN"
	}
	return "FAIL"
}

// Check is one diagnostic. Run returns a short detail line; a Warn check
// failing does not fail the whole run.
type Check struct {
	Name     string
	Severity Status
	Timeout  time.Duration
	Run      func(ctx context.Context) (string, error)
}

type Result struct {
	Name   string
	Status Status
	Detail string
}

const defaultTimeout = 5 * time.Second

// Run executes checks in order and reports each one to w. It returns false
// if any Fail-severity check failed.
func Run(ctx context.Context, w io.Writer, checks []Check) ([]Result, bool) {
	ok := true
	results := make([]Result, 0, len(checks))
	for i, c := range checks {
		fmt.Fprintf(w, "[%d/%d] %s\n", i+1, len(checks), c.Name)
		r := run(ctx, c)
		fmt.Fprintf(w, "  %s: %s\n", r.Status, r.Detail)
		if r.Status == Fail {
			ok = false
		}
		results = append(results, r)
	}
	return results, ok
}

func run(ctx context.Context, c Check) Result {
	timeout := c.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type out struct {
		detail string
		err    error
	}
	ch := make(chan out, 1)
	// Some backends (clipboard tools, uinput) hang instead of failing.
	go func() {
		d, err := c.Run(ctx)
		ch <- out{d, err}
	}()

	var o out
	select {
	case o = <-ch:
	case <-ctx.Done():
		o.err = fmt.Errorf("timed out after %s", timeout)
	}

	if o.err == nil {
		return Result{Name: c.Name, Status: Pass, Detail: o.detail}
	}
	status := Fail
	if c.Severity == Warn {
		status = Warn
	}
	return Result{Name: c.Name, Status: status, Detail: o.err.Error()}
}
