// Package clipboard places transcribed text into the focused application
// by writing it to the system clipboard and sending the paste chord.
package clipboard

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	cb "github.com/atotto/clipboard"

	"whisperkey/log"
)

// Policy decides what happens to the user's clipboard after a paste.
type Policy int

const (
	LeaveText Policy = iota
	Restore
)

func (p Policy) String() string {
	if p == Restore {
		return "restore"
	}
	return "leave"
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "leave":
		return LeaveText, nil
	case "restore":
		return Restore, nil
	}
	return LeaveText, fmt.Errorf("unknown clipboard policy %q (want leave or restore)", s)
}

func (p Policy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Policy) UnmarshalText(b []byte) error {
	v, err := ParsePolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

type Clipboard interface {
	Read() (string, error)
	Write(text string) error
}

type Paster interface {
	Paste() error
}

// FocusReporter tells whether our own window has keyboard focus, in which
// case pasting would land in the wrong place.
type FocusReporter interface {
	OwnWindowFocused() bool
}

type FocusFunc func() bool

func (f FocusFunc) OwnWindowFocused() bool { return f() }

type InjectionErrorKind int

const (
	NoExternalFocus InjectionErrorKind = iota + 1
	ClipboardAccessDenied
	InputSimulationFailed
)

func (k InjectionErrorKind) String() string {
	switch k {
	case NoExternalFocus:
		return "no external focus"
	case ClipboardAccessDenied:
		return "clipboard access denied"
	case InputSimulationFailed:
		return "input simulation failed"
	}
	return "unknown"
}

type InjectionError struct {
	Kind InjectionErrorKind
	Err  error
}

func (e *InjectionError) Error() string {
	if e.Err == nil {
		return "inject: " + e.Kind.String()
	}
	return fmt.Sprintf("inject: %s: %v", e.Kind, e.Err)
}

func (e *InjectionError) Unwrap() error { return e.Err }

var ErrOwnWindowFocused = errors.New("whisperkey window has focus")

const (
	DefaultPasteDelay   = 50 * time.Millisecond
	DefaultRestoreDelay = 600 * time.Millisecond
)

// Injector writes text to the clipboard and pastes it.
type Injector struct {
	clip   Clipboard
	paster Paster
	focus  FocusReporter
	policy Policy

	PasteDelay   time.Duration
	RestoreDelay time.Duration

	restores sync.WaitGroup
}

func NewInjector(clip Clipboard, paster Paster, policy Policy) *Injector {
	return &Injector{
		clip:         clip,
		paster:       paster,
		policy:       policy,
		PasteDelay:   DefaultPasteDelay,
		RestoreDelay: DefaultRestoreDelay,
	}
}

// SetFocusReporter installs f; nil means we never hold focus.
func (i *Injector) SetFocusReporter(f FocusReporter) { i.focus = f }

func (i *Injector) Policy() Policy { return i.policy }

// Inject pastes text into the focused application. On failure the text is
// left on the clipboard so the user can paste it by hand.
func (i *Injector) Inject(ctx context.Context, text string) error {
	if i.focus != nil && i.focus.OwnWindowFocused() {
		return &InjectionError{Kind: NoExternalFocus, Err: ErrOwnWindowFocused}
	}

	var previous string
	restore := i.policy == Restore
	if restore {
		p, err := i.clip.Read()
		if err != nil {
			log.Warnf("read clipboard for restore: %v", err)
			restore = false
		}
		previous = p
	}

	if err := i.clip.Write(text); err != nil {
		return &InjectionError{Kind: ClipboardAccessDenied, Err: err}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(i.PasteDelay):
	}

	if err := i.paster.Paste(); err != nil {
		return &InjectionError{Kind: InputSimulationFailed, Err: err}
	}

	if restore {
		i.restores.Add(1)
		go i.restore(previous, text)
	}
	return nil
}

func (i *Injector) restore(previous, injected string) {
	defer i.restores.Done()
	time.Sleep(i.RestoreDelay)
	current, err := i.clip.Read()
	if err != nil {
		log.Warnf("read clipboard before restore: %v", err)
		return
	}
	// The user copied something else in the meantime; leave it.
	if current != injected {
		return
	}
	if err := i.clip.Write(previous); err != nil {
		log.Warnf("restore clipboard: %v", err)
	}
}

// Wait blocks until pending clipboard restores have run.
func (i *Injector) Wait() {
	i.restores.Wait()
}

// System is the OS clipboard.
type System struct{}

func (System) Read() (string, error)   { return cb.ReadAll() }
func (System) Write(text string) error { return cb.WriteAll(text) }

// Unsupported reports whether no clipboard utility is available
// (xclip, xsel or wl-clipboard on Linux).
func Unsupported() bool { return cb.Unsupported }
