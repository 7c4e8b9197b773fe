// Package hotkey binds global keyboard shortcuts to actions.
package hotkey

// Hotkey is one registered OS-level shortcut.
type Hotkey interface {
	Register() error
	Unregister()
	Keydown() <-chan struct{}
	Keyup() <-chan struct{}
}

// Backend creates hooks for shortcuts.
type Backend interface {
	New(s Shortcut) (Hotkey, error)
}

// SystemBackend uses the platform hook: golang.design/x/hotkey on macOS
// and Windows, evdev on Linux.
type SystemBackend struct{}

func (SystemBackend) New(s Shortcut) (Hotkey, error) {
	return newSystem(s)
}

type Action string

const (
	ActionToggle Action = "toggle"
	ActionCancel Action = "cancel"
)
