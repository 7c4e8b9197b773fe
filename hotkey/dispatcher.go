package hotkey

import (
	"errors"
	"fmt"
	"sync"

	"whisperkey/log"
)

var (
	ErrBindingConflict = errors.New("shortcut already bound to another action")
	ErrClosed          = errors.New("dispatcher closed")
)

type binding struct {
	shortcut Shortcut
	hk       Hotkey
	stop     chan struct{}
	done     chan struct{}
}

// Dispatcher turns key presses into Actions. Each bound shortcut has a
// goroutine forwarding its Keydown edge to Events; Keyup is drained.
type Dispatcher struct {
	backend Backend
	events  chan Action

	mu       sync.Mutex
	bindings map[Action]*binding
	closed   bool
}

func NewDispatcher(b Backend) *Dispatcher {
	return &Dispatcher{
		backend:  b,
		events:   make(chan Action, 8),
		bindings: make(map[Action]*binding),
	}
}

func (d *Dispatcher) Events() <-chan Action { return d.events }

// Bind attaches descriptor to action. Rebinding an action swaps the hook:
// the old one is unregistered first and restored if the new one fails.
func (d *Dispatcher) Bind(action Action, descriptor string) error {
	s, err := Parse(descriptor)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	for a, b := range d.bindings {
		if a != action && b.shortcut == s {
			return fmt.Errorf("%w: %s is bound to %s", ErrBindingConflict, s, a)
		}
	}

	old := d.bindings[action]
	if old != nil {
		if old.shortcut == s {
			return nil
		}
		d.release(old)
		delete(d.bindings, action)
	}

	b, err := d.register(action, s)
	if err != nil {
		if old != nil {
			restored, rerr := d.register(action, old.shortcut)
			if rerr != nil {
				log.Errorf("restore %s binding %s: %v", action, old.shortcut, rerr)
			} else {
				d.bindings[action] = restored
			}
		}
		return fmt.Errorf("bind %s to %s: %w", action, s, err)
	}
	d.bindings[action] = b
	log.Infof("bound %s to %s", action, s)
	return nil
}

func (d *Dispatcher) register(action Action, s Shortcut) (*binding, error) {
	hk, err := d.backend.New(s)
	if err != nil {
		return nil, err
	}
	if err := hk.Register(); err != nil {
		return nil, err
	}
	b := &binding{shortcut: s, hk: hk, stop: make(chan struct{}), done: make(chan struct{})}
	go d.forward(action, b)
	return b, nil
}

func (d *Dispatcher) forward(action Action, b *binding) {
	defer close(b.done)
	for {
		select {
		case <-b.stop:
			return
		case <-b.hk.Keyup():
		case <-b.hk.Keydown():
			select {
			case d.events <- action:
			case <-b.stop:
				return
			}
		}
	}
}

func (d *Dispatcher) release(b *binding) {
	close(b.stop)
	b.hk.Unregister()
	<-b.done
}

// Unbind removes the action's shortcut, if any.
func (d *Dispatcher) Unbind(action Action) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if b := d.bindings[action]; b != nil {
		d.release(b)
		delete(d.bindings, action)
	}
}

// Bindings returns the canonical shortcut of every bound action.
func (d *Dispatcher) Bindings() map[Action]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[Action]string, len(d.bindings))
	for a, b := range d.bindings {
		out[a] = b.shortcut.String()
	}
	return out
}

// Close unbinds everything and closes Events.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for a, b := range d.bindings {
		d.release(b)
		delete(d.bindings, a)
	}
	close(d.events)
}
