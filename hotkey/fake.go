package hotkey

import (
	"fmt"
	"sync"
)

type FakeHotkey struct {
	shortcut Shortcut
	keydown  chan struct{}
	keyup    chan struct{}

	mu         sync.Mutex
	registered bool
}

func NewFake() *FakeHotkey {
	return &FakeHotkey{
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}
}

func (f *FakeHotkey) Register() error {
	f.mu.Lock()
	f.registered = true
	f.mu.Unlock()
	return nil
}

func (f *FakeHotkey) Unregister() {
	f.mu.Lock()
	f.registered = false
	f.mu.Unlock()
}

func (f *FakeHotkey) Registered() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered
}

func (f *FakeHotkey) Keydown() <-chan struct{} { return f.keydown }
func (f *FakeHotkey) Keyup() <-chan struct{}   { return f.keyup }

func (f *FakeHotkey) SimKeydown() { f.keydown <- struct{}{} }
func (f *FakeHotkey) SimKeyup()   { f.keyup <- struct{}{} }

// FakeBackend hands out FakeHotkeys and lets tests press shortcuts by name.
type FakeBackend struct {
	mu sync.Mutex
	// Fail makes New fail for these canonical shortcuts.
	Fail  map[string]error
	hooks []*FakeHotkey
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{Fail: map[string]error{}}
}

func (b *FakeBackend) New(s Shortcut) (Hotkey, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.Fail[s.String()]; err != nil {
		return nil, err
	}
	hk := NewFake()
	hk.shortcut = s
	b.hooks = append(b.hooks, hk)
	return hk, nil
}

func (b *FakeBackend) SetFail(descriptor string, err error) {
	s, perr := Parse(descriptor)
	if perr != nil {
		panic(perr)
	}
	b.mu.Lock()
	b.Fail[s.String()] = err
	b.mu.Unlock()
}

// Active returns the registered hook for descriptor, or nil.
func (b *FakeBackend) Active(descriptor string) *FakeHotkey {
	s, err := Parse(descriptor)
	if err != nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.hooks) - 1; i >= 0; i-- {
		if h := b.hooks[i]; h.shortcut == s && h.Registered() {
			return h
		}
	}
	return nil
}

// Press simulates a full press and release of descriptor.
func (b *FakeBackend) Press(descriptor string) error {
	h := b.Active(descriptor)
	if h == nil {
		return fmt.Errorf("no active hook for %s", descriptor)
	}
	h.SimKeydown()
	h.SimKeyup()
	return nil
}
