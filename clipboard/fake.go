package clipboard

import (
	"sync"
)

type FakeClipboard struct {
	mu       sync.Mutex
	text     string
	ReadErr  error
	WriteErr error
	writes   []string
}

func NewFakeClipboard(initial string) *FakeClipboard {
	return &FakeClipboard{text: initial}
}

func (f *FakeClipboard) Read() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return "", f.ReadErr
	}
	return f.text, nil
}

func (f *FakeClipboard) Write(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.WriteErr != nil {
		return f.WriteErr
	}
	f.text = text
	f.writes = append(f.writes, text)
	return nil
}

// Text returns the current contents without going through Read.
func (f *FakeClipboard) Text() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text
}

func (f *FakeClipboard) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

type FakePaster struct {
	mu      sync.Mutex
	Err     error
	OnPaste func()
	count   int
}

func (f *FakePaster) Paste() error {
	f.mu.Lock()
	f.count++
	err, hook := f.Err, f.OnPaste
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return err
}

func (f *FakePaster) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}
