package transcriber

import (
	"context"
	"sync"
	"time"

	"whisperkey/audio"
	"whisperkey/device"
)

// FakeLoader hands out FakeModels and records every call. Errors can be
// injected per device.
type FakeLoader struct {
	mu sync.Mutex

	Text     string
	Language string
	// Delay is how long each Transcribe blocks, honouring ctx.
	Delay time.Duration

	LoadErr       map[device.Kind]error
	TranscribeErr map[device.Kind]error

	loads       []LoadSpec
	transcribes []device.Kind
	closes      int
}

func NewFakeLoader(text string) *FakeLoader {
	return &FakeLoader{
		Text:          text,
		Language:      "en",
		LoadErr:       map[device.Kind]error{},
		TranscribeErr: map[device.Kind]error{},
	}
}

func (f *FakeLoader) Load(ctx context.Context, opts LoadSpec) (Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, opts)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.LoadErr[opts.Device]; err != nil {
		return nil, err
	}
	return &fakeModel{loader: f, opts: opts}, nil
}

func (f *FakeLoader) SetText(text string) {
	f.mu.Lock()
	f.Text = text
	f.mu.Unlock()
}

func (f *FakeLoader) SetLoadErr(k device.Kind, err error) {
	f.mu.Lock()
	f.LoadErr[k] = err
	f.mu.Unlock()
}

func (f *FakeLoader) SetTranscribeErr(k device.Kind, err error) {
	f.mu.Lock()
	f.TranscribeErr[k] = err
	f.mu.Unlock()
}

// Loads returns every Load call so far.
func (f *FakeLoader) Loads() []LoadSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]LoadSpec(nil), f.loads...)
}

// Transcribes returns the device of every Transcribe call so far.
func (f *FakeLoader) Transcribes() []device.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.Kind(nil), f.transcribes...)
}

func (f *FakeLoader) Closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeModel struct {
	loader *FakeLoader
	opts   LoadSpec
}

func (m *fakeModel) Transcribe(ctx context.Context, buf audio.Buffer, language string) (Result, error) {
	f := m.loader
	f.mu.Lock()
	f.transcribes = append(f.transcribes, m.opts.Device)
	err := f.TranscribeErr[m.opts.Device]
	text, lang, delay := f.Text, f.Language, f.Delay
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return Result{}, err
	}
	if language != "" && language != "auto" {
		lang = language
	}
	return Result{Text: text, Language: lang}, nil
}

func (m *fakeModel) Close() error {
	m.loader.mu.Lock()
	m.loader.closes++
	m.loader.mu.Unlock()
	return nil
}
