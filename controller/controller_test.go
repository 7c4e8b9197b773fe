package controller

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whisperkey/audio"
	"whisperkey/clipboard"
	"whisperkey/device"
	"whisperkey/transcriber"
)

type recordingSink struct {
	mu       sync.Mutex
	states   []State
	outcomes []Outcome
	warnings []string
	finished chan Outcome
}

func newRecordingSink() *recordingSink {
	return &recordingSink{finished: make(chan Outcome, 16)}
}

func (s *recordingSink) StateChanged(st State) {
	s.mu.Lock()
	s.states = append(s.states, st)
	s.mu.Unlock()
}

func (s *recordingSink) SessionFinished(o Outcome) {
	s.mu.Lock()
	s.outcomes = append(s.outcomes, o)
	s.mu.Unlock()
	s.finished <- o
}

func (s *recordingSink) Warning(msg string) {
	s.mu.Lock()
	s.warnings = append(s.warnings, msg)
	s.mu.Unlock()
}

func (s *recordingSink) Warnings() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.warnings...)
}

func (s *recordingSink) States() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...)
}

func (s *recordingSink) wait(t *testing.T) Outcome {
	t.Helper()
	select {
	case o := <-s.finished:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for session outcome")
		return Outcome{}
	}
}

type harness struct {
	ctrl   *Controller
	audio  *audio.FakeContext
	loader *transcriber.FakeLoader
	clip   *clipboard.FakeClipboard
	paster *clipboard.FakePaster
	sink   *recordingSink
	sel    *device.Selector
	probe  device.Probe
}

func newHarness(t *testing.T, pcm []byte, text string) *harness {
	t.Helper()
	h := &harness{
		audio:  audio.NewFakeContext(pcm, false),
		loader: transcriber.NewFakeLoader(text),
		clip:   clipboard.NewFakeClipboard("before"),
		paster: &clipboard.FakePaster{},
		sink:   newRecordingSink(),
		probe:  device.Probe{GPUPresent: true, GPUUsable: true},
	}
	h.sel = device.NewSelector(device.ProberFunc(func() device.Probe { return h.probe }))
	inj := clipboard.NewInjector(h.clip, h.paster, clipboard.LeaveText)
	inj.PasteDelay = time.Millisecond

	h.ctrl = New(Deps{
		Capture:     audio.NewCapture(h.audio),
		Transcriber: transcriber.NewService(h.loader, h.sel),
		Injector:    inj,
		Devices:     h.sel,
		Sink:        h.sink,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func TestDictationEndToEnd(t *testing.T) {
	h := newHarness(t, audio.Tone(440, 3*time.Second, 0.5), "hello")

	h.ctrl.Toggle()
	require.Eventually(t, func() bool { return h.ctrl.State() == Recording }, time.Second, 5*time.Millisecond)
	h.ctrl.Toggle()

	o := h.sink.wait(t)
	require.NoError(t, o.Err)
	assert.Equal(t, "hello", o.Text)
	assert.Equal(t, StageInject, o.Stage)
	assert.Equal(t, device.KindGPU, o.Device)
	assert.InDelta(t, 3.0, o.Duration.Seconds(), 0.1)
	assert.Equal(t, []string{"hello"}, h.clip.Writes())
	assert.Equal(t, 1, h.paster.Count())
	assert.Equal(t, Idle, h.ctrl.State())
	assert.Equal(t, []State{Recording, Transcribing, Injecting, Idle}, h.sink.States())
}

func TestSilenceInjectsNothing(t *testing.T) {
	h := newHarness(t, audio.Silence(2*time.Second), "")

	_, err := h.ctrl.Start(context.Background(), Options{ModelSize: "small", MicIndex: -1})
	require.NoError(t, err)
	o, err := h.ctrl.Stop(context.Background())
	require.NoError(t, err)

	require.NoError(t, o.Err)
	assert.Empty(t, o.Text)
	assert.True(t, o.Quiet)
	assert.Equal(t, StageTranscribe, o.Stage)
	assert.Empty(t, h.clip.Writes())
	assert.Zero(t, h.paster.Count())
	assert.NotEmpty(t, h.sink.Warnings())
	assert.Equal(t, Idle, h.ctrl.State())
}

func TestSingleLiveSession(t *testing.T) {
	h := newHarness(t, audio.Tone(440, time.Second, 0.5), "hi")
	ctx := context.Background()

	first, err := h.ctrl.Start(ctx, Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, first.SessionID)

	_, err = h.ctrl.Start(ctx, Options{})
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	assert.Equal(t, first.SessionID, h.ctrl.Health().SessionID)

	_, err = h.ctrl.Stop(ctx)
	require.NoError(t, err)
	_, err = h.ctrl.Stop(ctx)
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestCancelDiscardsRecording(t *testing.T) {
	h := newHarness(t, audio.Tone(440, time.Second, 0.5), "hello")
	_, err := h.ctrl.Start(context.Background(), Options{})
	require.NoError(t, err)

	require.NoError(t, h.ctrl.Cancel())
	o := h.sink.wait(t)
	assert.True(t, o.Canceled)
	assert.Equal(t, StageCapture, o.Stage)
	assert.Empty(t, h.loader.Transcribes())
	assert.Empty(t, h.clip.Writes())
	assert.Equal(t, Idle, h.ctrl.State())

	assert.ErrorIs(t, h.ctrl.Cancel(), ErrNotRecording)
}

func TestToggleIgnoredWhileTranscribing(t *testing.T) {
	h := newHarness(t, audio.Tone(440, time.Second, 0.5), "hello")
	h.loader.Delay = 300 * time.Millisecond

	_, err := h.ctrl.Start(context.Background(), Options{})
	require.NoError(t, err)
	h.ctrl.Toggle()
	require.Eventually(t, func() bool { return h.ctrl.State() == Transcribing }, time.Second, time.Millisecond)

	h.ctrl.Toggle()
	assert.Equal(t, Transcribing, h.ctrl.State())

	o := h.sink.wait(t)
	assert.Equal(t, "hello", o.Text)
	assert.Len(t, h.loader.Transcribes(), 1)
	assert.Equal(t, Idle, h.ctrl.State())
}

func TestLevelDuringRecording(t *testing.T) {
	h := newHarness(t, audio.Tone(440, time.Second, 0.5), "hello")
	assert.False(t, h.ctrl.Level().Recording)

	_, err := h.ctrl.Start(context.Background(), Options{})
	require.NoError(t, err)
	lv := h.ctrl.Level()
	assert.True(t, lv.Recording)
	assert.Greater(t, lv.Level, 0.0)
	assert.Equal(t, lv, h.ctrl.Level(), "reading the level must not consume it")

	require.NoError(t, h.ctrl.Cancel())
}

func TestShortRecordingSkipsModel(t *testing.T) {
	h := newHarness(t, audio.Tone(440, 100*time.Millisecond, 0.5), "hello")
	_, err := h.ctrl.Start(context.Background(), Options{})
	require.NoError(t, err)
	o, err := h.ctrl.Stop(context.Background())
	require.NoError(t, err)

	assert.True(t, o.Skipped)
	assert.Empty(t, o.Text)
	assert.Empty(t, h.loader.Loads())
	assert.Empty(t, h.clip.Writes())
}

func TestAutoFallsBackToCPU(t *testing.T) {
	h := newHarness(t, audio.Tone(440, time.Second, 0.5), "hello")
	h.loader.SetLoadErr(device.KindGPU, errors.New("CUDA failed with error out of memory"))

	st, err := h.ctrl.Start(context.Background(), Options{Device: device.Auto})
	require.NoError(t, err)
	assert.Equal(t, device.KindGPU, st.Resolution.Device)

	o, err := h.ctrl.Stop(context.Background())
	require.NoError(t, err)
	require.NoError(t, o.Err)
	assert.Equal(t, "hello", o.Text)
	assert.Equal(t, device.KindCPU, o.Device)
	assert.True(t, o.RetriedOnCPU)
}

func TestExplicitGPUUnavailable(t *testing.T) {
	h := newHarness(t, audio.Tone(440, time.Second, 0.5), "hello")
	h.probe = device.Probe{}

	_, err := h.ctrl.Start(context.Background(), Options{Device: device.GPU})
	assert.ErrorIs(t, err, device.ErrGPUUnavailable)

	o := h.sink.wait(t)
	assert.ErrorIs(t, o.Err, device.ErrGPUUnavailable)
	// nothing was captured, so this must not read as a failed transcription
	assert.Equal(t, StageCapture, o.Stage)
	assert.Equal(t, Idle, h.ctrl.State())
	assert.Nil(t, h.audio.Last(), "microphone opened for a session that could not run")
}

func TestPartialOptions(t *testing.T) {
	sel := device.NewSelector(device.ProberFunc(func() device.Probe { return device.Probe{GPUPresent: true, GPUUsable: true} }))
	c := New(Deps{
		Capture:     audio.NewCapture(audio.NewFakeContext(audio.Tone(440, time.Second, 0.5), false)),
		Transcriber: transcriber.NewService(transcriber.NewFakeLoader("x"), sel),
		Devices:     sel,
		Defaults: func() Options {
			return Options{ModelSize: "small", Device: device.CPU, Language: "de", MicIndex: -1}
		},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	st, err := c.Start(ctx, Options{ModelSize: "base", MicIndex: -1})
	require.NoError(t, err)
	assert.Equal(t, "base", st.ModelSize)
	assert.Equal(t, "de", st.Language)
	assert.Equal(t, device.Auto, st.Resolution.Intent, "device is taken as given once any field is set")
	require.NoError(t, c.Cancel())
	require.Eventually(t, func() bool { return c.State() == Idle }, time.Second, 5*time.Millisecond)

	st, err = c.Start(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, "small", st.ModelSize)
	assert.Equal(t, device.CPU, st.Resolution.Intent)
	require.NoError(t, c.Cancel())
}

func TestCaptureFailure(t *testing.T) {
	h := newHarness(t, nil, "hello")
	h.audio.OpenErr = errors.New("no such device")

	_, err := h.ctrl.Start(context.Background(), Options{})
	var ce *audio.CaptureError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, audio.DeviceUnavailable, ce.Kind)

	o := h.sink.wait(t)
	assert.Equal(t, StageCapture, o.Stage)
	assert.Error(t, o.Err)
	assert.Equal(t, Idle, h.ctrl.State())
}

func TestInjectFailureKeepsText(t *testing.T) {
	h := newHarness(t, audio.Tone(440, time.Second, 0.5), "keep me")
	h.paster.Err = errors.New("uinput unavailable")

	_, err := h.ctrl.Start(context.Background(), Options{})
	require.NoError(t, err)
	o, err := h.ctrl.Stop(context.Background())
	require.NoError(t, err)

	var ie *clipboard.InjectionError
	require.ErrorAs(t, o.Err, &ie)
	assert.Equal(t, clipboard.InputSimulationFailed, ie.Kind)
	assert.Equal(t, "keep me", o.Text)
	assert.Equal(t, StageInject, o.Stage)
	assert.Contains(t, h.sink.States(), Failed)
	assert.Equal(t, Idle, h.ctrl.State())
}

func TestInvalidModelSize(t *testing.T) {
	h := newHarness(t, audio.Tone(440, time.Second, 0.5), "hello")
	_, err := h.ctrl.Start(context.Background(), Options{ModelSize: "gigantic"})
	assert.ErrorIs(t, err, ErrInvalidOptions)
	assert.Equal(t, Idle, h.ctrl.State())
}

func TestShutdownAbortsSession(t *testing.T) {
	c := New(Deps{
		Capture:     audio.NewCapture(audio.NewFakeContext(audio.Tone(440, time.Second, 0.5), false)),
		Transcriber: transcriber.NewService(transcriber.NewFakeLoader("x"), device.NewSelector(device.ProberFunc(func() device.Probe { return device.Probe{} }))),
		Devices:     device.NewSelector(device.ProberFunc(func() device.Probe { return device.Probe{} })),
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	_, err := c.Start(context.Background(), Options{})
	require.NoError(t, err)
	cancel()
	require.NoError(t, <-done)
	assert.False(t, c.Level().Recording)

	_, err = c.Start(context.Background(), Options{})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestSaveRecording(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "recordings")
	at := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	buf := audio.BufferFromPCM(audio.Tone(440, time.Second, 0.5))

	path, err := SaveRecording(dir, "0123456789abcdef", at, buf)
	require.NoError(t, err)
	assert.Equal(t, "20240309-140506-01234567.flac", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "fLaC", string(data[:4]))

	_, err = SaveRecording(dir, "x", at, audio.Buffer{})
	assert.Error(t, err)
}

type fakeVoice struct {
	mu     sync.Mutex
	speech bool
	resets int
}

func (v *fakeVoice) SpeechTick() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.speech
}

func (v *fakeVoice) Reset() {
	v.mu.Lock()
	v.resets++
	v.mu.Unlock()
}

func runWithVoice(t *testing.T, voice *fakeVoice, sink *recordingSink) *Controller {
	t.Helper()
	sel := device.NewSelector(device.ProberFunc(func() device.Probe {
		return device.Probe{GPUPresent: true, GPUUsable: true}
	}))
	ctrl := New(Deps{
		Capture:     audio.NewCapture(audio.NewFakeContext(audio.Silence(time.Second), false)),
		Transcriber: transcriber.NewService(transcriber.NewFakeLoader("never"), sel),
		Injector:    clipboard.NewInjector(clipboard.NewFakeClipboard(""), &clipboard.FakePaster{}, clipboard.LeaveText),
		Devices:     sel,
		Sink:        sink,
		Voice:       voice,
		Silence:     Silence{Tick: 5 * time.Millisecond, WarnAfter: 50 * time.Millisecond, CancelAfter: 150 * time.Millisecond},
	})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ctrl
}

func TestSilentRecordingIsCanceled(t *testing.T) {
	sink := newRecordingSink()
	voice := &fakeVoice{}
	ctrl := runWithVoice(t, voice, sink)

	_, err := ctrl.Start(context.Background(), Options{})
	require.NoError(t, err)
	o := sink.wait(t)

	assert.True(t, o.Canceled)
	assert.Equal(t, Idle, ctrl.State())
	assert.Contains(t, sink.Warnings(), "no voice detected")
	assert.Equal(t, 1, voice.resets)
}

func TestSpeakingKeepsRecording(t *testing.T) {
	sink := newRecordingSink()
	ctrl := runWithVoice(t, &fakeVoice{speech: true}, sink)

	_, err := ctrl.Start(context.Background(), Options{})
	require.NoError(t, err)
	time.Sleep(250 * time.Millisecond)

	assert.Equal(t, Recording, ctrl.State())
	assert.Empty(t, sink.Warnings())
	require.NoError(t, ctrl.Cancel())
	assert.True(t, sink.wait(t).Canceled)
}
