// Package controller runs the dictation state machine: record, transcribe,
// inject. A single goroutine (Run) owns the session; every other caller
// talks to it through messages.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"whisperkey/audio"
	"whisperkey/device"
	"whisperkey/log"
	"whisperkey/transcriber"
)

type Capture interface {
	Start(deviceIndex int) error
	Stop() audio.Buffer
	CurrentLevel() float64
	Pending() int
	Recording() bool
}

type Transcriber interface {
	Transcribe(ctx context.Context, buf audio.Buffer, req transcriber.Request) (transcriber.Transcript, error)
	Current() (transcriber.Loaded, bool)
}

type Injector interface {
	Inject(ctx context.Context, text string) error
}

type DeviceResolver interface {
	Resolve(intent device.Intent) (device.Resolution, error)
	Probe() device.Probe
}

// Deps are the collaborators of a Controller. Sink, Defaults, ArchiveDir
// and Voice are optional; without Voice there is no silence watchdog.
type Deps struct {
	Capture     Capture
	Transcriber Transcriber
	Injector    Injector
	Devices     DeviceResolver
	Sink        Sink
	Defaults    func() Options
	ArchiveDir  func() string
	Voice       VoiceMeter
	Silence     Silence
}

type session struct {
	Started
	micIndex  int
	startedAt time.Time
	duration  time.Duration
	tr        transcriber.Transcript
	waiters   []chan Outcome
	silence   *silenceMonitor

	ctx    context.Context
	cancel context.CancelFunc
}

type resultKind int

const (
	transcribed resultKind = iota
	injected
)

type result struct {
	id   string
	kind resultKind
	tr   transcriber.Transcript
	err  error
}

type toggleMsg struct{}

type startMsg struct {
	opts  Options
	reply chan startReply
}

type startReply struct {
	started Started
	err     error
}

type stopMsg struct {
	reply chan stopReply
}

type stopReply struct {
	wait <-chan Outcome
	err  error
}

type cancelMsg struct {
	reply chan error
}

type Controller struct {
	deps Deps
	sink Sink

	msgs    chan any
	results chan result
	done    chan struct{}
	once    sync.Once
	workers sync.WaitGroup

	state atomic.Int32
	live  atomic.Pointer[Started]

	// owned by Run
	sess *session
}

func New(deps Deps) *Controller {
	c := &Controller{
		deps:    deps,
		sink:    deps.Sink,
		msgs:    make(chan any),
		results: make(chan result, 4),
		done:    make(chan struct{}),
	}
	if c.sink == nil {
		c.sink = nopSink{}
	}
	return c
}

// State is safe to call from any goroutine.
func (c *Controller) State() State { return State(c.state.Load()) }

// Level reads the capture meter directly, never waiting on the control loop.
func (c *Controller) Level() Level {
	return Level{
		Level:     c.deps.Capture.CurrentLevel(),
		Recording: c.deps.Capture.Recording(),
		Pending:   c.deps.Capture.Pending(),
	}
}

type Health struct {
	State     State               `json:"state"`
	SessionID string              `json:"session_id,omitempty"`
	Model     *transcriber.Loaded `json:"model,omitempty"`
	Probe     device.Probe        `json:"probe"`
}

func (c *Controller) Health() Health {
	h := Health{State: c.State(), Probe: c.deps.Devices.Probe()}
	if s := c.live.Load(); s != nil {
		h.SessionID = s.SessionID
	}
	if l, ok := c.deps.Transcriber.Current(); ok {
		h.Model = &l
	}
	return h
}

// Run is the control loop. It returns when ctx is done, after aborting any
// live session and waiting for workers.
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown()

	var tick <-chan time.Time
	if c.deps.Voice != nil {
		t := time.NewTicker(c.deps.Silence.withDefaults().Tick)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case m := <-c.msgs:
			c.handle(m)
		case r := <-c.results:
			c.handleResult(r)
		case <-tick:
			c.watchSilence()
		}
	}
}

func (c *Controller) watchSilence() {
	s := c.sess
	if s == nil || s.silence == nil || c.State() != Recording {
		return
	}
	switch s.silence.Tick(c.deps.Voice.SpeechTick()) {
	case silenceWarn, silenceRepeat:
		log.Infof("no voice detected in session %s", s.SessionID)
		c.sink.Warning("no voice detected")
	case silenceWarnClear:
		log.Infof("voice resumed in session %s", s.SessionID)
	case silenceCancel:
		log.Infof("canceling silent session %s", s.SessionID)
		c.sink.Warning("no voice for too long, recording canceled")
		c.cancelRecording()
	}
}

func (c *Controller) shutdown() {
	c.once.Do(func() { close(c.done) })
	if s := c.sess; s != nil {
		if c.State() == Recording {
			c.deps.Capture.Stop()
		}
		s.cancel()
		c.finish(s, Outcome{SessionID: s.SessionID, Stage: c.stageFor(c.State()), Err: ErrStopped})
	}
	c.workers.Wait()
}

func (c *Controller) stageFor(st State) Stage {
	switch st {
	case Transcribing:
		return StageTranscribe
	case Injecting:
		return StageInject
	}
	return StageCapture
}

func (c *Controller) send(ctx context.Context, m any) error {
	select {
	case c.msgs <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// Toggle starts a session with the defaults when idle and stops it when
// recording. It does nothing while transcribing or injecting.
func (c *Controller) Toggle() {
	c.send(context.Background(), toggleMsg{})
}

// Start begins a session with explicit options.
func (c *Controller) Start(ctx context.Context, opts Options) (Started, error) {
	reply := make(chan startReply, 1)
	if err := c.send(ctx, startMsg{opts: opts, reply: reply}); err != nil {
		return Started{}, err
	}
	r := <-reply
	return r.started, r.err
}

// Stop ends recording and waits for the session's outcome. The returned
// error is only about the call itself; session failures are in Outcome.Err.
func (c *Controller) Stop(ctx context.Context) (Outcome, error) {
	reply := make(chan stopReply, 1)
	if err := c.send(ctx, stopMsg{reply: reply}); err != nil {
		return Outcome{}, err
	}
	r := <-reply
	if r.err != nil {
		return Outcome{}, r.err
	}
	select {
	case o := <-r.wait:
		return o, nil
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
}

// Cancel discards the recording without transcribing it.
func (c *Controller) Cancel() error {
	reply := make(chan error, 1)
	if err := c.send(context.Background(), cancelMsg{reply: reply}); err != nil {
		return err
	}
	return <-reply
}

func (c *Controller) handle(m any) {
	switch m := m.(type) {
	case toggleMsg:
		switch st := c.State(); st {
		case Idle:
			c.begin(Options{})
		case Recording:
			c.stopRecording()
		default:
			log.Infof("toggle ignored while %s", st)
		}
	case startMsg:
		s, err := c.begin(m.opts)
		m.reply <- startReply{started: s, err: err}
	case stopMsg:
		if c.State() != Recording {
			m.reply <- stopReply{err: ErrNotRecording}
			return
		}
		w := make(chan Outcome, 1)
		c.sess.waiters = append(c.sess.waiters, w)
		m.reply <- stopReply{wait: w}
		c.stopRecording()
	case cancelMsg:
		m.reply <- c.cancelRecording()
	}
}

func (c *Controller) defaults() Options {
	if c.deps.Defaults != nil {
		return c.deps.Defaults()
	}
	return Options{ModelSize: transcriber.DefaultModelSize, Language: "en", MicIndex: -1}
}

func (c *Controller) begin(opts Options) (Started, error) {
	if c.sess != nil || c.State() != Idle {
		return Started{}, ErrAlreadyRecording
	}
	def := c.defaults()
	if opts == (Options{}) {
		opts = def
	}
	if opts.ModelSize == "" {
		opts.ModelSize = def.ModelSize
	}
	if opts.Language == "" {
		opts.Language = def.Language
	}
	if err := transcriber.ValidateModelSize(opts.ModelSize); err != nil {
		return Started{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	id := uuid.NewString()
	res, err := c.deps.Devices.Resolve(opts.Device)
	if err != nil {
		c.report(Outcome{SessionID: id, Model: opts.ModelSize, Stage: StageCapture, Err: err})
		return Started{}, err
	}
	if res.Downgraded() {
		c.sink.Warning("GPU unavailable, using CPU: " + res.FallbackReason)
	}

	if c.deps.Voice != nil {
		c.deps.Voice.Reset()
	}
	if err := c.deps.Capture.Start(opts.MicIndex); err != nil {
		c.report(Outcome{SessionID: id, Model: opts.ModelSize, Device: res.Device, Stage: StageCapture, Err: err})
		return Started{}, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	var mon *silenceMonitor
	if c.deps.Voice != nil {
		mon = newSilenceMonitor(c.deps.Silence)
	}
	c.sess = &session{
		Started: Started{
			SessionID:  id,
			ModelSize:  opts.ModelSize,
			Language:   opts.Language,
			Resolution: res,
		},
		micIndex:  opts.MicIndex,
		startedAt: time.Now(),
		silence:   mon,
		ctx:       ctx,
		cancel:    cancel,
	}
	started := c.sess.Started
	c.live.Store(&started)
	log.SessionStart(id, opts.ModelSize, opts.Device.String(), res.Device.String())
	c.setState(Recording)
	return started, nil
}

// report finishes a session that never started recording.
func (c *Controller) report(o Outcome) {
	c.setState(Failed)
	c.sink.SessionFinished(o)
	log.SessionEnd(o.SessionID, Failed.String(), o.Err)
	c.setState(Idle)
}

func (c *Controller) stopRecording() {
	s := c.sess
	buf := c.deps.Capture.Stop()
	s.duration = buf.Duration()
	c.setState(Transcribing)

	if dir := c.archiveDir(); dir != "" && !buf.Empty() {
		c.workers.Add(1)
		go func() {
			defer c.workers.Done()
			if _, err := SaveRecording(dir, s.SessionID, s.startedAt, buf); err != nil {
				log.Warnf("archive recording %s: %v", s.SessionID, err)
			}
		}()
	}

	req := transcriber.Request{
		SessionID:  s.SessionID,
		ModelSize:  s.ModelSize,
		Language:   s.Language,
		Resolution: s.Resolution,
	}
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		tr, err := c.deps.Transcriber.Transcribe(s.ctx, buf, req)
		c.post(result{id: s.SessionID, kind: transcribed, tr: tr, err: err})
	}()
}

func (c *Controller) archiveDir() string {
	if c.deps.ArchiveDir == nil {
		return ""
	}
	return c.deps.ArchiveDir()
}

func (c *Controller) post(r result) {
	select {
	case c.results <- r:
	case <-c.done:
	}
}

func (c *Controller) cancelRecording() error {
	if c.State() != Recording {
		return ErrNotRecording
	}
	s := c.sess
	// The buffer is dropped on the floor; nothing is transcribed.
	c.deps.Capture.Stop()
	s.cancel()
	c.setState(Canceled)
	c.finish(s, Outcome{SessionID: s.SessionID, Model: s.ModelSize, Device: s.Resolution.Device, Stage: StageCapture, Canceled: true})
	return nil
}

func (c *Controller) handleResult(r result) {
	s := c.sess
	if s == nil || r.id != s.SessionID {
		log.Infof("dropping stale result for session %s", r.id)
		return
	}

	switch r.kind {
	case transcribed:
		s.tr = r.tr
		o := c.outcome(s, StageTranscribe)
		if r.err != nil {
			o.Err = r.err
			c.finish(s, o)
			return
		}
		if r.tr.Quiet {
			c.sink.Warning("no audio detected, check that the microphone is not muted")
		}
		if r.tr.Text == "" {
			c.finish(s, o)
			return
		}
		c.setState(Injecting)
		c.workers.Add(1)
		go func(text string) {
			defer c.workers.Done()
			err := c.deps.Injector.Inject(s.ctx, text)
			c.post(result{id: s.SessionID, kind: injected, err: err})
		}(r.tr.Text)

	case injected:
		o := c.outcome(s, StageInject)
		o.Err = r.err
		c.finish(s, o)
	}
}

func (c *Controller) outcome(s *session, stage Stage) Outcome {
	o := Outcome{
		SessionID:         s.SessionID,
		Text:              s.tr.Text,
		Language:          s.tr.Language,
		Duration:          s.duration,
		TranscriptionTime: s.tr.Elapsed,
		Device:            s.tr.Device,
		Model:             s.ModelSize,
		Stage:             stage,
		Skipped:           s.tr.Skipped,
		Quiet:             s.tr.Quiet,
		RetriedOnCPU:      s.tr.RetriedOnCPU,
	}
	if o.Language == "" {
		o.Language = s.Language
	}
	return o
}

// finish delivers o and returns the controller to Idle.
func (c *Controller) finish(s *session, o Outcome) {
	final := Idle
	switch {
	case o.Canceled || errors.Is(o.Err, ErrStopped):
		final = Canceled
	case o.Err != nil:
		final = Failed
	}
	c.setState(final)
	for _, w := range s.waiters {
		w <- o
	}
	c.sink.SessionFinished(o)
	log.SessionEnd(s.SessionID, final.String(), o.Err)

	s.cancel()
	c.sess = nil
	c.live.Store(nil)
	c.setState(Idle)
}

func (c *Controller) setState(st State) {
	if State(c.state.Swap(int32(st))) == st {
		return
	}
	c.sink.StateChanged(st)
}
