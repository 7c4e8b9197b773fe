package audio

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"whisperkey/log"
)

// Number of trailing chunks the level meter averages over.
const levelWindow = 5

var ErrAlreadyCapturing = errors.New("already capturing")

type CaptureErrorKind int

const (
	DeviceUnavailable CaptureErrorKind = iota + 1
	PermissionDenied
)

func (k CaptureErrorKind) String() string {
	switch k {
	case DeviceUnavailable:
		return "device unavailable"
	case PermissionDenied:
		return "permission denied"
	}
	return "capture error"
}

type CaptureError struct {
	Kind CaptureErrorKind
	Err  error
}

func (e *CaptureError) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// Capture owns the microphone between Start and Stop and accumulates the
// recording as fixed-size chunks.
type Capture struct {
	ctx Context

	mu        sync.Mutex
	dev       CaptureDevice
	name      string
	recording bool
	chunks    [][]float32
	partial   []float32

	level   atomic.Uint64 // float64 bits of the last computed level
	pending atomic.Int64
	active  atomic.Bool

	tap func(pcm []byte)
}

func NewCapture(ctx Context) *Capture {
	return &Capture{ctx: ctx}
}

// Tap registers fn to see the raw PCM of every callback while recording.
// It must be called before the first Start.
func (c *Capture) Tap(fn func(pcm []byte)) {
	c.tap = fn
}

// Start opens deviceIndex (an index into Context.Devices, or -1 for the
// system default) and begins buffering.
func (c *Capture) Start(deviceIndex int) error {
	c.mu.Lock()
	if c.recording {
		c.mu.Unlock()
		return ErrAlreadyCapturing
	}
	c.mu.Unlock()

	info, err := c.pick(deviceIndex)
	if err != nil {
		return err
	}

	dev, err := c.ctx.NewCapture(info, CaptureConfig{SampleRate: SampleRate, Channels: Channels})
	if err != nil {
		return classify(err)
	}

	c.mu.Lock()
	c.dev = dev
	c.chunks = nil
	c.partial = make([]float32, 0, ChunkFrames)
	c.recording = true
	c.name = "system default"
	if info != nil {
		c.name = info.Name
	}
	c.mu.Unlock()
	c.level.Store(0)
	c.pending.Store(0)
	c.active.Store(true)

	dev.SetCallback(c.onData)
	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		c.mu.Lock()
		c.dev = nil
		c.recording = false
		c.partial = nil
		c.mu.Unlock()
		c.active.Store(false)
		return classify(err)
	}

	if IsBluetooth(c.name) {
		log.Warnf("capturing from bluetooth device %q, quality may be reduced", c.name)
	}
	log.Infof("capture started on %q", c.name)
	return nil
}

func (c *Capture) pick(index int) (*DeviceInfo, error) {
	if index < 0 {
		return nil, nil
	}
	devices, err := c.ctx.Devices()
	if err != nil {
		return nil, classify(err)
	}
	if index >= len(devices) {
		return nil, &CaptureError{
			Kind: DeviceUnavailable,
			Err:  fmt.Errorf("input device %d not found (%d available)", index, len(devices)),
		}
	}
	return &devices[index], nil
}

func (c *Capture) onData(data []byte, _ uint32) {
	if c.tap != nil && c.active.Load() {
		c.tap(data)
	}
	samples := pcmToFloat(data)

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return
	}
	for len(samples) > 0 {
		n := min(ChunkFrames-len(c.partial), len(samples))
		c.partial = append(c.partial, samples[:n]...)
		samples = samples[n:]
		if len(c.partial) == ChunkFrames {
			c.chunks = append(c.chunks, c.partial)
			c.partial = make([]float32, 0, ChunkFrames)
			c.pending.Add(1)
		}
	}
	c.level.Store(math.Float64bits(c.peekLevelLocked()))
}

// Stop releases the microphone and hands over everything captured so far.
// Calling it again returns an empty Buffer.
func (c *Capture) Stop() Buffer {
	c.mu.Lock()
	dev := c.dev
	c.dev = nil
	c.mu.Unlock()

	if dev != nil {
		dev.ClearCallback()
		dev.Stop()
		dev.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.recording {
		return Buffer{}
	}
	c.recording = false
	c.active.Store(false)
	chunks := c.chunks
	if len(c.partial) > 0 {
		chunks = append(chunks, c.partial)
	}
	c.chunks = nil
	c.partial = nil
	c.level.Store(0)
	c.pending.Store(0)
	return NewBuffer(chunks)
}

// CurrentLevel is the RMS of the newest chunks. It never removes audio and
// never waits on the capture callback: under contention it returns the
// level the callback last published.
func (c *Capture) CurrentLevel() float64 {
	if !c.mu.TryLock() {
		return math.Float64frombits(c.level.Load())
	}
	defer c.mu.Unlock()
	if !c.recording {
		return 0
	}
	return c.peekLevelLocked()
}

func (c *Capture) peekLevelLocked() float64 {
	start := max(0, len(c.chunks)-levelWindow)
	window := c.chunks[start:]
	if len(window) == 0 && len(c.partial) > 0 {
		window = [][]float32{c.partial}
	}
	return rms(window)
}

// Pending is the number of complete chunks buffered so far.
func (c *Capture) Pending() int {
	return int(c.pending.Load())
}

func (c *Capture) Recording() bool {
	return c.active.Load()
}

func classify(err error) error {
	var ce *CaptureError
	if errors.As(err, &ce) {
		return err
	}
	kind := DeviceUnavailable
	msg := strings.ToLower(err.Error())
	if errors.Is(err, fs.ErrPermission) ||
		strings.Contains(msg, "permission") ||
		strings.Contains(msg, "access denied") ||
		strings.Contains(msg, "not authorized") {
		kind = PermissionDenied
	}
	return &CaptureError{Kind: kind, Err: err}
}
