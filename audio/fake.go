package audio

import (
	"encoding/binary"
	"math"
	"os"
	"sync"
	"time"
)

const WAVHeaderSize = 44

// FakeContext replays fixed PCM instead of opening a microphone.
type FakeContext struct {
	pcm      []byte
	realtime bool

	DeviceList []DeviceInfo
	OpenErr    error // returned by NewCapture
	StartErr   error // returned by CaptureDevice.Start

	mu       sync.Mutex
	captures []*FakeCapture
}

func NewFakeContext(pcm []byte, realtime bool) *FakeContext {
	return &FakeContext{
		pcm:        pcm,
		realtime:   realtime,
		DeviceList: []DeviceInfo{{ID: "fake-0", Name: "fake microphone"}},
	}
}

func NewFakeContextFromWAV(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	if len(data) > WAVHeaderSize {
		data = data[WAVHeaderSize:]
	}
	return NewFakeContext(data, realtime), nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) { return f.DeviceList, nil }
func (f *FakeContext) Close()                         {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ CaptureConfig) (CaptureDevice, error) {
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	c := &FakeCapture{pcm: f.pcm, realtime: f.realtime, startErr: f.StartErr, audioDone: make(chan struct{})}
	f.mu.Lock()
	f.captures = append(f.captures, c)
	f.mu.Unlock()
	return c, nil
}

// Last returns the most recently opened capture, or nil.
func (f *FakeContext) Last() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.captures) == 0 {
		return nil
	}
	return f.captures[len(f.captures)-1]
}

type FakeCapture struct {
	pcm       []byte
	realtime  bool
	startErr  error
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	stopCh   chan struct{}
	feedDone chan struct{}
	closed   bool
}

// AudioDone is closed once the whole PCM has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Feed delivers pcm to the callback immediately, if one is set.
func (f *FakeCapture) Feed(pcm []byte) {
	f.mu.Lock()
	cb := f.cb
	f.mu.Unlock()
	if cb != nil && len(pcm) > 0 {
		chunk := make([]byte, len(pcm))
		copy(chunk, pcm)
		cb(chunk, uint32(len(chunk)/bytesPerFrame))
	}
}

func (f *FakeCapture) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})

	chunkBytes := ChunkFrames * bytesPerFrame

	if !f.realtime {
		for pos := 0; pos < len(f.pcm); pos += chunkBytes {
			f.Feed(f.pcm[pos:min(pos+chunkBytes, len(f.pcm))])
		}
		close(f.audioDone)
		close(f.feedDone)
		return nil
	}

	interval := FramesToDuration(ChunkFrames)
	go func() {
		defer close(f.feedDone)
		for pos := 0; pos < len(f.pcm); pos += chunkBytes {
			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
			f.Feed(f.pcm[pos:min(pos+chunkBytes, len(f.pcm))])
		}
		close(f.audioDone)
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	if f.stopCh == nil {
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	<-f.feedDone
}

func (f *FakeCapture) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Silence returns d of zero-valued PCM.
func Silence(d time.Duration) []byte {
	return make([]byte, frames(d)*bytesPerFrame)
}

// Tone returns d of a sine wave at freq Hz with peak amplitude amp in [0,1].
func Tone(freq float64, d time.Duration, amp float64) []byte {
	n := frames(d)
	out := make([]byte, n*bytesPerFrame)
	for i := 0; i < n; i++ {
		v := amp * math.Sin(2*math.Pi*freq*float64(i)/SampleRate)
		binary.LittleEndian.PutUint16(out[i*bytesPerFrame:], uint16(floatToInt16(float32(v))))
	}
	return out
}

func frames(d time.Duration) int {
	return int(d * SampleRate / time.Second)
}
