//go:build darwin

package beep

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"whisperkey/log"
)

// malgoPlayer keeps one playback device open and swaps the buffer it
// reads from. Playing a new cue cuts the previous one off.
type malgoPlayer struct {
	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	buf atomic.Pointer[[]byte]
	pos atomic.Uint32
}

var (
	player     *malgoPlayer
	playerOnce sync.Once
)

// System returns the platform player. It is silent if no output device
// can be opened.
func System() Player {
	playerOnce.Do(func() {
		player = &malgoPlayer{}
		if err := player.open(); err != nil {
			log.Warnf("cue playback disabled: %v", err)
		}
	})
	return player
}

func (p *malgoPlayer) open() error {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return err
	}
	p.ctx = ctx
	if err := p.initDevice(); err != nil {
		ctx.Uninit()
		p.ctx = nil
		return err
	}
	return nil
}

func (p *malgoPlayer) initDevice() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = sampleRate

	dev, err := malgo.InitDevice(p.ctx.Context, cfg, malgo.DeviceCallbacks{Data: p.fill})
	if err != nil {
		return err
	}
	p.device = dev
	return nil
}

func (p *malgoPlayer) fill(out, _ []byte, frames uint32) {
	clear(out)
	b := p.buf.Load()
	if b == nil {
		return
	}
	pos := p.pos.Load()
	n := min(frames*2, uint32(len(*b))-pos)
	copy(out[:n], (*b)[pos:pos+n])
	p.pos.Store(pos + n)
	if pos+n >= uint32(len(*b)) {
		p.buf.Store(nil)
	}
}

func (p *malgoPlayer) Play(c Cue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.device == nil {
		return
	}

	pcm := Samples(c, 1, 0)
	data := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}

	p.device.Stop()
	p.pos.Store(0)
	p.buf.Store(&data)
	if err := p.device.Start(); err != nil {
		// the device goes stale across sleep and wake
		p.device.Uninit()
		p.device = nil
		if err := p.initDevice(); err != nil {
			log.Warnf("cue playback: %v", err)
			p.buf.Store(nil)
			return
		}
		if err := p.device.Start(); err != nil {
			p.buf.Store(nil)
		}
	}
}
