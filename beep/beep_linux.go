//go:build linux

package beep

import (
	"github.com/jfreymuth/pulse"
	"github.com/jfreymuth/pulse/proto"

	"whisperkey/log"
)

// PulseAudio drops very short streams before the buffer fills.
const minPlaybackSeconds = 0.2

type pulsePlayer struct{}

// System returns the platform player.
func System() Player { return pulsePlayer{} }

func (pulsePlayer) Play(c Cue) {
	go play(Samples(c, 2, minPlaybackSeconds))
}

func play(samples []int16) {
	client, err := pulse.NewClient()
	if err != nil {
		log.Warnf("cue playback: %v", err)
		return
	}
	defer client.Close()

	pos := 0
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		if pos >= len(samples) {
			return 0, pulse.EndOfData
		}
		n := copy(buf, samples[pos:])
		pos += n
		return n, nil
	})
	stream, err := client.NewPlayback(reader,
		pulse.PlaybackStereo,
		pulse.PlaybackSampleRate(sampleRate),
		pulse.PlaybackLatency(0.1),
		pulse.PlaybackRawOption(func(p *proto.CreatePlaybackStream) {
			p.ChannelVolumes = proto.ChannelVolumes{uint32(proto.VolumeNorm), uint32(proto.VolumeNorm)}
		}),
	)
	if err != nil {
		log.Warnf("cue playback: %v", err)
		return
	}
	defer stream.Close()
	stream.Start()
	stream.Drain()
	stream.Stop()
}
