// Package beep plays short audible cues when recording starts, stops or
// fails.
package beep

import (
	"math"
	"sync/atomic"

	"whisperkey/controller"
)

const sampleRate = 44100

type Cue int

const (
	CueStart Cue = iota
	CueEnd
	CueError
)

func (c Cue) String() string {
	switch c {
	case CueStart:
		return "start"
	case CueEnd:
		return "end"
	}
	return "error"
}

type tone struct {
	freq, seconds, volume, decay float64
	// double repeats the tone after a short gap
	double bool
}

var tones = [...]tone{
	CueStart: {freq: 1200, seconds: 0.03, volume: 0.5, decay: 60},
	CueEnd:   {freq: 900, seconds: 0.05, volume: 0.5, decay: 40},
	CueError: {freq: 350, seconds: 0.08, volume: 0.6, decay: 30, double: true},
}

const doubleGap = 0.05

// Samples renders c as interleaved 16-bit PCM. The result is padded with
// silence to at least minSeconds.
func Samples(c Cue, channels int, minSeconds float64) []int16 {
	t := tones[c]
	out := decayingSine(t, channels)
	if t.double {
		gap := make([]int16, int(sampleRate*doubleGap)*channels)
		out = append(append(out, gap...), decayingSine(t, channels)...)
	}
	if floor := int(sampleRate*minSeconds) * channels; len(out) < floor {
		out = append(out, make([]int16, floor-len(out))...)
	}
	return out
}

func decayingSine(t tone, channels int) []int16 {
	n := int(sampleRate * t.seconds)
	out := make([]int16, n*channels)
	for i := range n {
		at := float64(i) / sampleRate
		s := int16(math.Sin(2*math.Pi*t.freq*at) * 32767 * t.volume * math.Exp(-at*t.decay))
		for ch := range channels {
			out[i*channels+ch] = s
		}
	}
	return out
}

// Player plays a cue without blocking the caller.
type Player interface {
	Play(c Cue)
}

// Sink plays cues for controller state changes.
type Sink struct {
	player  Player
	enabled atomic.Bool
}

func NewSink(p Player, enabled bool) *Sink {
	s := &Sink{player: p}
	s.enabled.Store(enabled)
	return s
}

func (s *Sink) SetEnabled(on bool) { s.enabled.Store(on) }

func (s *Sink) StateChanged(st controller.State) {
	if !s.enabled.Load() {
		return
	}
	switch st {
	case controller.Recording:
		s.player.Play(CueStart)
	case controller.Transcribing:
		s.player.Play(CueEnd)
	case controller.Failed:
		s.player.Play(CueError)
	}
}

func (s *Sink) SessionFinished(controller.Outcome) {}
func (s *Sink) Warning(string)                     {}
