package audio

import (
	"sync"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

const (
	vadMode       = 3 // most aggressive about calling a frame non-speech
	vadFrameMs    = 20
	vadFrameBytes = SampleRate * vadFrameMs / 1000 * bytesPerFrame

	// Fraction of frames in a tick that must be speech for the tick to count.
	speechTickRatio = 0.10
)

// VoiceActivity runs WebRTC VAD over the capture stream. Feed it with
// Write from the capture callback and read it with SpeechTick.
type VoiceActivity struct {
	vad *webrtcvad.VAD

	mu         sync.Mutex
	buf        []byte
	total      int
	speech     int
	tickTotal  int
	tickSpeech int
}

func NewVoiceActivity() (*VoiceActivity, error) {
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if err := v.SetMode(vadMode); err != nil {
		return nil, err
	}
	return &VoiceActivity{vad: v}, nil
}

// Write accepts PCM16 in any chunk size; partial frames are held back.
func (v *VoiceActivity) Write(pcm []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.buf = append(v.buf, pcm...)
	for len(v.buf) >= vadFrameBytes {
		frame := v.buf[:vadFrameBytes]
		v.buf = v.buf[vadFrameBytes:]

		active, err := v.vad.Process(SampleRate, frame)
		if err != nil {
			continue
		}
		v.total++
		if active {
			v.speech++
		}
	}
}

// SpeechTick reports whether enough of the frames seen since the previous
// call were speech.
func (v *VoiceActivity) SpeechTick() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	t := v.total - v.tickTotal
	s := v.speech - v.tickSpeech
	v.tickTotal, v.tickSpeech = v.total, v.speech
	if t == 0 {
		return false
	}
	return float64(s)/float64(t) >= speechTickRatio
}

// Stats returns frame counts since the last Reset.
func (v *VoiceActivity) Stats() (total, speech int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.total, v.speech
}

func (v *VoiceActivity) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.buf = v.buf[:0]
	v.total, v.speech = 0, 0
	v.tickTotal, v.tickSpeech = 0, 0
}
