package audio

import (
	"testing"
	"time"
)

func newVAD(t *testing.T) *VoiceActivity {
	t.Helper()
	v, err := NewVoiceActivity()
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestVADSilence(t *testing.T) {
	v := newVAD(t)
	v.Write(Silence(200 * time.Millisecond))
	total, speech := v.Stats()
	if total != 10 {
		t.Errorf("total frames = %d, want 10", total)
	}
	if speech != 0 {
		t.Errorf("speech frames = %d on silence", speech)
	}
	if v.SpeechTick() {
		t.Error("silence tick counted as speech")
	}
}

func TestVADOddChunkSizes(t *testing.T) {
	v := newVAD(t)
	// 100-byte writes never line up with 640-byte frames.
	silence := Silence(200 * time.Millisecond)
	for i := 0; i < len(silence); i += 100 {
		v.Write(silence[i:min(i+100, len(silence))])
	}
	if total, _ := v.Stats(); total != 10 {
		t.Errorf("total frames = %d, want 10", total)
	}
}

func TestVADTickIsIncremental(t *testing.T) {
	v := newVAD(t)
	if v.SpeechTick() {
		t.Error("empty tick counted as speech")
	}
	v.Write(Tone(440, 200*time.Millisecond, 0.5))
	first := v.SpeechTick()
	// Nothing new arrived, so the next tick has no frames.
	if v.SpeechTick() {
		t.Errorf("second tick repeated the first (%v)", first)
	}
}

func TestVADReset(t *testing.T) {
	v := newVAD(t)
	v.Write(Tone(440, 210*time.Millisecond, 0.5))
	v.Reset()
	if total, speech := v.Stats(); total != 0 || speech != 0 {
		t.Errorf("after reset: total=%d speech=%d", total, speech)
	}
	if len(v.buf) != 0 {
		t.Errorf("partial frame kept after reset: %d bytes", len(v.buf))
	}
}
