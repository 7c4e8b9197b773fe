package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Buffer is a recording: float32 chunks in capture order. Every chunk
// holds ChunkFrames samples except possibly the last one.
type Buffer struct {
	chunks [][]float32
	frames int
}

// NewBuffer wraps chunks without copying them. It is meant for tests and
// for Capture, which hands over its chunks on Stop.
func NewBuffer(chunks [][]float32) Buffer {
	n := 0
	for _, c := range chunks {
		n += len(c)
	}
	return Buffer{chunks: chunks, frames: n}
}

// BufferFromPCM converts S16LE PCM into a Buffer.
func BufferFromPCM(pcm []byte) Buffer {
	samples := pcmToFloat(pcm)
	var chunks [][]float32
	for len(samples) > 0 {
		n := min(ChunkFrames, len(samples))
		chunks = append(chunks, samples[:n:n])
		samples = samples[n:]
	}
	return NewBuffer(chunks)
}

func (b Buffer) Len() int    { return b.frames }
func (b Buffer) Chunks() int { return len(b.chunks) }
func (b Buffer) Empty() bool { return b.frames == 0 }

func (b Buffer) Duration() time.Duration {
	return FramesToDuration(b.frames)
}

// Samples returns a flattened copy; the buffer is left untouched.
func (b Buffer) Samples() []float32 {
	out := make([]float32, 0, b.frames)
	for _, c := range b.chunks {
		out = append(out, c...)
	}
	return out
}

// PCM16 returns the samples as clamped int16 values.
func (b Buffer) PCM16() []int16 {
	out := make([]int16, 0, b.frames)
	for _, c := range b.chunks {
		for _, s := range c {
			out = append(out, floatToInt16(s))
		}
	}
	return out
}

// Peak is the largest absolute sample value.
func (b Buffer) Peak() float64 {
	var peak float64
	for _, c := range b.chunks {
		for _, s := range c {
			peak = max(peak, math.Abs(float64(s)))
		}
	}
	return peak
}

// QuietThreshold is the peak below which a recording is almost certainly
// a muted or wrong microphone.
const QuietThreshold = 0.001

func (b Buffer) Quiet() bool {
	return !b.Empty() && b.Peak() < QuietThreshold
}

func pcmToFloat(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/bytesPerFrame)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*bytesPerFrame:]))
		out[i] = float32(s) / 32768
	}
	return out
}

func floatToInt16(s float32) int16 {
	v := s * 32768
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// rms is the root-mean-square of chunks, in [0,1] for normalised samples.
func rms(chunks [][]float32) float64 {
	var sum float64
	n := 0
	for _, c := range chunks {
		for _, s := range c {
			sum += float64(s) * float64(s)
		}
		n += len(c)
	}
	if n == 0 {
		return 0
	}
	return min(math.Sqrt(sum/float64(n)), 1)
}
