package controller

import "time"

// Silence tunes the no-voice watchdog that runs while recording. Zero
// fields take the defaults; a negative CancelAfter never cancels.
type Silence struct {
	Tick        time.Duration
	WarnAfter   time.Duration
	CancelAfter time.Duration
}

func (s Silence) withDefaults() Silence {
	if s.Tick <= 0 {
		s.Tick = 100 * time.Millisecond
	}
	if s.WarnAfter <= 0 {
		s.WarnAfter = 8 * time.Second
	}
	if s.CancelAfter == 0 {
		s.CancelAfter = 30 * time.Second
	}
	return s
}

// VoiceMeter reports whether speech arrived since the previous SpeechTick.
type VoiceMeter interface {
	SpeechTick() bool
	Reset()
}

const (
	speechMinRatio   = 0.10
	speechClearRatio = 0.25 // hysteresis over speechMinRatio
)

type silenceEvent int

const (
	silenceNone silenceEvent = iota
	silenceWarn
	silenceWarnClear
	silenceRepeat
	silenceCancel
)

// silenceMonitor keeps a ring of per-tick speech flags. It warns when the
// last WarnAfter is mostly silent and asks for cancellation when the whole
// CancelAfter window is.
type silenceMonitor struct {
	warnAt   int
	windowSz int
	cancel   bool

	ticks       int
	window      []bool
	speechCount int
	warned      bool
	lastWarn    int
}

func newSilenceMonitor(cfg Silence) *silenceMonitor {
	cfg = cfg.withDefaults()
	warnAt := max(int(cfg.WarnAfter/cfg.Tick), 1)
	windowSz := warnAt
	if cfg.CancelAfter > 0 {
		windowSz = max(int(cfg.CancelAfter/cfg.Tick), warnAt)
	}
	return &silenceMonitor{
		warnAt:   warnAt,
		windowSz: windowSz,
		cancel:   cfg.CancelAfter > 0,
		window:   make([]bool, windowSz),
	}
}

func (m *silenceMonitor) ratio(n int) float64 {
	n = min(n, m.ticks)
	if n == 0 {
		return 1
	}
	count := 0
	for i := range n {
		if m.window[(m.ticks-1-i+m.windowSz)%m.windowSz] {
			count++
		}
	}
	return float64(count) / float64(n)
}

func (m *silenceMonitor) Tick(speech bool) silenceEvent {
	idx := m.ticks % m.windowSz
	if m.ticks >= m.windowSz && m.window[idx] {
		m.speechCount--
	}
	m.window[idx] = speech
	if speech {
		m.speechCount++
	}
	m.ticks++

	r := m.ratio(m.warnAt)
	if m.ticks >= m.warnAt && r < speechMinRatio && !m.warned {
		m.warned = true
		m.lastWarn = m.ticks
		return silenceWarn
	}
	if m.warned && r >= speechClearRatio {
		m.warned = false
		return silenceWarnClear
	}

	if m.cancel && m.ticks >= m.windowSz && float64(m.speechCount)/float64(m.windowSz) < speechMinRatio {
		return silenceCancel
	}
	if m.warned && m.ticks-m.lastWarn >= m.warnAt {
		m.lastWarn = m.ticks
		return silenceRepeat
	}
	return silenceNone
}
