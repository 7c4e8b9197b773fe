package device

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"whisperkey/log"
)

// Probe is the cached view of GPU health.
type Probe struct {
	GPUPresent bool      `json:"gpu_present"`
	GPUUsable  bool      `json:"gpu_usable"`
	LastError  string    `json:"last_error,omitempty"`
	ProbedAt   time.Time `json:"probed_at"`
}

type Prober interface {
	Probe() Probe
}

// ProberFunc adapts a function to Prober.
type ProberFunc func() Probe

func (f ProberFunc) Probe() Probe { return f() }

// Selector owns the DeviceProbe. It is safe for concurrent use.
type Selector struct {
	prober Prober

	mu    sync.Mutex
	probe Probe
	valid bool
	// faulted is set by a runtime GPU failure and cleared only by Reprobe.
	faulted bool
}

func NewSelector(p Prober) *Selector {
	return &Selector{prober: p}
}

// Probe returns the cached probe, probing first if the cache is invalid.
func (s *Selector) Probe() Probe {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.probeLocked()
}

// Reprobe discards the cache and probes again. It is the only way back to
// the GPU after Fallback.
func (s *Selector) Reprobe() Probe {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.valid = false
	s.faulted = false
	return s.probeLocked()
}

func (s *Selector) probeLocked() Probe {
	if !s.valid {
		p := s.prober.Probe()
		if p.ProbedAt.IsZero() {
			p.ProbedAt = time.Now()
		}
		// A failure recorded by Fallback survives the re-probe so it stays visible.
		if p.LastError == "" {
			p.LastError = s.probe.LastError
		}
		// Hardware and library checks still pass after a runtime fault.
		if s.faulted {
			p.GPUUsable = false
		}
		s.probe = p
		s.valid = true
	}
	return s.probe
}

// Resolve is the first step: map intent to a device.
func (s *Selector) Resolve(intent Intent) (Resolution, error) {
	res := Resolution{Intent: intent, Device: KindCPU}
	if intent == CPU {
		return res, nil
	}

	p := s.Probe()
	if p.GPUUsable {
		res.Device = KindGPU
		return res, nil
	}

	reason := unusableReason(p)
	if intent == GPU {
		return res, fmt.Errorf("%w: %s", ErrGPUUnavailable, reason)
	}

	res.FallbackReason = reason
	s.note(reason)
	log.DeviceFallback("resolve", reason)
	return res, nil
}

// Fallback is the second step, taken after cause made the GPU fail. The
// probe is re-read and reports the GPU unusable until Reprobe.
func (s *Selector) Fallback(res Resolution, cause error) (Resolution, error) {
	reason := "unknown gpu failure"
	if cause != nil {
		reason = cause.Error()
	}

	s.mu.Lock()
	s.valid = false
	s.faulted = true
	s.probe.LastError = reason
	s.mu.Unlock()

	if res.Intent != Auto {
		return res, errors.Join(ErrGPUUnavailable, cause)
	}
	log.DeviceFallback("runtime", reason)
	return Resolution{Intent: Auto, Device: KindCPU, FallbackReason: reason}, nil
}

func (s *Selector) note(reason string) {
	s.mu.Lock()
	s.probe.LastError = reason
	s.mu.Unlock()
}

func unusableReason(p Probe) string {
	switch {
	case !p.GPUPresent:
		return "no cuda-capable gpu detected"
	case p.LastError != "":
		return p.LastError
	default:
		return "gpu present but not usable"
	}
}
