package transcriber

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"whisperkey/audio"
	"whisperkey/device"
	"whisperkey/log"
)

// MinDuration is the shortest recording worth sending to the model.
const MinDuration = 300 * time.Millisecond

// Fallbacker is the part of device.Selector that Service needs.
type Fallbacker interface {
	Fallback(res device.Resolution, cause error) (device.Resolution, error)
}

// Loaded describes the model currently held by a Service.
type Loaded struct {
	ModelSize   string      `json:"model_size"`
	Device      device.Kind `json:"device"`
	ComputeType string      `json:"compute_type"`
}

// Service owns the loaded model. Calls are serialised; a transcription
// and a reload never overlap.
type Service struct {
	loader   Loader
	fallback Fallbacker

	mu     sync.Mutex
	model  Model
	loaded Loaded

	status atomic.Pointer[Loaded]
}

func NewService(loader Loader, fb Fallbacker) *Service {
	return &Service{loader: loader, fallback: fb}
}

// Current returns the loaded model without waiting on a running
// transcription.
func (s *Service) Current() (Loaded, bool) {
	if l := s.status.Load(); l != nil {
		return *l, true
	}
	return Loaded{}, false
}

// EnsureLoaded makes size the loaded model on kind, releasing any other
// model first. On GPU each compute type is tried in turn.
func (s *Service) EnsureLoaded(ctx context.Context, size string, kind device.Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ensureLoadedLocked(ctx, size, kind)
}

func (s *Service) ensureLoadedLocked(ctx context.Context, size string, kind device.Kind) error {
	if err := ValidateModelSize(size); err != nil {
		return &LoadError{Kind: LoadUnknown, ModelSize: size, Device: kind, Err: err}
	}
	if s.model != nil && s.loaded.ModelSize == size && s.loaded.Device == kind {
		return nil
	}
	s.releaseLocked()

	var lastErr *LoadError
	for _, ct := range device.ComputeTypes(kind) {
		start := time.Now()
		m, err := s.loader.Load(ctx, LoadSpec{ModelSize: size, Device: kind, ComputeType: ct})
		log.ModelLoad(size, kind.String(), ct, time.Since(start), err)
		if err == nil {
			s.model = m
			s.loaded = Loaded{ModelSize: size, Device: kind, ComputeType: ct}
			l := s.loaded
			s.status.Store(&l)
			return nil
		}
		lastErr = asLoadError(err, size, kind)
		if ctx.Err() != nil || lastErr.Kind == LibraryMissing {
			break
		}
	}
	return lastErr
}

func (s *Service) releaseLocked() {
	if s.model == nil {
		return
	}
	if err := s.model.Close(); err != nil {
		log.Warnf("release model %s: %v", s.loaded.ModelSize, err)
	}
	s.model = nil
	s.loaded = Loaded{}
	s.status.Store(nil)
}

// Close releases the loaded model.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked()
}

// Transcribe runs buf through the model for req. Recordings shorter than
// MinDuration are skipped without touching the model. A GPU failure on an
// Auto session is retried once on CPU; on an explicit GPU session it is
// returned as is.
func (s *Service) Transcribe(ctx context.Context, buf audio.Buffer, req Request) (Transcript, error) {
	out := Transcript{
		Language:      req.Language,
		Device:        req.Resolution.Device,
		AudioDuration: buf.Duration(),
	}
	if buf.Duration() < MinDuration {
		out.Skipped = true
		return out, nil
	}
	if buf.Quiet() {
		out.Quiet = true
		log.Warnf("recording peak %.5f below %.3f, microphone may be muted", buf.Peak(), audio.QuietThreshold)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res := req.Resolution
	r, err := s.attempt(ctx, buf, req, res.Device)
	if err != nil && res.Device == device.KindGPU && gpuFailure(err) && ctx.Err() == nil {
		next, ferr := s.fallback.Fallback(res, err)
		if ferr != nil {
			return out, err
		}
		out.RetriedOnCPU = true
		out.Device = next.Device
		r, err = s.attempt(ctx, buf, req, next.Device)
		if err != nil && ctx.Err() == nil {
			return out, &TranscribeError{Kind: Fatal, Err: err}
		}
	}
	if err != nil {
		return out, err
	}

	text, dropped := r.SpeechText()
	if dropped > 0 {
		log.Infof("dropped %d of %d segments scored as no speech", dropped, len(r.Segments))
	}
	out.Text = text
	if r.Language != "" {
		out.Language = r.Language
	}
	out.ComputeType = s.loaded.ComputeType
	out.Elapsed = time.Since(start)

	s.logMetrics(req, out, r, dropped)
	if out.Text != "" {
		log.TranscriptionText(out.Text)
	}
	return out, nil
}

func (s *Service) attempt(ctx context.Context, buf audio.Buffer, req Request, kind device.Kind) (Result, error) {
	if err := s.ensureLoadedLocked(ctx, req.ModelSize, kind); err != nil {
		return Result{}, err
	}
	r, err := s.model.Transcribe(ctx, buf, req.Language)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		te := asTranscribeError(err, kind)
		if te.Kind == DeviceFault {
			// The model may be left in a bad state on the device.
			s.releaseLocked()
		}
		return Result{}, te
	}
	return r, nil
}

// gpuFailure reports whether err is worth a CPU retry. A server or model
// that is simply unavailable would fail the same way on CPU.
func gpuFailure(err error) bool {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Kind == OutOfMemory || (le.Err != nil && mentionsCUDALibrary(le.Err.Error()))
	}
	var te *TranscribeError
	return errors.As(err, &te) && te.Kind == DeviceFault
}

func (s *Service) logMetrics(req Request, t Transcript, r Result, dropped int) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	lm := log.Metrics{
		SessionID:     req.SessionID,
		Model:         s.loaded.ModelSize,
		Device:        t.Device.String(),
		ComputeType:   t.ComputeType,
		AudioLengthS:  t.AudioDuration.Seconds(),
		UploadKB:      float64(r.UploadSize) / 1024,
		EncodeTimeMs:  ms(r.EncodeTime),
		TotalTimeMs:   ms(t.Elapsed),
		RetriedOnCPU:  t.RetriedOnCPU,
		MemoryAllocMB: float64(m.Alloc) / 1024 / 1024,
		Dropped:       dropped,
	}
	if nm := r.Metrics; nm != nil {
		lm.DNSTimeMs = ms(nm.DNS)
		lm.TLSTimeMs = ms(nm.TLS)
		lm.TTFBMs = ms(nm.TTFB)
		lm.NetworkTimeMs = ms(nm.Sum())
		lm.ConnReused = nm.ConnReused
	}
	log.TranscriptionMetrics(lm)
}

func ms(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
