package device

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestParseIntent(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Intent
	}{
		{"", Auto},
		{"auto", Auto},
		{"CPU", CPU},
		{"gpu", GPU},
		{" cuda ", GPU},
	} {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIntent(tt.in)
			if err != nil {
				t.Fatalf("ParseIntent(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if _, err := ParseIntent("tpu"); err == nil {
		t.Error("expected error for unknown device")
	}
}

func fixedProber(p Probe) (Prober, *int) {
	calls := 0
	return ProberFunc(func() Probe {
		calls++
		return p
	}), &calls
}

func TestResolveCPUNeverProbes(t *testing.T) {
	pr, calls := fixedProber(Probe{GPUPresent: true, GPUUsable: true})
	s := NewSelector(pr)

	res, err := s.Resolve(CPU)
	if err != nil {
		t.Fatal(err)
	}
	if res.Device != KindCPU || res.Intent != CPU {
		t.Errorf("got %+v", res)
	}
	if *calls != 0 {
		t.Errorf("probed %d times for cpu intent", *calls)
	}
}

func TestResolveGPU(t *testing.T) {
	t.Run("usable", func(t *testing.T) {
		pr, _ := fixedProber(Probe{GPUPresent: true, GPUUsable: true})
		res, err := NewSelector(pr).Resolve(GPU)
		if err != nil {
			t.Fatal(err)
		}
		if res.Device != KindGPU {
			t.Errorf("device = %v, want cuda", res.Device)
		}
	})

	t.Run("unusable", func(t *testing.T) {
		pr, _ := fixedProber(Probe{GPUPresent: true, LastError: "missing cuda libraries: cudnn"})
		_, err := NewSelector(pr).Resolve(GPU)
		if !errors.Is(err, ErrGPUUnavailable) {
			t.Fatalf("err = %v, want ErrGPUUnavailable", err)
		}
	})
}

func TestResolveAutoFallsBackSilently(t *testing.T) {
	pr, _ := fixedProber(Probe{GPUPresent: false})
	s := NewSelector(pr)

	res, err := s.Resolve(Auto)
	if err != nil {
		t.Fatalf("auto must not fail: %v", err)
	}
	if res.Device != KindCPU || !res.Downgraded() {
		t.Errorf("got %+v, want downgraded cpu", res)
	}
	if s.Probe().LastError == "" {
		t.Error("fallback reason not recorded in probe")
	}
}

func TestProbeIsCached(t *testing.T) {
	pr, calls := fixedProber(Probe{GPUPresent: true, GPUUsable: true})
	s := NewSelector(pr)

	s.Resolve(Auto)
	s.Resolve(Auto)
	s.Probe()
	if *calls != 1 {
		t.Errorf("probed %d times, want 1", *calls)
	}

	s.Reprobe()
	if *calls != 2 {
		t.Errorf("Reprobe did not probe again (calls=%d)", *calls)
	}
}

func TestFallback(t *testing.T) {
	cause := errors.New("CUDA error: out of memory")

	t.Run("auto downgrades", func(t *testing.T) {
		pr, calls := fixedProber(Probe{GPUPresent: true, GPUUsable: true})
		s := NewSelector(pr)
		res, _ := s.Resolve(Auto)

		got, err := s.Fallback(res, cause)
		if err != nil {
			t.Fatal(err)
		}
		if got.Device != KindCPU || got.Intent != Auto {
			t.Errorf("got %+v", got)
		}

		// the cached probe must not be reused after a load failure
		p := s.Probe()
		if *calls != 2 {
			t.Errorf("probe not invalidated (calls=%d)", *calls)
		}
		if p.LastError != cause.Error() {
			t.Errorf("LastError = %q", p.LastError)
		}
	})

	t.Run("explicit gpu surfaces", func(t *testing.T) {
		pr, _ := fixedProber(Probe{GPUPresent: true, GPUUsable: true})
		s := NewSelector(pr)
		res, _ := s.Resolve(GPU)

		_, err := s.Fallback(res, cause)
		if !errors.Is(err, ErrGPUUnavailable) || !errors.Is(err, cause) {
			t.Errorf("err = %v, want both ErrGPUUnavailable and cause", err)
		}
	})
}

func TestFallbackSticksUntilReprobe(t *testing.T) {
	// the hardware checks keep passing after a runtime fault
	pr, _ := fixedProber(Probe{GPUPresent: true, GPUUsable: true})
	s := NewSelector(pr)

	res, _ := s.Resolve(Auto)
	if res.Device != KindGPU {
		t.Fatalf("first session on %v, want cuda", res.Device)
	}
	if _, err := s.Fallback(res, errors.New("CUDA error: cublas64_12.dll not found")); err != nil {
		t.Fatal(err)
	}

	for i := range 3 {
		res, err := s.Resolve(Auto)
		if err != nil {
			t.Fatal(err)
		}
		if res.Device != KindCPU || !res.Downgraded() {
			t.Errorf("session %d after fault: %+v, want downgraded cpu", i+2, res)
		}
	}
	if _, err := s.Resolve(GPU); !errors.Is(err, ErrGPUUnavailable) {
		t.Errorf("explicit gpu after fault: err = %v", err)
	}

	if p := s.Reprobe(); !p.GPUUsable {
		t.Fatalf("Reprobe kept the fault: %+v", p)
	}
	if res, _ := s.Resolve(Auto); res.Device != KindGPU {
		t.Errorf("after Reprobe on %v, want cuda", res.Device)
	}
}

func TestComputeTypes(t *testing.T) {
	gpu := ComputeTypes(KindGPU)
	if len(gpu) != 3 || gpu[0] != "float16" || gpu[2] != "int8" {
		t.Errorf("gpu chain = %v", gpu)
	}
	if cpu := ComputeTypes(KindCPU); len(cpu) != 1 || cpu[0] != "int8" {
		t.Errorf("cpu chain = %v", cpu)
	}
}

func TestSystemProberLibs(t *testing.T) {
	dir := t.TempDir()
	p := &SystemProber{LibsDir: dir, gpuPresent: func() (bool, error) { return true, nil }}

	got := p.Probe()
	if !got.GPUPresent || got.GPUUsable {
		t.Fatalf("without libs: %+v", got)
	}

	for _, f := range []string{
		".installed",
		"nvidia/cublas/lib/libcublas.so.12",
		"nvidia/cudnn/lib/libcudnn_ops.so.9",
	} {
		path := filepath.Join(dir, f)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}

	got = p.Probe()
	if !got.GPUUsable {
		t.Errorf("with libs: %+v", got)
	}
	info := p.Info()
	if !info.LibsInstalled || info.EstimatedDownloadMB != estimatedDownloadMB {
		t.Errorf("info = %+v", info)
	}
}

func TestSystemProberNoGPU(t *testing.T) {
	p := &SystemProber{LibsDir: t.TempDir(), gpuPresent: func() (bool, error) { return false, nil }}
	if got := p.Probe(); got.GPUPresent || got.GPUUsable {
		t.Errorf("got %+v", got)
	}
}
