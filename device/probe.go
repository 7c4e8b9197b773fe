package device

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Approximate size of the CUDA runtime libraries a user has to fetch.
const estimatedDownloadMB = 600

// Library patterns required for GPU inference, relative to the libs dir.
var requiredLibs = map[string][]string{
	"cublas": {"nvidia/cublas/lib/libcublas.so*", "nvidia/cublas/bin/cublas64*.dll"},
	"cudnn":  {"nvidia/cudnn/lib/libcudnn_ops*.so*", "nvidia/cudnn/bin/cudnn_ops64*.dll"},
}

// Info is what the settings surface shows about GPU support.
type Info struct {
	GPUAvailable        bool   `json:"gpu_available"`
	LibsInstalled       bool   `json:"libs_installed"`
	LibsDir             string `json:"libs_dir"`
	EstimatedDownloadMB int    `json:"estimated_download_size_mb"`
}

// SystemProber inspects the host for an NVIDIA GPU and the CUDA libraries
// the model server needs.
type SystemProber struct {
	LibsDir string

	// overridable in tests
	gpuPresent func() (bool, error)
}

func NewSystemProber(libsDir string) *SystemProber {
	return &SystemProber{LibsDir: libsDir, gpuPresent: detectGPU}
}

// DefaultLibsDir is where downloaded CUDA libraries are expected.
func DefaultLibsDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "gpu_libs"
	}
	return filepath.Join(dir, "whisperkey", "gpu_libs")
}

func (p *SystemProber) Probe() Probe {
	out := Probe{ProbedAt: time.Now()}

	present, err := p.gpuPresent()
	if err != nil {
		out.LastError = fmt.Sprintf("gpu detection failed: %v", err)
		return out
	}
	out.GPUPresent = present
	if !present {
		return out
	}

	if missing := p.missingLibs(); len(missing) > 0 {
		out.LastError = "missing cuda libraries: " + strings.Join(missing, ", ")
		return out
	}
	out.GPUUsable = true
	return out
}

func (p *SystemProber) Info() Info {
	present, _ := p.gpuPresent()
	return Info{
		GPUAvailable:        present,
		LibsInstalled:       len(p.missingLibs()) == 0,
		LibsDir:             p.LibsDir,
		EstimatedDownloadMB: estimatedDownloadMB,
	}
}

func (p *SystemProber) missingLibs() []string {
	if _, err := os.Stat(filepath.Join(p.LibsDir, ".installed")); err != nil {
		return []string{"install marker"}
	}

	var missing []string
	for _, name := range []string{"cublas", "cudnn"} {
		found := false
		for _, pattern := range requiredLibs[name] {
			if m, _ := filepath.Glob(filepath.Join(p.LibsDir, pattern)); len(m) > 0 {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, name)
		}
	}
	return missing
}
