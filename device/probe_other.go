//go:build !linux && !windows

package device

// No CUDA outside Linux and Windows.
func detectGPU() (bool, error) {
	return false, nil
}
