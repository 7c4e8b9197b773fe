//go:build linux

package device

import "os"

func detectGPU() (bool, error) {
	for _, path := range []string{"/proc/driver/nvidia/version", "/dev/nvidia0"} {
		if _, err := os.Stat(path); err == nil {
			return true, nil
		}
	}
	return false, nil
}
