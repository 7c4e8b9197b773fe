//go:build windows

package device

import (
	"context"
	"os/exec"
	"strings"
	"time"
)

func detectGPU() (bool, error) {
	path, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, "-L").Output()
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(string(out)), "gpu"), nil
}
