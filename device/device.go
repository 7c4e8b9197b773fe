// Package device decides which compute backend runs the speech model.
//
// Resolution is two explicit steps. Resolve maps the user's Intent to a
// concrete Kind using a cached Probe. Fallback is consulted after a GPU
// failure and either downgrades an Auto session to CPU or reports the
// failure for an explicit GPU request.
package device

import (
	"errors"
	"fmt"
	"strings"
)

// Intent is what the user asked for.
type Intent int

const (
	Auto Intent = iota
	CPU
	GPU
)

func (i Intent) String() string {
	switch i {
	case CPU:
		return "cpu"
	case GPU:
		return "gpu"
	default:
		return "auto"
	}
}

// ParseIntent accepts "auto", "cpu", "gpu" and "cuda". An empty string is Auto.
func ParseIntent(s string) (Intent, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return Auto, nil
	case "cpu":
		return CPU, nil
	case "gpu", "cuda":
		return GPU, nil
	}
	return Auto, fmt.Errorf("unknown device %q (want auto, cpu or gpu)", s)
}

func (i Intent) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *Intent) UnmarshalText(b []byte) error {
	v, err := ParseIntent(string(b))
	if err != nil {
		return err
	}
	*i = v
	return nil
}

// Kind is the backend a model actually runs on.
type Kind int

const (
	KindCPU Kind = iota
	KindGPU
)

func (k Kind) String() string {
	if k == KindGPU {
		return "cuda"
	}
	return "cpu"
}

func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

var ErrGPUUnavailable = errors.New("gpu unavailable")

// Resolution keeps the requested intent next to the resolved device so
// later failures can be judged against what the user asked for.
type Resolution struct {
	Intent         Intent
	Device         Kind
	FallbackReason string
}

// Downgraded reports whether an Auto request ended up on CPU because the
// GPU could not be used.
func (r Resolution) Downgraded() bool {
	return r.Intent == Auto && r.Device == KindCPU && r.FallbackReason != ""
}

// ComputeTypes lists the precisions to try, best first.
func ComputeTypes(k Kind) []string {
	if k == KindGPU {
		return []string{"float16", "int8_float16", "int8"}
	}
	return []string{"int8"}
}
