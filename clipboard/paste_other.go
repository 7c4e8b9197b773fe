//go:build !darwin

package clipboard

import (
	"runtime"
	"time"

	"github.com/micmonay/keybd_event"
)

const chordName = "Ctrl+V"

var settleDelay = func() time.Duration {
	if runtime.GOOS == "linux" {
		return 2 * time.Second
	}
	return 0
}()

func setChordModifier(kb *keybd_event.KeyBonding) {
	kb.HasCTRL(true)
}
