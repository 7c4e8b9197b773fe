package clipboard

import "github.com/micmonay/keybd_event"

const (
	settleDelay = 0
	chordName   = "Cmd+V"
)

func setChordModifier(kb *keybd_event.KeyBonding) {
	kb.HasSuper(true)
}
