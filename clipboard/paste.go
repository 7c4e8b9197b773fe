package clipboard

import (
	"sync"
	"time"

	"github.com/micmonay/keybd_event"
)

// KeyPaster sends the platform paste chord through a virtual keyboard.
type KeyPaster struct {
	once sync.Once
	kb   keybd_event.KeyBonding
	err  error
}

func (p *KeyPaster) init() error {
	p.once.Do(func() {
		p.kb, p.err = keybd_event.NewKeyBonding()
		if p.err == nil && settleDelay > 0 {
			// The compositor needs time to pick up the new uinput device.
			time.Sleep(settleDelay)
		}
	})
	return p.err
}

func (p *KeyPaster) Paste() error {
	if err := p.init(); err != nil {
		return err
	}
	p.kb.Clear()
	p.kb.SetKeys(keybd_event.VK_V)
	setChordModifier(&p.kb)
	return p.kb.Launching()
}

// Verify checks that the virtual keyboard can be created.
func (p *KeyPaster) Verify() (string, error) {
	if err := p.init(); err != nil {
		return "", err
	}
	return "keyboard event binding OK (" + chordName + ")", nil
}
