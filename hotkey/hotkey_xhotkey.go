//go:build darwin || windows

package hotkey

import (
	"fmt"

	"golang.design/x/hotkey"
)

type xHotkey struct {
	hk      *hotkey.Hotkey
	keydown chan struct{}
	keyup   chan struct{}
	stop    chan struct{}
}

func newSystem(s Shortcut) (Hotkey, error) {
	key, err := xKey(s.Key)
	if err != nil {
		return nil, err
	}
	return &xHotkey{
		hk:      hotkey.New(xMods(s.Mods), key),
		keydown: make(chan struct{}, 1),
		keyup:   make(chan struct{}, 1),
	}, nil
}

func (h *xHotkey) Register() error {
	if err := h.hk.Register(); err != nil {
		return err
	}
	h.stop = make(chan struct{})
	go pump(h.hk.Keydown(), h.keydown, h.stop)
	go pump(h.hk.Keyup(), h.keyup, h.stop)
	return nil
}

func pump(src <-chan hotkey.Event, dst chan struct{}, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case _, ok := <-src:
			if !ok {
				return
			}
			select {
			case dst <- struct{}{}:
			default:
			}
		}
	}
}

func (h *xHotkey) Unregister() {
	if h.stop != nil {
		close(h.stop)
		h.stop = nil
	}
	h.hk.Unregister()
}

func (h *xHotkey) Keydown() <-chan struct{} { return h.keydown }
func (h *xHotkey) Keyup() <-chan struct{}   { return h.keyup }

var xKeys = map[Key]hotkey.Key{
	KeySpace: hotkey.KeySpace, KeyEnter: hotkey.KeyReturn, KeyEscape: hotkey.KeyEscape,
	KeyTab: hotkey.KeyTab, KeyDelete: hotkey.KeyDelete,
	KeyUp: hotkey.KeyUp, KeyDown: hotkey.KeyDown, KeyLeft: hotkey.KeyLeft, KeyRight: hotkey.KeyRight,
	"A": hotkey.KeyA, "B": hotkey.KeyB, "C": hotkey.KeyC, "D": hotkey.KeyD, "E": hotkey.KeyE,
	"F": hotkey.KeyF, "G": hotkey.KeyG, "H": hotkey.KeyH, "I": hotkey.KeyI, "J": hotkey.KeyJ,
	"K": hotkey.KeyK, "L": hotkey.KeyL, "M": hotkey.KeyM, "N": hotkey.KeyN, "O": hotkey.KeyO,
	"P": hotkey.KeyP, "Q": hotkey.KeyQ, "R": hotkey.KeyR, "S": hotkey.KeyS, "T": hotkey.KeyT,
	"U": hotkey.KeyU, "V": hotkey.KeyV, "W": hotkey.KeyW, "X": hotkey.KeyX, "Y": hotkey.KeyY,
	"Z": hotkey.KeyZ,
	"0": hotkey.Key0, "1": hotkey.Key1, "2": hotkey.Key2, "3": hotkey.Key3, "4": hotkey.Key4,
	"5": hotkey.Key5, "6": hotkey.Key6, "7": hotkey.Key7, "8": hotkey.Key8, "9": hotkey.Key9,
	"F1": hotkey.KeyF1, "F2": hotkey.KeyF2, "F3": hotkey.KeyF3, "F4": hotkey.KeyF4,
	"F5": hotkey.KeyF5, "F6": hotkey.KeyF6, "F7": hotkey.KeyF7, "F8": hotkey.KeyF8,
	"F9": hotkey.KeyF9, "F10": hotkey.KeyF10, "F11": hotkey.KeyF11, "F12": hotkey.KeyF12,
	"F13": hotkey.KeyF13, "F14": hotkey.KeyF14, "F15": hotkey.KeyF15, "F16": hotkey.KeyF16,
	"F17": hotkey.KeyF17, "F18": hotkey.KeyF18, "F19": hotkey.KeyF19, "F20": hotkey.KeyF20,
}

func xKey(k Key) (hotkey.Key, error) {
	if v, ok := xKeys[k]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("key %s not supported by the system hotkey backend", k)
}

func xMods(m Modifier) []hotkey.Modifier {
	var out []hotkey.Modifier
	for _, mm := range modNames {
		if m&mm.mod != 0 {
			out = append(out, platformMods[mm.mod])
		}
	}
	return out
}

func Diagnose() (string, error) {
	return "system hotkey support available", nil
}
