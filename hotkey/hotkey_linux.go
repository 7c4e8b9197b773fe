//go:build linux

package hotkey

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	evKey      = 1
	keyPress   = 1
	keyRelease = 0
)

// input_event is 24 bytes on 64-bit Linux:
// timeval (16 bytes) + type (2) + code (2) + value (4)
const inputEventSize = 24

var modCodes = map[uint16]Modifier{
	29:  ModCtrl,  // KEY_LEFTCTRL
	97:  ModCtrl,  // KEY_RIGHTCTRL
	42:  ModShift, // KEY_LEFTSHIFT
	54:  ModShift, // KEY_RIGHTSHIFT
	56:  ModAlt,   // KEY_LEFTALT
	100: ModAlt,   // KEY_RIGHTALT
	125: ModSuper, // KEY_LEFTMETA
	126: ModSuper, // KEY_RIGHTMETA
}

var keyCodes = map[Key]uint16{
	KeyEscape: 1, KeyTab: 15, KeyEnter: 28, KeySpace: 57, KeyDelete: 111,
	KeyUp: 103, KeyLeft: 105, KeyRight: 106, KeyDown: 108,
	"1": 2, "2": 3, "3": 4, "4": 5, "5": 6, "6": 7, "7": 8, "8": 9, "9": 10, "0": 11,
	"Q": 16, "W": 17, "E": 18, "R": 19, "T": 20, "Y": 21, "U": 22, "I": 23, "O": 24, "P": 25,
	"A": 30, "S": 31, "D": 32, "F": 33, "G": 34, "H": 35, "J": 36, "K": 37, "L": 38,
	"Z": 44, "X": 45, "C": 46, "V": 47, "B": 48, "N": 49, "M": 50,
}

func keyCode(k Key) (uint16, bool) {
	if c, ok := keyCodes[k]; ok {
		return c, true
	}
	switch n := k.FunctionKey(); {
	case n >= 1 && n <= 10:
		return uint16(58 + n), true // KEY_F1 = 59
	case n == 11 || n == 12:
		return uint16(76 + n), true // KEY_F11 = 87
	case n >= 13 && n <= 20:
		return uint16(170 + n), true // KEY_F13 = 183
	}
	return 0, false
}

// matcher tracks modifier state for one keyboard and reports the press
// and release edges of a single shortcut.
type matcher struct {
	code uint16
	mods Modifier
	held map[uint16]bool
	down bool
}

func newMatcher(s Shortcut) (*matcher, error) {
	code, ok := keyCode(s.Key)
	if !ok {
		return nil, fmt.Errorf("key %s has no evdev code", s.Key)
	}
	return &matcher{code: code, mods: s.Mods, held: map[uint16]bool{}}, nil
}

func (m *matcher) heldMods() Modifier {
	var out Modifier
	for c, h := range m.held {
		if h {
			out |= modCodes[c]
		}
	}
	return out
}

// feed returns +1 on the press edge, -1 on the release edge, 0 otherwise.
// Autorepeat (value 2) is ignored.
func (m *matcher) feed(code uint16, value int32) int {
	if _, ok := modCodes[code]; ok {
		switch value {
		case keyPress:
			m.held[code] = true
		case keyRelease:
			m.held[code] = false
		}
		return 0
	}
	if code != m.code {
		return 0
	}
	switch {
	case value == keyPress && !m.down && m.heldMods() == m.mods:
		m.down = true
		return 1
	case value == keyRelease && m.down:
		m.down = false
		return -1
	}
	return 0
}

type linuxHotkey struct {
	shortcut Shortcut
	keydown  chan struct{}
	keyup    chan struct{}
	files    []*os.File
	stop     chan struct{}
	once     sync.Once
}

func newSystem(s Shortcut) (Hotkey, error) {
	if _, err := newMatcher(s); err != nil {
		return nil, err
	}
	return &linuxHotkey{
		shortcut: s,
		keydown:  make(chan struct{}, 1),
		keyup:    make(chan struct{}, 1),
	}, nil
}

func (h *linuxHotkey) Register() error {
	keyboards, err := findKeyboards()
	if err != nil {
		return fmt.Errorf("finding keyboards: %w", err)
	}
	if len(keyboards) == 0 {
		return fmt.Errorf("no keyboard devices found (is user in 'input' group?)")
	}

	h.stop = make(chan struct{})

	for _, path := range keyboards {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		h.files = append(h.files, f)
		m, _ := newMatcher(h.shortcut)
		go h.readEvents(f, m)
	}

	if len(h.files) == 0 {
		return fmt.Errorf("could not open any keyboard device (run: sudo usermod -aG input $USER, then re-login)")
	}

	return nil
}

func (h *linuxHotkey) readEvents(f *os.File, m *matcher) {
	buf := make([]byte, inputEventSize*16)

	for {
		select {
		case <-h.stop:
			return
		default:
		}

		n, err := f.Read(buf)
		if err != nil {
			return
		}

		for i := 0; i+inputEventSize <= n; i += inputEventSize {
			evType := binary.LittleEndian.Uint16(buf[i+16:])
			evCode := binary.LittleEndian.Uint16(buf[i+18:])
			evValue := int32(binary.LittleEndian.Uint32(buf[i+20:]))

			if evType != evKey {
				continue
			}

			ch := h.keyup
			switch m.feed(evCode, evValue) {
			case 0:
				continue
			case 1:
				ch = h.keydown
			}
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}
}

func (h *linuxHotkey) Unregister() {
	h.once.Do(func() {
		if h.stop != nil {
			close(h.stop)
		}
		for _, f := range h.files {
			f.Close()
		}
	})
}

func (h *linuxHotkey) Keydown() <-chan struct{} {
	return h.keydown
}

func (h *linuxHotkey) Keyup() <-chan struct{} {
	return h.keyup
}

func findKeyboards() ([]string, error) {
	entries, err := os.ReadDir("/dev/input")
	if err != nil {
		return nil, err
	}

	var keyboards []string
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "event") {
			continue
		}
		if isKeyboard(e.Name()) {
			keyboards = append(keyboards, filepath.Join("/dev/input", e.Name()))
		}
	}
	return keyboards, nil
}

func isKeyboard(eventName string) bool {
	capsPath := filepath.Join("/sys/class/input", eventName, "device", "capabilities", "key")
	data, err := os.ReadFile(capsPath)
	if err != nil {
		return false
	}
	caps := strings.TrimSpace(string(data))
	return len(caps) > 10
}

func Diagnose() (string, error) {
	keyboards, err := findKeyboards()
	if err != nil {
		return "", fmt.Errorf("cannot scan input devices: %w", err)
	}
	if len(keyboards) == 0 {
		return "", fmt.Errorf("no keyboard devices found (is user in 'input' group?)")
	}

	var opened string
	for _, path := range keyboards {
		f, err := os.Open(path)
		if err == nil {
			f.Close()
			opened = path
			break
		}
	}
	if opened == "" {
		return "", fmt.Errorf("found %d keyboard(s) but cannot open any (run: sudo usermod -aG input $USER)", len(keyboards))
	}

	return fmt.Sprintf("%d keyboard(s) found, opened %s", len(keyboards), opened), nil
}
