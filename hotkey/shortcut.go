package hotkey

import (
	"errors"
	"fmt"
	"strings"
)

type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
	ModSuper
)

var modNames = []struct {
	mod  Modifier
	name string
}{
	{ModCtrl, "Ctrl"},
	{ModAlt, "Alt"},
	{ModShift, "Shift"},
	{ModSuper, "Super"},
}

var modAliases = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"shift":   ModShift,
	"alt":     ModAlt,
	"option":  ModAlt,
	"super":   ModSuper,
	"win":     ModSuper,
	"cmd":     ModSuper,
	"meta":    ModSuper,
}

// Key is the canonical name of a non-modifier key, e.g. "R", "F9", "Space".
type Key string

const (
	KeySpace  Key = "Space"
	KeyEnter  Key = "Enter"
	KeyEscape Key = "Escape"
	KeyTab    Key = "Tab"
	KeyDelete Key = "Delete"
	KeyUp     Key = "Up"
	KeyDown   Key = "Down"
	KeyLeft   Key = "Left"
	KeyRight  Key = "Right"
)

var keyAliases = map[string]Key{
	"space":  KeySpace,
	"enter":  KeyEnter,
	"return": KeyEnter,
	"esc":    KeyEscape,
	"escape": KeyEscape,
	"tab":    KeyTab,
	"delete": KeyDelete,
	"del":    KeyDelete,
	"up":     KeyUp,
	"down":   KeyDown,
	"left":   KeyLeft,
	"right":  KeyRight,
}

func parseKey(tok string) (Key, bool) {
	lower := strings.ToLower(tok)
	if k, ok := keyAliases[lower]; ok {
		return k, true
	}
	if len(lower) == 1 {
		c := lower[0]
		if c >= 'a' && c <= 'z' {
			return Key(strings.ToUpper(lower)), true
		}
		if c >= '0' && c <= '9' {
			return Key(lower), true
		}
	}
	var n int
	if _, err := fmt.Sscanf(lower, "f%d", &n); err == nil && fmt.Sprintf("f%d", n) == lower && n >= 1 && n <= 20 {
		return Key(fmt.Sprintf("F%d", n)), true
	}
	return "", false
}

// FunctionKey returns n for "F<n>", or 0.
func (k Key) FunctionKey() int {
	var n int
	if _, err := fmt.Sscanf(string(k), "F%d", &n); err != nil {
		return 0
	}
	return n
}

// Shortcut is a parsed key combination.
type Shortcut struct {
	Mods Modifier
	Key  Key
}

var ErrEmptyShortcut = errors.New("empty shortcut")

// Parse reads a '+' separated, case-insensitive descriptor such as
// "ctrl+shift+r" or "F9".
func Parse(s string) (Shortcut, error) {
	var sc Shortcut
	if strings.TrimSpace(s) == "" {
		return sc, ErrEmptyShortcut
	}
	for _, raw := range strings.Split(s, "+") {
		tok := strings.TrimSpace(raw)
		if tok == "" {
			return Shortcut{}, fmt.Errorf("shortcut %q: empty key name", s)
		}
		if m, ok := modAliases[strings.ToLower(tok)]; ok {
			if sc.Mods&m != 0 {
				return Shortcut{}, fmt.Errorf("shortcut %q: duplicate modifier %s", s, tok)
			}
			sc.Mods |= m
			continue
		}
		k, ok := parseKey(tok)
		if !ok {
			return Shortcut{}, fmt.Errorf("shortcut %q: unknown key %q", s, tok)
		}
		if sc.Key != "" {
			return Shortcut{}, fmt.Errorf("shortcut %q: more than one key (%s and %s)", s, sc.Key, k)
		}
		sc.Key = k
	}
	if sc.Key == "" {
		return Shortcut{}, fmt.Errorf("shortcut %q: modifiers without a key", s)
	}
	return sc, nil
}

// String renders the canonical form, modifiers in Ctrl, Alt, Shift, Super order.
func (s Shortcut) String() string {
	var parts []string
	for _, m := range modNames {
		if s.Mods&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	return strings.Join(append(parts, string(s.Key)), "+")
}

func (s Shortcut) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Shortcut) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
