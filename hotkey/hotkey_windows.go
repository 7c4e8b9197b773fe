package hotkey

import "golang.design/x/hotkey"

var platformMods = map[Modifier]hotkey.Modifier{
	ModCtrl:  hotkey.ModCtrl,
	ModAlt:   hotkey.ModAlt,
	ModShift: hotkey.ModShift,
	ModSuper: hotkey.ModWin,
}
