package openalo

import (
	"strings"
	"unicode/utf8"
)

// keyAliases maps common spellings onto canonical GDK key names.
var keyAliases = map[string]string{
	"return":    "Return",
	"enter":     "Return",
	"escape":    "Escape",
	"esc":       "Escape",
	"tab":       "Tab",
	"space":     "space",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"del":       "Delete",
	"home":      "Home",
	"end":       "End",
	"pageup":    "Page_Up",
	"pagedown":  "Page_Down",
	"left":      "Left",
	"right":     "Right",
	"up":        "Up",
	"down":      "Down",
	"ctrl":      "Control",
	"control":   "Control",
	"alt":       "Alt",
	"shift":     "Shift",
	"super":     "Super",
	"win":       "Super",
	"cmd":       "Super",
	"command":   "Super",
}

// keysyms maps canonical control-key names onto X11 keysyms.
var keysyms = map[string]int32{
	"Return":    0xFF0D,
	"Escape":    0xFF1B,
	"Tab":       0xFF09,
	"BackSpace": 0xFF08,
	"Delete":    0xFFFF,
	"Home":      0xFF50,
	"End":       0xFF57,
	"Page_Up":   0xFF55,
	"Page_Down": 0xFF56,
	"Left":      0xFF51,
	"Up":        0xFF52,
	"Right":     0xFF53,
	"Down":      0xFF54,
	"Control":   0xFFE3,
	"Alt":       0xFFE9,
	"Shift":     0xFFE1,
	"Super":     0xFFEB,
	"space":     0x0020,
	" ":         0x0020,
}

// NormalizeKey canonicalizes a key name: "enter" and "return" become
// "Return", "ctrl" becomes "Control", and so on. Names with no alias
// pass through unchanged.
func NormalizeKey(name string) string {
	if canonical, ok := keyAliases[strings.ToLower(name)]; ok {
		return canonical
	}
	return name
}

// Keysym maps a canonical key name onto its X11 keysym. Control keys
// come from a fixed table; any other single character maps to its
// Unicode code point. Unknown multi-character names map to zero, which
// the compositor treats as a no-op.
func Keysym(name string) int32 {
	if sym, ok := keysyms[name]; ok {
		return sym
	}
	if utf8.RuneCountInString(name) == 1 {
		r, _ := utf8.DecodeRuneInString(name)
		return int32(r)
	}
	return 0
}
