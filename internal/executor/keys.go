package executor

import (
	"fmt"
	"runtime"
	"strings"
)

// Modifiers is a bit set using the DevTools protocol values.
type Modifiers int64

const (
	ModifierAlt   Modifiers = 1
	ModifierCtrl  Modifiers = 2
	ModifierMeta  Modifiers = 4
	ModifierShift Modifiers = 8
)

// KeyDefinition describes one physical key.
type KeyDefinition struct {
	Key     string `json:"key"`
	Code    string `json:"code"`
	KeyCode int64  `json:"keyCode"`
	Text    string `json:"text,omitempty"`
}

var namedKeys = map[string]KeyDefinition{
	"Enter":      {Key: "Enter", Code: "Enter", KeyCode: 13, Text: "\r"},
	"Tab":        {Key: "Tab", Code: "Tab", KeyCode: 9},
	"Escape":     {Key: "Escape", Code: "Escape", KeyCode: 27},
	"Backspace":  {Key: "Backspace", Code: "Backspace", KeyCode: 8},
	"Delete":     {Key: "Delete", Code: "Delete", KeyCode: 46},
	"ArrowUp":    {Key: "ArrowUp", Code: "ArrowUp", KeyCode: 38},
	"ArrowDown":  {Key: "ArrowDown", Code: "ArrowDown", KeyCode: 40},
	"ArrowLeft":  {Key: "ArrowLeft", Code: "ArrowLeft", KeyCode: 37},
	"ArrowRight": {Key: "ArrowRight", Code: "ArrowRight", KeyCode: 39},
	"Home":       {Key: "Home", Code: "Home", KeyCode: 36},
	"End":        {Key: "End", Code: "End", KeyCode: 35},
	"PageUp":     {Key: "PageUp", Code: "PageUp", KeyCode: 33},
	"PageDown":   {Key: "PageDown", Code: "PageDown", KeyCode: 34},
	" ":          {Key: " ", Code: "Space", KeyCode: 32, Text: " "},
}

// aliases maps loosely written key names to their canonical form.
var aliases = map[string]string{
	"return":   "Enter",
	"enter":    "Enter",
	"esc":      "Escape",
	"escape":   "Escape",
	"tab":      "Tab",
	"del":      "Delete",
	"delete":   "Delete",
	"back":     "Backspace",
	"space":    " ",
	"up":       "ArrowUp",
	"down":     "ArrowDown",
	"left":     "ArrowLeft",
	"right":    "ArrowRight",
	"pageup":   "PageUp",
	"pagedown": "PageDown",
	"home":     "Home",
	"end":      "End",
}

var modifierNames = map[string]Modifiers{
	"alt":     ModifierAlt,
	"option":  ModifierAlt,
	"ctrl":    ModifierCtrl,
	"control": ModifierCtrl,
	"meta":    ModifierMeta,
	"cmd":     ModifierMeta,
	"command": ModifierMeta,
	"shift":   ModifierShift,
}

// cmdOrCtrl is Meta on macOS and Control elsewhere.
func cmdOrCtrl() Modifiers {
	if runtime.GOOS == "darwin" {
		return ModifierMeta
	}
	return ModifierCtrl
}

// ParseKey turns a recorded key such as "Enter" or "CmdOrCtrl+A" into a key
// definition and its modifier set.
func ParseKey(key string) (KeyDefinition, Modifiers, error) {
	if key == "" {
		return KeyDefinition{}, 0, fmt.Errorf("empty key")
	}
	parts := []string{key}
	if key != "+" && strings.Contains(key, "+") {
		parts = strings.Split(key, "+")
	}

	var mods Modifiers
	for _, p := range parts[:len(parts)-1] {
		name := strings.ToLower(strings.TrimSpace(p))
		switch {
		case name == "cmdorctrl" || name == "commandorcontrol":
			mods |= cmdOrCtrl()
		case modifierNames[name] != 0:
			mods |= modifierNames[name]
		default:
			return KeyDefinition{}, 0, fmt.Errorf("unknown modifier %q in %q", p, key)
		}
	}

	def, ok := LookupKey(parts[len(parts)-1])
	if !ok {
		return KeyDefinition{}, 0, fmt.Errorf("unknown key %q", key)
	}
	if mods&(ModifierCtrl|ModifierMeta|ModifierAlt) != 0 {
		def.Text = ""
	}
	return def, mods, nil
}

// LookupKey returns the definition of a single key name.
func LookupKey(name string) (KeyDefinition, bool) {
	if def, ok := namedKeys[name]; ok {
		return def, true
	}
	if canonical, ok := aliases[strings.ToLower(name)]; ok {
		return namedKeys[canonical], true
	}
	r := []rune(name)
	if len(r) != 1 || r[0] > 0x7e || r[0] < 0x20 {
		return KeyDefinition{}, false
	}
	c := r[0]
	switch {
	case c >= 'a' && c <= 'z':
		return KeyDefinition{Key: name, Code: "Key" + strings.ToUpper(name), KeyCode: int64(c - 'a' + 'A'), Text: name}, true
	case c >= 'A' && c <= 'Z':
		return KeyDefinition{Key: name, Code: "Key" + name, KeyCode: int64(c), Text: name}, true
	case c >= '0' && c <= '9':
		return KeyDefinition{Key: name, Code: "Digit" + name, KeyCode: int64(c), Text: name}, true
	}
	return KeyDefinition{Key: name, Text: name}, true
}
