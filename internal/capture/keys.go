package capture

import (
	"strings"
	"unicode"
)

// PasswordMask replaces the value of password fields.
const PasswordMask = "********"

var significantKeys = map[string]bool{
	"Enter":      true,
	"Tab":        true,
	"Escape":     true,
	"ArrowUp":    true,
	"ArrowDown":  true,
	"ArrowLeft":  true,
	"ArrowRight": true,
	"Home":       true,
	"End":        true,
	"PageUp":     true,
	"PageDown":   true,
	"Backspace":  true,
	"Delete":     true,
}

// NormalizeKey maps a keydown to the key recorded in a step. Significant keys
// are kept as is; Ctrl/Meta with one alphanumeric character becomes
// "CmdOrCtrl+<UPPER>". Everything else is ignored.
func NormalizeKey(key string, ctrlOrMeta bool) (string, bool) {
	if significantKeys[key] {
		return key, true
	}
	if !ctrlOrMeta {
		return "", false
	}
	r := []rune(key)
	if len(r) != 1 || r[0] > unicode.MaxASCII {
		return "", false
	}
	if !unicode.IsLetter(r[0]) && !unicode.IsDigit(r[0]) {
		return "", false
	}
	return "CmdOrCtrl+" + strings.ToUpper(key), true
}

func maskValue(t *Target) string {
	if strings.EqualFold(t.InputType, "password") {
		return PasswordMask
	}
	return t.Value
}
