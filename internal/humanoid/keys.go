// File: internal/humanoid/keys.go
package humanoid

import (
	"fmt"
	"runtime"
	"unicode/utf8"
)

// UnknownKeyError is returned when a key name has no remote encoding.
type UnknownKeyError struct {
	Key string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("Unknown key: %q", e.Key)
}

// keyTable maps symbolic key names to the WebDriver key encoding.
// Printable keys map to the character they produce without modifiers.
var keyTable = map[string]string{
	"Cancel":         "\uE001",
	"Help":           "\uE002",
	"Backspace":      "\uE003",
	"Tab":            "\uE004",
	"Clear":          "\uE005",
	"Enter":          "\uE007",
	"Shift":          "\uE008",
	"ShiftLeft":      "\uE008",
	"Control":        "\uE009",
	"ControlLeft":    "\uE009",
	"Ctrl":           "\uE009",
	"Alt":            "\uE00A",
	"AltLeft":        "\uE00A",
	"Pause":          "\uE00B",
	"Escape":         "\uE00C",
	"PageUp":         "\uE00E",
	"PageDown":       "\uE00F",
	"End":            "\uE010",
	"Home":           "\uE011",
	"ArrowLeft":      "\uE012",
	"ArrowUp":        "\uE013",
	"ArrowRight":     "\uE014",
	"ArrowDown":      "\uE015",
	"Insert":         "\uE016",
	"Delete":         "\uE017",
	"NumpadEqual":    "\uE019",
	"Numpad0":        "\uE01A",
	"Numpad1":        "\uE01B",
	"Numpad2":        "\uE01C",
	"Numpad3":        "\uE01D",
	"Numpad4":        "\uE01E",
	"Numpad5":        "\uE01F",
	"Numpad6":        "\uE020",
	"Numpad7":        "\uE021",
	"Numpad8":        "\uE022",
	"Numpad9":        "\uE023",
	"NumpadMultiply": "\uE024",
	"NumpadAdd":      "\uE025",
	"NumpadSubtract": "\uE027",
	"NumpadDecimal":  "\uE028",
	"NumpadDivide":   "\uE029",
	"F1":             "\uE031",
	"F2":             "\uE032",
	"F3":             "\uE033",
	"F4":             "\uE034",
	"F5":             "\uE035",
	"F6":             "\uE036",
	"F7":             "\uE037",
	"F8":             "\uE038",
	"F9":             "\uE039",
	"F10":            "\uE03A",
	"F11":            "\uE03B",
	"F12":            "\uE03C",
	"Meta":           "\uE03D",
	"MetaLeft":       "\uE03D",
	"ShiftRight":     "\uE050",
	"ControlRight":   "\uE051",
	"AltRight":       "\uE052",
	"MetaRight":      "\uE053",
	"Semicolon":      ";",
	"Equal":          "=",
	"Comma":          ",",
	"Minus":          "-",
	"Period":         ".",
	"Slash":          "/",
	"Backquote":      "`",
	"BracketLeft":    "[",
	"Backslash":      `\`,
	"BracketRight":   "]",
	"Quote":          `"`,
}

func init() {
	for c := '0'; c <= '9'; c++ {
		keyTable["Digit"+string(c)] = string(c)
	}
	for c := 'a'; c <= 'z'; c++ {
		keyTable["Key"+string(c-'a'+'A')] = string(c)
	}
}

// ConvertKey maps a key name to its remote encoding for the current platform.
func ConvertKey(key string) (string, error) {
	return ConvertKeyFor(runtime.GOOS, key)
}

// ConvertKeyFor maps a key name for the given GOOS. A single character is passed through verbatim.
// ControlOrMeta resolves to Meta on darwin and Control elsewhere.
func ConvertKeyFor(goos, key string) (string, error) {
	if utf8.RuneCountInString(key) == 1 {
		return key, nil
	}
	switch key {
	case "ControlOrMeta", "CtrlOrMeta":
		if goos == "darwin" {
			return "\uE03D", nil
		}
		return "\uE009", nil
	}
	if v, ok := keyTable[key]; ok {
		return v, nil
	}
	return "", &UnknownKeyError{Key: key}
}
