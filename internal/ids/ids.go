// Package ids defines the closed peripheral identifier enumerations shared
// by the hub, both transports, and the config file format.
package ids

import "fmt"

// ButtonId names one of the chassis push buttons.
type ButtonId int

const (
	ButtonPower ButtonId = iota
	ButtonReset
	ButtonClear
)

// AllButtons lists every ButtonId in a stable order.
var AllButtons = []ButtonId{ButtonPower, ButtonReset, ButtonClear}

func (b ButtonId) String() string {
	switch b {
	case ButtonPower:
		return "power"
	case ButtonReset:
		return "reset"
	case ButtonClear:
		return "clear"
	default:
		return fmt.Sprintf("button(%d)", int(b))
	}
}

// ParseButtonId parses the kebab-case wire form of a ButtonId.
func ParseButtonId(s string) (ButtonId, error) {
	for _, b := range AllButtons {
		if b.String() == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown button id: %q", s)
}

func (b ButtonId) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

func (b *ButtonId) UnmarshalText(text []byte) error {
	v, err := ParseButtonId(string(text))
	if err != nil {
		return err
	}
	*b = v
	return nil
}

// LedId names one of the chassis status LEDs.
type LedId int

const (
	LedPower LedId = iota
	LedDisk
	LedEther
)

// AllLeds lists every LedId in a stable order.
var AllLeds = []LedId{LedPower, LedDisk, LedEther}

func (l LedId) String() string {
	switch l {
	case LedPower:
		return "power"
	case LedDisk:
		return "disk"
	case LedEther:
		return "ether"
	default:
		return fmt.Sprintf("led(%d)", int(l))
	}
}

// ParseLedId parses the kebab-case wire form of a LedId.
func ParseLedId(s string) (LedId, error) {
	for _, l := range AllLeds {
		if l.String() == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown led id: %q", s)
}

func (l LedId) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

func (l *LedId) UnmarshalText(text []byte) error {
	v, err := ParseLedId(string(text))
	if err != nil {
		return err
	}
	*l = v
	return nil
}
